package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/snr-decider/mapping"
)

var t0 = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return t0.Add(time.Duration(sec * float64(time.Second)))
}

// stubPhy records everything the decider sends through it.
type stubPhy struct {
	now time.Time

	sentUp      []*Signal
	results     []Result
	controls    []*SenseRequest
	rescheduled map[string]time.Time
	cancelled   []string
}

func newStubPhy(now time.Time) *stubPhy {
	return &stubPhy{now: now, rescheduled: make(map[string]time.Time)}
}

func (p *stubPhy) Now() time.Time { return p.now }

func (p *stubPhy) SendUp(_ context.Context, sig *Signal, res Result) {
	p.sentUp = append(p.sentUp, sig)
	p.results = append(p.results, res)
}

func (p *stubPhy) SendControl(_ context.Context, req *SenseRequest) {
	p.controls = append(p.controls, req)
}

func (p *stubPhy) RescheduleSense(req *SenseRequest, at time.Time) {
	p.rescheduled[req.ID] = at
}

func (p *stubPhy) CancelSense(req *SenseRequest) {
	p.cancelled = append(p.cancelled, req.ID)
}

// stubMedium serves fixed functions regardless of the interval asked for.
type stubMedium struct {
	rssi mapping.Mapping
	snr  mapping.Mapping
}

func (m *stubMedium) RSSI(from, to time.Time) mapping.Mapping { return m.rssi }
func (m *stubMedium) SNR(*Signal) mapping.Mapping             { return m.snr }

type stubMetrics struct {
	arrivals   map[ArrivalOutcome]int
	decoded    int
	dropped    int
	senseWaits []time.Duration
}

func newStubMetrics() *stubMetrics {
	return &stubMetrics{arrivals: make(map[ArrivalOutcome]int)}
}

func (m *stubMetrics) ObserveArrival(o ArrivalOutcome) { m.arrivals[o]++ }
func (m *stubMetrics) ObserveReception(decoded bool) {
	if decoded {
		m.decoded++
	} else {
		m.dropped++
	}
}
func (m *stubMetrics) ObserveSenseAnswer(_ SenseMode, wait time.Duration) {
	m.senseWaits = append(m.senseWaits, wait)
}

func hold(points ...mapping.Breakpoint) *mapping.Function {
	return mapping.MustNew(points, mapping.Hold)
}

func bp(sec, v float64) mapping.Breakpoint {
	return mapping.Breakpoint{At: at(sec), Value: v}
}

func newTestDecider(t *testing.T, phy *stubPhy, medium *stubMedium, opts ...Option) *Decider {
	t.Helper()
	d, err := NewDecider(phy, medium, Thresholds{Sensitivity: 1, SNRThreshold: 5}, opts...)
	if err != nil {
		t.Fatalf("NewDecider: %v", err)
	}
	return d
}

func expectPanic(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("expected panic wrapping %v", target)
		}
		err, ok := r.(error)
		if !ok || !errors.Is(err, target) {
			t.Fatalf("panic = %v, want error wrapping %v", r, target)
		}
	}()
	fn()
}

func TestNewDeciderValidates(t *testing.T) {
	phy := newStubPhy(t0)
	medium := &stubMedium{}
	if _, err := NewDecider(nil, medium, Thresholds{}); err == nil {
		t.Fatalf("expected error for nil phy")
	}
	if _, err := NewDecider(phy, nil, Thresholds{}); err == nil {
		t.Fatalf("expected error for nil medium")
	}
	if _, err := NewDecider(phy, medium, Thresholds{Sensitivity: -1}); err == nil {
		t.Fatalf("expected error for negative sensitivity")
	}
}

func TestArrivalBelowSensitivityRejected(t *testing.T) {
	phy := newStubPhy(at(0))
	metrics := newStubMetrics()
	d := newTestDecider(t, phy, &stubMedium{rssi: mapping.Constant(0)}, WithMetrics(metrics))

	sig := NewSignal(at(0), time.Second, hold(bp(0, 0.5), bp(0.5, 50)))
	dec := d.OnSignalArrival(context.Background(), sig)

	if dec.Kind() != DecisionNotAgain {
		t.Fatalf("decision = %v, want not-again", dec)
	}
	if d.Receiving() {
		t.Fatalf("slot occupied after rejecting a weak signal")
	}
	if metrics.arrivals[ArrivalTooWeak] != 1 {
		t.Fatalf("too_weak arrivals = %d, want 1", metrics.arrivals[ArrivalTooWeak])
	}
}

func TestArrivalAtSensitivityAccepted(t *testing.T) {
	phy := newStubPhy(at(0))
	d := newTestDecider(t, phy, &stubMedium{rssi: mapping.Constant(0)})

	sig := NewSignal(at(0), 2*time.Second, mapping.Constant(1))
	dec := d.OnSignalArrival(context.Background(), sig)

	end, ok := dec.At()
	if !ok || !end.Equal(at(2)) {
		t.Fatalf("decision = %v, want schedule-at end", dec)
	}
	if d.Current() != sig {
		t.Fatalf("slot does not hold the accepted signal")
	}
}

func TestSecondArrivalWhileReceivingRejected(t *testing.T) {
	phy := newStubPhy(at(0))
	metrics := newStubMetrics()
	d := newTestDecider(t, phy, &stubMedium{rssi: mapping.Constant(0)}, WithMetrics(metrics))

	first := NewSignal(at(0), 5*time.Second, mapping.Constant(10))
	d.OnSignalArrival(context.Background(), first)

	phy.now = at(1)
	second := NewSignal(at(1), time.Second, mapping.Constant(1e6))
	if dec := d.OnSignalArrival(context.Background(), second); dec.Kind() != DecisionNotAgain {
		t.Fatalf("decision = %v, want not-again", dec)
	}
	if d.Current() != first {
		t.Fatalf("occupant changed after a rejected arrival")
	}
	if metrics.arrivals[ArrivalBusy] != 1 {
		t.Fatalf("busy arrivals = %d, want 1", metrics.arrivals[ArrivalBusy])
	}
}

func TestCompletionDecodesAndReleasesSlot(t *testing.T) {
	phy := newStubPhy(at(0))
	medium := &stubMedium{
		rssi: mapping.Constant(0),
		snr:  hold(bp(0, 10), bp(5, 6), bp(6, 10)),
	}
	metrics := newStubMetrics()
	d := newTestDecider(t, phy, medium, WithMetrics(metrics))

	sig := NewSignal(at(0), 6*time.Second, mapping.Constant(10))
	d.OnSignalArrival(context.Background(), sig)

	phy.now = at(6)
	if dec := d.ProcessSignal(context.Background(), sig); dec.Kind() != DecisionNotAgain {
		t.Fatalf("completion decision = %v, want not-again", dec)
	}
	if len(phy.sentUp) != 1 || phy.sentUp[0] != sig || !phy.results[0].Decoded {
		t.Fatalf("decoded signal not sent up: %v %v", phy.sentUp, phy.results)
	}
	if sig.SNR == nil {
		t.Fatalf("SNR function not attached to the signal")
	}
	if d.Receiving() {
		t.Fatalf("slot still occupied after completion")
	}
	if metrics.decoded != 1 {
		t.Fatalf("decoded = %d, want 1", metrics.decoded)
	}

	next := NewSignal(at(6), time.Second, mapping.Constant(10))
	if _, ok := d.OnSignalArrival(context.Background(), next).At(); !ok {
		t.Fatalf("arrival at the completion instant was not accepted")
	}
}

func TestCompletionDropsAndReleasesSlot(t *testing.T) {
	phy := newStubPhy(at(0))
	medium := &stubMedium{
		rssi: mapping.Constant(0),
		snr:  hold(bp(0, 10), bp(5, 10), bp(6, 4)),
	}
	metrics := newStubMetrics()
	d := newTestDecider(t, phy, medium, WithMetrics(metrics))

	sig := NewSignal(at(0), 6*time.Second, mapping.Constant(10))
	d.OnSignalArrival(context.Background(), sig)
	phy.now = at(6)
	d.OnSignalEnd(context.Background(), sig)

	if len(phy.sentUp) != 0 {
		t.Fatalf("dropped signal was sent up")
	}
	if d.Receiving() {
		t.Fatalf("slot still occupied after drop")
	}
	if metrics.dropped != 1 {
		t.Fatalf("dropped = %d, want 1", metrics.dropped)
	}
	if _, ok := d.OnSignalArrival(context.Background(), NewSignal(at(6), time.Second, mapping.Constant(10))).At(); !ok {
		t.Fatalf("arrival after a drop was not accepted")
	}
}

func TestCompletionForOtherSignalPanics(t *testing.T) {
	phy := newStubPhy(at(0))
	d := newTestDecider(t, phy, &stubMedium{rssi: mapping.Constant(0), snr: mapping.Constant(10)})

	expectPanic(t, ErrSignalMismatch, func() {
		d.OnSignalEnd(context.Background(), NewSignal(at(0), time.Second, mapping.Constant(10)))
	})

	sig := NewSignal(at(0), time.Second, mapping.Constant(10))
	d.OnSignalArrival(context.Background(), sig)
	expectPanic(t, ErrSignalMismatch, func() {
		d.OnSignalEnd(context.Background(), NewSignal(at(0), time.Second, mapping.Constant(10)))
	})
	if d.Current() != sig {
		t.Fatalf("slot changed by a mismatched completion")
	}
}

func TestNilFunctionsPanic(t *testing.T) {
	phy := newStubPhy(at(0))
	d := newTestDecider(t, phy, &stubMedium{})

	expectPanic(t, ErrNilFunction, func() {
		d.OnSignalArrival(context.Background(), NewSignal(at(0), time.Second, nil))
	})

	sig := NewSignal(at(0), time.Second, mapping.Constant(10))
	d.OnSignalArrival(context.Background(), sig)
	expectPanic(t, ErrNilFunction, func() {
		d.OnSignalEnd(context.Background(), sig)
	})
	expectPanic(t, ErrNilSignal, func() {
		d.OnSignalArrival(context.Background(), nil)
	})
}

func TestProcessSignalDispatch(t *testing.T) {
	phy := newStubPhy(at(0))
	d := newTestDecider(t, phy, &stubMedium{rssi: mapping.Constant(0), snr: mapping.Constant(10)})

	sig := NewSignal(at(0), time.Second, mapping.Constant(10))
	if _, ok := d.ProcessSignal(context.Background(), sig).At(); !ok {
		t.Fatalf("first delivery was not treated as an arrival")
	}
	phy.now = at(1)
	if dec := d.ProcessSignal(context.Background(), sig); dec.Kind() != DecisionNotAgain {
		t.Fatalf("second delivery decision = %v", dec)
	}
	if len(phy.sentUp) != 1 {
		t.Fatalf("second delivery was not treated as the end")
	}
}

func TestThresholdsFromDB(t *testing.T) {
	th := ThresholdsFromDB(-90, 10)
	if diff := th.Sensitivity - 1e-9; diff > 1e-21 || diff < -1e-21 {
		t.Fatalf("Sensitivity = %v, want 1e-9 mW", th.Sensitivity)
	}
	if diff := th.SNRThreshold - 10; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("SNRThreshold = %v, want 10", th.SNRThreshold)
	}
}
