package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/snr-decider/internal/logging"
	"github.com/signalsfoundry/snr-decider/mapping"
)

// Phy is the decider's view of the physical layer that owns it: the
// simulation clock and the delivery paths to the upper layer.
type Phy interface {
	// Now returns the current simulation time.
	Now() time.Time
	// SendUp forwards a successfully decoded signal.
	SendUp(ctx context.Context, sig *Signal, res Result)
	// SendControl hands an answered sense request back to its issuer.
	SendControl(ctx context.Context, req *SenseRequest)
	// RescheduleSense moves the pending redelivery of req to at.
	RescheduleSense(req *SenseRequest, at time.Time)
	// CancelSense drops the pending redelivery of req.
	CancelSense(req *SenseRequest)
}

// Medium supplies the time functions the decider reasons about.
type Medium interface {
	// RSSI returns the aggregate received power over [from, to].
	RSSI(from, to time.Time) mapping.Mapping
	// SNR returns the SNR of sig over its whole lifetime.
	SNR(sig *Signal) mapping.Mapping
}

// ArrivalOutcome labels what happened to an arriving signal.
type ArrivalOutcome string

const (
	ArrivalAccepted ArrivalOutcome = "accepted"
	ArrivalBusy     ArrivalOutcome = "busy"
	ArrivalTooWeak  ArrivalOutcome = "too_weak"
)

// MetricsRecorder receives decision counts. Implementations must tolerate
// being called from the simulation goroutine only.
type MetricsRecorder interface {
	ObserveArrival(outcome ArrivalOutcome)
	ObserveReception(decoded bool)
	ObserveSenseAnswer(mode SenseMode, wait time.Duration)
}

type expectation int

const (
	expectNone expectation = iota
	expectEnd
)

// pendingSense is the slot for the single sense request being worked on.
type pendingSense struct {
	req         *SenseRequest
	canAnswerAt time.Time
}

// Decider is the SNR threshold decider for one receiver. Every simulated
// interface owns its own instance; methods must be called from a single
// goroutine, in simulation-time order.
type Decider struct {
	phy        Phy
	medium     Medium
	thresholds Thresholds

	log     logging.Logger
	metrics MetricsRecorder

	// current is the occupancy slot: non-nil while a reception runs.
	current *Signal
	expect  expectation

	sense pendingSense
}

// Option customises Decider construction.
type Option func(*Decider)

// WithLogger attaches a structured logger for decision traces.
func WithLogger(l logging.Logger) Option {
	return func(d *Decider) {
		if l != nil {
			d.log = l
		}
	}
}

// WithMetrics attaches an optional metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(d *Decider) {
		d.metrics = m
	}
}

// NewDecider builds a decider on top of phy and medium.
func NewDecider(phy Phy, medium Medium, th Thresholds, opts ...Option) (*Decider, error) {
	if phy == nil {
		return nil, errors.New("core: nil phy")
	}
	if medium == nil {
		return nil, errors.New("core: nil medium")
	}
	if err := th.Validate(); err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	d := &Decider{
		phy:        phy,
		medium:     medium,
		thresholds: th,
		log:        logging.Noop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Thresholds returns the decider's configured thresholds.
func (d *Decider) Thresholds() Thresholds { return d.thresholds }

// Current returns the signal being received, or nil.
func (d *Decider) Current() *Signal { return d.current }

// Receiving reports whether the occupancy slot is taken.
func (d *Decider) Receiving() bool { return d.current != nil }

// PendingSense returns the sense request waiting for an answer, or nil.
func (d *Decider) PendingSense() *SenseRequest { return d.sense.req }

// ProcessSignal routes a signal event: the end of the current reception
// goes to OnSignalEnd, anything else is a new arrival.
func (d *Decider) ProcessSignal(ctx context.Context, sig *Signal) Decision {
	if sig != nil && sig == d.current && d.expect == expectEnd {
		return d.OnSignalEnd(ctx, sig)
	}
	return d.OnSignalArrival(ctx, sig)
}

// OnSignalArrival applies the sensitivity gate to a new signal. An accepted
// signal occupies the slot and the returned decision carries the instant
// OnSignalEnd must be called. A rejected signal is never reconsidered.
func (d *Decider) OnSignalArrival(ctx context.Context, sig *Signal) Decision {
	if sig == nil {
		panic(ErrNilSignal)
	}
	// The new signal changes the channel level, which may settle a pending
	// sense request before anything else happens.
	d.ChannelStateChanged(ctx)

	log := d.logger(ctx).With(logging.String("signal_id", sig.ID))

	if d.current != nil {
		log.Debug(ctx, "already receiving another signal",
			logging.String("current_signal_id", d.current.ID))
		d.observeArrival(ArrivalBusy)
		return NotAgain()
	}

	requireFunction(sig.Power, "received power")
	power := sig.Power.ValueAt(sig.Start)
	if power < d.thresholds.Sensitivity {
		log.Debug(ctx, "signal too weak, not receiving",
			logging.Float64("power_mw", power),
			logging.Float64("sensitivity_mw", d.thresholds.Sensitivity))
		d.observeArrival(ArrivalTooWeak)
		return NotAgain()
	}

	log.Debug(ctx, "signal strong enough, receiving",
		logging.Float64("power_mw", power),
		logging.Float64("sensitivity_mw", d.thresholds.Sensitivity))

	d.current = sig
	d.expect = expectEnd
	d.observeArrival(ArrivalAccepted)
	return ScheduleAt(sig.End())
}

// OnSignalEnd finishes the current reception: the signal is forwarded as
// decoded when its SNR stays above threshold for the whole duration and is
// dropped otherwise. The slot is released in both cases.
func (d *Decider) OnSignalEnd(ctx context.Context, sig *Signal) Decision {
	if sig == nil || sig != d.current {
		panic(fmt.Errorf("%w: got %v", ErrSignalMismatch, sig))
	}

	snr := d.medium.SNR(sig)
	requireFunction(snr, "snr")
	sig.SNR = snr

	start, end := sig.Start, sig.End()
	log := d.logger(ctx).With(logging.String("signal_id", sig.ID))

	if d.IsAboveThreshold(snr, start, end) {
		log.Debug(ctx, "snr above threshold, sending up",
			logging.Float64("snr_threshold", d.thresholds.SNRThreshold))
		d.phy.SendUp(ctx, sig, Result{Decoded: true})
		d.observeReception(true)
	} else {
		log.Debug(ctx, "snr below threshold, dropped",
			logging.Float64("snr_threshold", d.thresholds.SNRThreshold))
		d.observeReception(false)
	}

	d.current = nil
	d.expect = expectNone
	return NotAgain()
}

func (d *Decider) logger(ctx context.Context) logging.Logger {
	return logging.FromContext(ctx, d.log)
}

func (d *Decider) observeArrival(o ArrivalOutcome) {
	if d.metrics != nil {
		d.metrics.ObserveArrival(o)
	}
}

func (d *Decider) observeReception(decoded bool) {
	if d.metrics != nil {
		d.metrics.ObserveReception(decoded)
	}
}

func requireFunction(fn mapping.Mapping, what string) {
	if fn == nil {
		panic(fmt.Errorf("%w: %s", ErrNilFunction, what))
	}
}

// requireTimeDomain panics unless fn is a non-nil, time-only function.
func requireTimeDomain(fn mapping.Mapping, what string) {
	requireFunction(fn, what)
	if fn.Dimensions() != mapping.TimeDomain {
		panic(fmt.Errorf("%w: %s has dimensions %b", ErrUnsupportedDimensions, what, fn.Dimensions()))
	}
}
