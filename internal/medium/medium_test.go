package medium

import (
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/snr-decider/core"
	"github.com/signalsfoundry/snr-decider/mapping"
)

var t0 = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return t0.Add(time.Duration(sec * float64(time.Second)))
}

func signal(startSec, durSec float64, power mapping.Mapping) *core.Signal {
	return core.NewSignal(at(startSec), time.Duration(durSec*float64(time.Second)), power)
}

func TestRSSISumsActiveSignals(t *testing.T) {
	m := New(mapping.Constant(1))
	m.Add(signal(0, 4, mapping.Constant(10)))
	m.Add(signal(2, 4, mapping.Constant(100)))

	rssi := m.RSSI(at(0), at(8))

	tests := []struct {
		t    float64
		want float64
	}{
		{0, 11},
		{1.5, 11},
		{2, 111},
		{3.9, 111},
		{4, 101},
		{6, 1},
		{7, 1},
	}
	for _, tt := range tests {
		if got := rssi.ValueAt(at(tt.t)); got != tt.want {
			t.Fatalf("RSSI at %vs = %v, want %v", tt.t, got, tt.want)
		}
	}
}

func TestRSSIBreakpointsCoverLevelChanges(t *testing.T) {
	m := New(mapping.Constant(0))
	m.Add(signal(1, 2, mapping.MustNew([]mapping.Breakpoint{
		{At: at(1), Value: 5},
		{At: at(2), Value: 7},
	}, mapping.Hold)))

	it := m.RSSI(at(0), at(10)).Iterator(at(0))
	var times []time.Duration
	for bp, ok := it.Next(); ok; bp, ok = it.Next() {
		times = append(times, bp.At.Sub(t0))
	}
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 10 * time.Second}
	if len(times) != len(want) {
		t.Fatalf("breakpoints = %v, want %v", times, want)
	}
	for i := range want {
		if times[i] != want[i] {
			t.Fatalf("breakpoints = %v, want %v", times, want)
		}
	}
}

func TestRSSIInstant(t *testing.T) {
	m := New(mapping.Constant(2))
	m.Add(signal(0, 1, mapping.Constant(3)))

	if got := m.RSSI(at(0.5), at(0.5)).ValueAt(at(0.5)); got != 5 {
		t.Fatalf("instant RSSI = %v, want 5", got)
	}
	if got := m.RSSI(at(1), at(1)).ValueAt(at(1)); got != 2 {
		t.Fatalf("RSSI at signal end = %v, want noise only", got)
	}
}

func TestSNRWithInterference(t *testing.T) {
	m := New(mapping.Constant(1))
	sig := signal(0, 6, mapping.Constant(20))
	m.Add(sig)
	m.Add(signal(2, 2, mapping.Constant(3)))
	// Starts exactly when sig ends: not an interferer.
	m.Add(signal(6, 2, mapping.Constant(1000)))

	snr := m.SNR(sig)
	tests := []struct {
		t    float64
		want float64
	}{
		{0, 20},
		{2, 5},
		{3, 5},
		{4, 20},
		{6, 20},
	}
	for _, tt := range tests {
		if got := snr.ValueAt(at(tt.t)); math.Abs(got-tt.want) > 1e-12 {
			t.Fatalf("SNR at %vs = %v, want %v", tt.t, got, tt.want)
		}
	}

	th := core.Thresholds{SNRThreshold: 5}
	if core.AboveThroughout(snr, th.SNRThreshold, sig.Start, sig.End()) {
		t.Fatalf("SNR equal to threshold during interference should fail")
	}
	if !core.AboveThroughout(snr, 4.9, sig.Start, sig.End()) {
		t.Fatalf("SNR above 4.9 throughout should pass")
	}
}

func TestSNRZeroNoise(t *testing.T) {
	m := New(nil)
	sig := signal(0, 1, mapping.Constant(1))
	m.Add(sig)
	if got := m.SNR(sig).ValueAt(at(0.5)); !math.IsInf(got, 1) {
		t.Fatalf("SNR without noise = %v, want +Inf", got)
	}
}

func TestAddAndPrune(t *testing.T) {
	m := NewWithNoiseDBm(-100)
	a := signal(0, 1, mapping.Constant(1))
	b := signal(0, 5, mapping.Constant(1))
	m.Add(a)
	m.Add(a)
	m.Add(b)
	if m.Len() != 2 {
		t.Fatalf("Len = %d, want 2", m.Len())
	}
	if removed := m.Prune(at(1)); removed != 1 {
		t.Fatalf("Prune removed %d, want 1", removed)
	}
	if m.Len() != 1 {
		t.Fatalf("Len after prune = %d, want 1", m.Len())
	}
	if got := m.Noise().ValueAt(t0); math.Abs(got-1e-10) > 1e-22 {
		t.Fatalf("noise = %v mW, want 1e-10", got)
	}
}
