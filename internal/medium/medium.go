// Package medium builds the aggregate received-power and per-signal SNR
// functions a receiver's decider consumes, from the signals currently on
// the air at that receiver plus its noise floor.
package medium

import (
	"math"
	"sort"
	"time"

	"github.com/signalsfoundry/snr-decider/core"
	"github.com/signalsfoundry/snr-decider/mapping"
)

// Medium is the air interface as seen by one receiver. It is not safe for
// concurrent use; the owning radio serialises access.
type Medium struct {
	noise   mapping.Mapping
	signals []*core.Signal
}

// New returns a medium with the given noise floor function (mW).
func New(noise mapping.Mapping) *Medium {
	if noise == nil {
		noise = mapping.Constant(0)
	}
	return &Medium{noise: noise}
}

// NewWithNoiseDBm returns a medium with a constant noise floor in dBm.
func NewWithNoiseDBm(dbm float64) *Medium {
	return New(mapping.Constant(core.DBmToMilliwatt(dbm)))
}

// Add puts sig on the air. Adding the same signal twice is a no-op.
func (m *Medium) Add(sig *core.Signal) {
	for _, s := range m.signals {
		if s == sig {
			return
		}
	}
	m.signals = append(m.signals, sig)
}

// Prune forgets signals that ended at or before t and returns how many were
// removed.
func (m *Medium) Prune(t time.Time) int {
	kept := m.signals[:0]
	removed := 0
	for _, s := range m.signals {
		if s.End().After(t) {
			kept = append(kept, s)
		} else {
			removed++
		}
	}
	for i := len(kept); i < len(m.signals); i++ {
		m.signals[i] = nil
	}
	m.signals = kept
	return removed
}

// Len returns the number of signals currently tracked.
func (m *Medium) Len() int { return len(m.signals) }

// Noise returns the noise floor function.
func (m *Medium) Noise() mapping.Mapping { return m.noise }

// RSSI returns the total received power (noise plus every active signal)
// over [from, to] as a Hold function. Its breakpoints are from and every
// start, end and power breakpoint inside the interval.
func (m *Medium) RSSI(from, to time.Time) mapping.Mapping {
	var active []*core.Signal
	for _, s := range m.signals {
		if touches(s, from, to) {
			active = append(active, s)
		}
	}

	instants := m.instants(from, to, active)
	points := make([]mapping.Breakpoint, 0, len(instants))
	for _, t := range instants {
		level := m.noise.ValueAt(t)
		for _, s := range active {
			level += powerAt(s, t)
		}
		points = append(points, mapping.Breakpoint{At: t, Value: level})
	}
	return mapping.MustNew(points, mapping.Hold)
}

// SNR returns sig's power divided by noise plus interference over sig's
// lifetime, as a Hold function. Interferers are the other signals that
// overlap sig.
func (m *Medium) SNR(sig *core.Signal) mapping.Mapping {
	start, end := sig.Start, sig.End()

	var interferers []*core.Signal
	for _, s := range m.signals {
		if s != sig && s.Overlaps(sig) {
			interferers = append(interferers, s)
		}
	}

	instants := m.instants(start, end, append(interferers, sig))
	points := make([]mapping.Breakpoint, 0, len(instants))
	for _, t := range instants {
		denominator := m.noise.ValueAt(t)
		for _, s := range interferers {
			denominator += powerAt(s, t)
		}
		points = append(points, mapping.Breakpoint{At: t, Value: ratio(sig.Power.ValueAt(t), denominator)})
	}
	return mapping.MustNew(points, mapping.Hold)
}

// instants collects from, to, and every signal start/end and breakpoint of
// the given signals and the noise floor that lies inside [from, to].
func (m *Medium) instants(from, to time.Time, signals []*core.Signal) []time.Time {
	set := map[int64]time.Time{from.UnixNano(): from, to.UnixNano(): to}
	add := func(t time.Time) {
		if !t.Before(from) && !t.After(to) {
			set[t.UnixNano()] = t
		}
	}

	walk := func(fn mapping.Mapping) {
		it := fn.Iterator(from)
		for bp, ok := it.Next(); ok && !bp.At.After(to); bp, ok = it.Next() {
			add(bp.At)
		}
	}

	walk(m.noise)
	for _, s := range signals {
		add(s.Start)
		add(s.End())
		walk(s.Power)
	}

	out := make([]time.Time, 0, len(set))
	for _, t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// touches reports whether s is on the air at some instant of [from, to].
func touches(s *core.Signal, from, to time.Time) bool {
	return !s.Start.After(to) && s.End().After(from)
}

// powerAt is s's received power at t, or zero outside [start, end).
func powerAt(s *core.Signal, t time.Time) float64 {
	if t.Before(s.Start) || !t.Before(s.End()) {
		return 0
	}
	return s.Power.ValueAt(t)
}

func ratio(num, den float64) float64 {
	if den <= 0 {
		if num > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return num / den
}
