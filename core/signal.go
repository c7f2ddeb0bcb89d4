// Package core implements the SNR threshold reception decider of a single
// radio interface: the sensitivity gate on arrival, interval-wide SNR
// checking on completion, and channel sensing for the MAC layer.
package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/snr-decider/mapping"
)

// Signal is an incoming waveform as seen by one receiver.
//
// The decider never copies a Signal: the occupancy slot holds the caller's
// pointer for the duration of the reception, and completion must be reported
// with the same pointer.
type Signal struct {
	ID       string
	Start    time.Time
	Duration time.Duration

	// Power is the received power over time, in mW.
	Power mapping.Mapping

	// SNR is filled in by the decider when the reception completes.
	SNR mapping.Mapping

	// Source optionally names the transmitter.
	Source string
}

// NewSignal returns a Signal with a fresh ID.
func NewSignal(start time.Time, duration time.Duration, power mapping.Mapping) *Signal {
	return &Signal{
		ID:       uuid.NewString(),
		Start:    start,
		Duration: duration,
		Power:    power,
	}
}

// End returns the instant the signal stops.
func (s *Signal) End() time.Time {
	return s.Start.Add(s.Duration)
}

// Overlaps reports whether s and other share any instant of air time.
// Touching intervals do not overlap.
func (s *Signal) Overlaps(other *Signal) bool {
	return s.Start.Before(other.End()) && other.Start.Before(s.End())
}

func (s *Signal) String() string {
	return fmt.Sprintf("signal %s [%s +%s]", s.ID, s.Start.Format(time.RFC3339Nano), s.Duration)
}

// Result is attached to a signal forwarded to the upper layer.
type Result struct {
	Decoded bool
}
