package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SenseMode selects when a sense request is answered.
type SenseMode int

const (
	// UntilTimeout answers exactly at the timeout.
	UntilTimeout SenseMode = iota
	// UntilIdle answers at the first idle instant, else at the timeout.
	UntilIdle
	// UntilBusy answers at the first busy instant, else at the timeout.
	UntilBusy
)

func (m SenseMode) String() string {
	switch m {
	case UntilTimeout:
		return "until_timeout"
	case UntilIdle:
		return "until_idle"
	case UntilBusy:
		return "until_busy"
	default:
		return fmt.Sprintf("SenseMode(%d)", int(m))
	}
}

// ParseSenseMode is the inverse of SenseMode.String.
func ParseSenseMode(s string) (SenseMode, error) {
	for _, m := range []SenseMode{UntilTimeout, UntilIdle, UntilBusy} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSenseMode, s)
}

// ChannelState is the instantaneous channel condition.
type ChannelState struct {
	Idle  bool
	Level float64 // mW
}

// SenseRequest is a channel sense query issued by the upper layer.
type SenseRequest struct {
	ID      string
	Mode    SenseMode
	Timeout time.Duration

	// Start is stamped by the decider when it first sees the request.
	Start time.Time

	// Result is nil until the request has been answered.
	Result *ChannelState
	// AnsweredAt is the simulation time the result was taken at.
	AnsweredAt time.Time
}

// NewSenseRequest returns a request with a fresh ID.
func NewSenseRequest(mode SenseMode, timeout time.Duration) *SenseRequest {
	return &SenseRequest{
		ID:      uuid.NewString(),
		Mode:    mode,
		Timeout: timeout,
	}
}

// Deadline returns Start + Timeout.
func (r *SenseRequest) Deadline() time.Time {
	return r.Start.Add(r.Timeout)
}

// Answered reports whether a result has been written.
func (r *SenseRequest) Answered() bool {
	return r.Result != nil
}
