package core

import "errors"

// Contract violations. The decider panics with an error wrapping one of
// these; they indicate a bug in the caller, never an expected outcome.
var (
	ErrNilFunction           = errors.New("core: nil time function")
	ErrNilSignal             = errors.New("core: nil signal")
	ErrNilSenseRequest       = errors.New("core: nil sense request")
	ErrSignalMismatch        = errors.New("core: completion for a signal that is not being received")
	ErrUnsupportedDimensions = errors.New("core: time function is not time-only")
	ErrInvalidInterval       = errors.New("core: interval start after end")
	ErrSenseRequestPending   = errors.New("core: another sense request is pending")
	ErrUnknownSenseMode      = errors.New("core: unknown sense mode")
)
