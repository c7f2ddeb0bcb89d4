package core

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/snr-decider/mapping"
)

// IsAboveThreshold reports whether fn stays strictly above the decider's SNR
// threshold on [start, end].
func (d *Decider) IsAboveThreshold(fn mapping.Mapping, start, end time.Time) bool {
	return AboveThroughout(fn, d.thresholds.SNRThreshold, start, end)
}

// AboveThroughout reports whether fn is strictly greater than threshold at
// start, at end and at every breakpoint strictly between them. It stops at
// the first sample that is not.
//
// Only those instants are sampled. That is exact for Hold functions and for
// Linear functions whose segments are monotonic between breakpoints; a
// function that dips between two breakpoints without a breakpoint at the dip
// is not detected.
func AboveThroughout(fn mapping.Mapping, threshold float64, start, end time.Time) bool {
	requireFunction(fn, "threshold check")
	if start.After(end) {
		panic(fmt.Errorf("%w: [%s, %s]", ErrInvalidInterval,
			start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano)))
	}

	it := fn.Iterator(start)
	if it.Value() <= threshold {
		return false
	}

	for bp, ok := it.Peek(); ok && bp.At.Before(end); bp, ok = it.Peek() {
		it.Next()
		if it.Value() <= threshold {
			return false
		}
	}

	it.Seek(end)
	return it.Value() > threshold
}
