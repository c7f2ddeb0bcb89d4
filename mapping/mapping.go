// Package mapping provides time-valued scalar functions defined by a finite
// set of ordered breakpoints. Received power, aggregate RSSI and SNR profiles
// are all expressed as mappings.
package mapping

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/interp"
)

var (
	// ErrNoBreakpoints is returned when a function is built from an empty set.
	ErrNoBreakpoints = errors.New("mapping: no breakpoints")
	// ErrDuplicateBreakpoint is returned when two breakpoints share an instant.
	ErrDuplicateBreakpoint = errors.New("mapping: duplicate breakpoint")
)

// Breakpoint is a defined (time, value) sample of a function.
type Breakpoint struct {
	At    time.Time
	Value float64
}

// Interpolation selects how values between breakpoints are derived.
type Interpolation int

const (
	// Linear interpolates between neighbouring breakpoints and holds the
	// first/last value outside the breakpoint range.
	Linear Interpolation = iota
	// Hold keeps the value of the last breakpoint at or before t. Before the
	// first breakpoint the first value is used.
	Hold
)

func (i Interpolation) String() string {
	switch i {
	case Linear:
		return "linear"
	case Hold:
		return "hold"
	default:
		return fmt.Sprintf("Interpolation(%d)", int(i))
	}
}

// DimensionSet is the set of axes a mapping is defined over.
type DimensionSet uint8

const (
	// Time is the time axis.
	Time DimensionSet = 1 << iota
	// Frequency is a frequency/channel axis.
	Frequency
	// Space is a spatial axis.
	Space
)

// TimeDomain is the dimension set of a function of time only.
const TimeDomain = Time

// Mapping is a read-only time-valued function.
type Mapping interface {
	// ValueAt evaluates the function at t.
	ValueAt(t time.Time) float64
	// Iterator returns an iterator positioned at from.
	Iterator(from time.Time) Iterator
	// Dimensions reports the axes the function is defined over.
	Dimensions() DimensionSet
}

// Iterator walks a mapping's breakpoints in time order. Its position may be
// any instant, not only a breakpoint.
type Iterator interface {
	// Position returns the instant the iterator currently points at.
	Position() time.Time
	// Value evaluates the function at Position.
	Value() float64
	// Peek returns the next breakpoint strictly after Position without
	// moving the iterator.
	Peek() (Breakpoint, bool)
	// Next moves to the next breakpoint strictly after Position.
	Next() (Breakpoint, bool)
	// Seek positions the iterator at t, forwards or backwards.
	Seek(t time.Time)
}

// Function is the breakpoint-backed Mapping implementation.
type Function struct {
	points []Breakpoint
	interp Interpolation
	dims   DimensionSet

	// linear is only fitted when interp is Linear and there are at least
	// two breakpoints.
	linear *interp.PiecewiseLinear
}

// New builds a Function from points. The points are sorted by time; two
// points at the same instant are rejected.
func New(points []Breakpoint, mode Interpolation) (*Function, error) {
	if len(points) == 0 {
		return nil, ErrNoBreakpoints
	}
	sorted := make([]Breakpoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].At.Before(sorted[j].At)
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].At.Equal(sorted[i-1].At) {
			return nil, fmt.Errorf("%w at %s", ErrDuplicateBreakpoint, sorted[i].At.Format(time.RFC3339Nano))
		}
	}

	f := &Function{points: sorted, interp: mode, dims: TimeDomain}
	if mode == Linear && len(sorted) >= 2 {
		origin := sorted[0].At
		xs := make([]float64, len(sorted))
		ys := make([]float64, len(sorted))
		for i, p := range sorted {
			xs[i] = p.At.Sub(origin).Seconds()
			ys[i] = p.Value
		}
		pl := &interp.PiecewiseLinear{}
		if err := pl.Fit(xs, ys); err != nil {
			return nil, fmt.Errorf("fit linear mapping: %w", err)
		}
		f.linear = pl
	}
	return f, nil
}

// MustNew is New for statically known breakpoints; it panics on error.
func MustNew(points []Breakpoint, mode Interpolation) *Function {
	f, err := New(points, mode)
	if err != nil {
		panic(err)
	}
	return f
}

// Constant returns a function that evaluates to v everywhere.
func Constant(v float64) *Function {
	return &Function{
		points: []Breakpoint{{At: time.Time{}, Value: v}},
		interp: Hold,
		dims:   TimeDomain,
	}
}

// WithDimensions returns a copy of f tagged with the given dimension set.
func (f *Function) WithDimensions(dims DimensionSet) *Function {
	cp := *f
	cp.dims = dims
	return &cp
}

// Dimensions implements Mapping.
func (f *Function) Dimensions() DimensionSet { return f.dims }

// Interpolation reports how f derives values between breakpoints.
func (f *Function) Interpolation() Interpolation { return f.interp }

// Len returns the number of breakpoints.
func (f *Function) Len() int { return len(f.points) }

// Breakpoints returns the breakpoints inside the closed interval [from, to].
func (f *Function) Breakpoints(from, to time.Time) []Breakpoint {
	lo := f.firstAtOrAfter(from)
	var out []Breakpoint
	for i := lo; i < len(f.points) && !f.points[i].At.After(to); i++ {
		out = append(out, f.points[i])
	}
	return out
}

// ValueAt implements Mapping.
func (f *Function) ValueAt(t time.Time) float64 {
	i := f.firstAtOrAfter(t)
	if i < len(f.points) && f.points[i].At.Equal(t) {
		return f.points[i].Value
	}
	switch {
	case i == 0:
		return f.points[0].Value
	case i == len(f.points):
		return f.points[len(f.points)-1].Value
	}

	if f.interp == Hold || f.linear == nil {
		return f.points[i-1].Value
	}
	return f.linear.Predict(t.Sub(f.points[0].At).Seconds())
}

// Iterator implements Mapping.
func (f *Function) Iterator(from time.Time) Iterator {
	it := &iterator{fn: f}
	it.Seek(from)
	return it
}

// firstAtOrAfter returns the index of the first breakpoint not before t.
func (f *Function) firstAtOrAfter(t time.Time) int {
	return sort.Search(len(f.points), func(i int) bool {
		return !f.points[i].At.Before(t)
	})
}

type iterator struct {
	fn  *Function
	pos time.Time
	// next is the index of the first breakpoint strictly after pos.
	next int
}

func (it *iterator) Position() time.Time { return it.pos }

func (it *iterator) Value() float64 { return it.fn.ValueAt(it.pos) }

func (it *iterator) Peek() (Breakpoint, bool) {
	if it.next >= len(it.fn.points) {
		return Breakpoint{}, false
	}
	return it.fn.points[it.next], true
}

func (it *iterator) Next() (Breakpoint, bool) {
	bp, ok := it.Peek()
	if !ok {
		return Breakpoint{}, false
	}
	it.pos = bp.At
	it.next++
	return bp, true
}

func (it *iterator) Seek(t time.Time) {
	it.pos = t
	it.next = sort.Search(len(it.fn.points), func(i int) bool {
		return it.fn.points[i].At.After(t)
	})
}
