package sched

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/snr-decider/timectrl"
)

// Priorities order events that fall on the same simulated instant. Lower
// values run first; equal priorities run in scheduling order.
const (
	// PrioritySignalEnd is used for reception completions so that a slot
	// freed at t can accept an arrival at the same t.
	PrioritySignalEnd = 0
	// PrioritySense is used for sense request deliveries.
	PrioritySense = 1
	// PrioritySignalStart is used for signal arrivals.
	PrioritySignalStart = 2
	// PriorityDefault is used by Schedule.
	PriorityDefault = 5
)

// EventScheduler schedules callbacks to run at specific simulation times
// based on a SimClock implementation. It plays the role of the simulation
// kernel for the PHY: arrivals, reception ends and sense request deliveries
// all pass through it.
type EventScheduler interface {
	// Schedule registers a callback f to run at simulation time 'at' with
	// PriorityDefault. It returns an opaque event ID that can be used to
	// cancel the event.
	Schedule(at time.Time, f func()) (id string)

	// ScheduleWithPriority is Schedule with an explicit same-instant priority.
	ScheduleWithPriority(at time.Time, priority int, f func()) (id string)

	// Cancel attempts to cancel a previously scheduled event.
	// It is a no-op if the ID is unknown or the event already ran.
	Cancel(id string)

	// Now returns the current simulation time of the underlying SimClock.
	Now() time.Time

	// RunDue executes all events whose scheduled time is <= Now().
	// Already-run events never run again.
	RunDue()
}

// SettableClock is a SimClock the scheduler can move forward.
type SettableClock interface {
	timectrl.SimClock
	SetTime(t time.Time) error
}

type scheduledEvent struct {
	id        string
	when      time.Time
	priority  int
	seq       uint64
	f         func()
	cancelled bool
}

func (ev *scheduledEvent) before(other *scheduledEvent) bool {
	if !ev.when.Equal(other.when) {
		return ev.when.Before(other.when)
	}
	if ev.priority != other.priority {
		return ev.priority < other.priority
	}
	return ev.seq < other.seq
}

// Scheduler is the concrete EventScheduler. With a SettableClock it can
// also drive time itself via AdvanceTo and Run.
type Scheduler struct {
	clock timectrl.SimClock

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent // ordered by (when, priority, seq)
	index   map[string]*scheduledEvent
}

// New creates a scheduler backed by clock.
func New(clock timectrl.SimClock) *Scheduler {
	return &Scheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
}

// Schedule registers a callback to run at the specified simulation time.
func (s *Scheduler) Schedule(at time.Time, f func()) string {
	return s.ScheduleWithPriority(at, PriorityDefault, f)
}

// ScheduleWithPriority registers a callback with a same-instant priority.
func (s *Scheduler) ScheduleWithPriority(at time.Time, priority int, f func()) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	ev := &scheduledEvent{
		id:       fmt.Sprintf("ev-%d", s.counter),
		when:     at,
		priority: priority,
		seq:      s.counter,
		f:        f,
	}

	idx := sort.Search(len(s.events), func(i int) bool {
		return ev.before(s.events[i])
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev

	s.index[ev.id] = ev
	return ev.id
}

// Cancel attempts to cancel a previously scheduled event.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(s.index, id)
	// Removal from s.events is lazy; popDueLocked skips cancelled events.
}

// Now returns the current simulation time from the underlying clock.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Pending returns the number of events that have not yet run.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// NextAt returns the time of the earliest pending event.
func (s *Scheduler) NextAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if !ev.cancelled {
			return ev.when, true
		}
	}
	return time.Time{}, false
}

// popDueLocked removes and returns the next event due at or before now.
// Caller must hold s.mu.
func (s *Scheduler) popDueLocked(now time.Time) *scheduledEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when.After(now) {
			return nil
		}
		s.events = s.events[1:]
		delete(s.index, ev.id)
		return ev
	}
	return nil
}

// RunDue executes all events whose scheduled time is <= Now(), including
// events scheduled by callbacks for instants that are already due.
func (s *Scheduler) RunDue() {
	for {
		s.mu.Lock()
		ev := s.popDueLocked(s.clock.Now())
		s.mu.Unlock()
		if ev == nil {
			return
		}

		// Execute outside the lock so callbacks may schedule or cancel.
		if ev.f != nil {
			ev.f()
		}
	}
}

// AdvanceTo moves the clock to t and runs everything that became due.
func (s *Scheduler) AdvanceTo(t time.Time) error {
	clock, ok := s.clock.(SettableClock)
	if !ok {
		return fmt.Errorf("sched: clock %T cannot be advanced", s.clock)
	}
	if err := clock.SetTime(t); err != nil {
		return err
	}
	s.RunDue()
	return nil
}

// Run processes events in time order, jumping the clock from one event
// instant to the next, until no events remain, the next event lies after
// until, or ctx is cancelled. A zero until means no bound.
func (s *Scheduler) Run(ctx context.Context, until time.Time) error {
	s.RunDue()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, ok := s.NextAt()
		if !ok {
			return nil
		}
		if !until.IsZero() && next.After(until) {
			return s.AdvanceTo(until)
		}
		if next.Before(s.clock.Now()) {
			next = s.clock.Now()
		}
		if err := s.AdvanceTo(next); err != nil {
			return err
		}
	}
}
