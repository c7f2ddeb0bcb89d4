package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/snr-decider/timectrl"
)

// readOnlyClock is a SimClock the scheduler cannot move.
type readOnlyClock struct {
	mu  sync.RWMutex
	now time.Time
}

func (c *readOnlyClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *readOnlyClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestScheduler_SingleEvent(t *testing.T) {
	clock := &readOnlyClock{now: start}
	s := New(clock)

	var counter int
	t1 := start.Add(10 * time.Second)
	if id := s.Schedule(t1, func() { counter++ }); id == "" {
		t.Fatalf("Schedule returned empty ID")
	}

	s.RunDue()
	if counter != 0 {
		t.Fatalf("expected counter=0 before time advance, got %d", counter)
	}

	clock.set(t1)
	s.RunDue()
	s.RunDue()
	if counter != 1 {
		t.Fatalf("expected counter=1 after time advance, got %d", counter)
	}
}

func TestScheduler_OrderByTimePriorityAndSequence(t *testing.T) {
	clock := timectrl.NewClock(start)
	s := New(clock)

	var order []string
	record := func(name string) func() { return func() { order = append(order, name) } }

	t1 := start.Add(time.Second)
	s.ScheduleWithPriority(t1, PrioritySignalStart, record("arrival"))
	s.ScheduleWithPriority(t1, PrioritySignalEnd, record("end"))
	s.ScheduleWithPriority(t1, PrioritySense, record("sense"))
	s.Schedule(start, record("early"))
	s.ScheduleWithPriority(t1, PrioritySignalStart, record("arrival-2"))

	if err := s.AdvanceTo(t1); err != nil {
		t.Fatalf("AdvanceTo: %v", err)
	}

	want := []string{"early", "end", "sense", "arrival", "arrival-2"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestScheduler_Cancel(t *testing.T) {
	clock := timectrl.NewClock(start)
	s := New(clock)

	var counter int
	id := s.Schedule(start.Add(time.Second), func() { counter++ })
	s.Cancel(id)
	s.Cancel("unknown-id")

	if err := s.AdvanceTo(start.Add(2 * time.Second)); err != nil {
		t.Fatalf("AdvanceTo: %v", err)
	}
	if counter != 0 {
		t.Fatalf("cancelled event ran, counter=%d", counter)
	}
	if s.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", s.Pending())
	}
}

func TestScheduler_ReentrantSameInstant(t *testing.T) {
	clock := timectrl.NewClock(start)
	s := New(clock)

	var order []string
	s.Schedule(start.Add(time.Second), func() {
		order = append(order, "outer")
		s.Schedule(s.Now(), func() { order = append(order, "inner") })
	})

	if err := s.AdvanceTo(start.Add(time.Second)); err != nil {
		t.Fatalf("AdvanceTo: %v", err)
	}
	if len(order) != 2 || order[1] != "inner" {
		t.Fatalf("order = %v, want [outer inner]", order)
	}
}

func TestScheduler_RunJumpsBetweenEvents(t *testing.T) {
	clock := timectrl.NewClock(start)
	s := New(clock)

	var seen []time.Time
	for _, d := range []time.Duration{3 * time.Second, time.Second, 10 * time.Second} {
		s.Schedule(start.Add(d), func() { seen = append(seen, clock.Now()) })
	}

	if err := s.Run(context.Background(), start.Add(5*time.Second)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("ran %d events before bound, want 2", len(seen))
	}
	if !seen[0].Equal(start.Add(time.Second)) || !seen[1].Equal(start.Add(3*time.Second)) {
		t.Fatalf("event times = %v", seen)
	}
	if !clock.Now().Equal(start.Add(5 * time.Second)) {
		t.Fatalf("clock = %v, want bound", clock.Now())
	}

	if err := s.Run(context.Background(), time.Time{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("ran %d events total, want 3", len(seen))
	}
}

func TestScheduler_AdvanceToNeedsSettableClock(t *testing.T) {
	s := New(&readOnlyClock{now: start})
	if err := s.AdvanceTo(start.Add(time.Second)); err == nil {
		t.Fatalf("expected error advancing a read-only clock")
	}
}

func TestScheduler_RunHonoursContext(t *testing.T) {
	clock := timectrl.NewClock(start)
	s := New(clock)
	s.Schedule(start.Add(time.Second), func() {})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx, time.Time{}); err == nil {
		t.Fatalf("expected context error")
	}
}
