package core

import (
	"fmt"
	"time"
)

// DecisionKind tags a Decision.
type DecisionKind int

const (
	// DecisionNotAgain means the event must not be delivered again.
	DecisionNotAgain DecisionKind = iota
	// DecisionScheduleAt means the event must be delivered again at At.
	DecisionScheduleAt
)

// Decision is what the decider asks of the event kernel after handling an
// event: either nothing more, or a redelivery at a given instant.
type Decision struct {
	kind DecisionKind
	at   time.Time
}

// NotAgain returns the "do not resubmit" decision.
func NotAgain() Decision {
	return Decision{kind: DecisionNotAgain}
}

// ScheduleAt returns a decision requesting redelivery at t.
func ScheduleAt(t time.Time) Decision {
	return Decision{kind: DecisionScheduleAt, at: t}
}

// Kind returns the decision tag.
func (d Decision) Kind() DecisionKind { return d.kind }

// At returns the redelivery instant and true for DecisionScheduleAt.
func (d Decision) At() (time.Time, bool) {
	if d.kind != DecisionScheduleAt {
		return time.Time{}, false
	}
	return d.at, true
}

func (d Decision) String() string {
	if d.kind == DecisionScheduleAt {
		return fmt.Sprintf("schedule-at(%s)", d.at.Format(time.RFC3339Nano))
	}
	return "not-again"
}
