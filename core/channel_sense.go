package core

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/snr-decider/internal/logging"
)

// IsIdle classifies a channel level: idle strictly below sensitivity.
func (d *Decider) IsIdle(level float64) bool {
	return level < d.thresholds.Sensitivity
}

// ChannelState returns the channel condition at the current simulation time.
func (d *Decider) ChannelState(ctx context.Context) ChannelState {
	now := d.phy.Now()
	rssi := d.medium.RSSI(now, now)
	requireFunction(rssi, "rssi")

	level := rssi.ValueAt(now)
	return ChannelState{Idle: d.IsIdle(level), Level: level}
}

// HandleSenseRequest accepts a sense request event. The first delivery of a
// request registers it and either answers it at once or returns the instant
// it must be delivered again; the redelivery answers it.
func (d *Decider) HandleSenseRequest(ctx context.Context, req *SenseRequest) Decision {
	if req == nil {
		panic(ErrNilSenseRequest)
	}
	switch d.sense.req {
	case nil:
		return d.handleNewSenseRequest(ctx, req)
	case req:
		d.AnswerSenseRequest(ctx, req)
		return NotAgain()
	default:
		panic(fmt.Errorf("%w: %s while handling %s", ErrSenseRequestPending, req.ID, d.sense.req.ID))
	}
}

func (d *Decider) handleNewSenseRequest(ctx context.Context, req *SenseRequest) Decision {
	now := d.phy.Now()
	req.Start = now
	req.Result = nil
	d.sense = pendingSense{req: req}

	at := d.AnswerTime(req)
	if !at.After(now) {
		d.AnswerSenseRequest(ctx, req)
		return NotAgain()
	}

	d.sense.canAnswerAt = at
	d.logger(ctx).Debug(ctx, "sense request pending",
		logging.String("request_id", req.ID),
		logging.String("mode", req.Mode.String()),
		logging.Time("answer_at", at))
	return ScheduleAt(at)
}

// AnswerSenseRequest writes the current channel state into req, hands it
// back through the phy and clears the pending slot if req occupied it.
func (d *Decider) AnswerSenseRequest(ctx context.Context, req *SenseRequest) {
	state := d.ChannelState(ctx)
	now := d.phy.Now()
	req.Result = &state
	req.AnsweredAt = now

	d.logger(ctx).Debug(ctx, "answering sense request",
		logging.String("request_id", req.ID),
		logging.Bool("idle", state.Idle),
		logging.Float64("level_mw", state.Level))

	if d.sense.req == req {
		d.sense = pendingSense{}
	}
	// A request answered without being registered has no start to measure
	// the wait from.
	if d.metrics != nil && !req.Start.IsZero() {
		d.metrics.ObserveSenseAnswer(req.Mode, now.Sub(req.Start))
	}
	d.phy.SendControl(ctx, req)
}

// AnswerTime returns the earliest instant req can be answered, without
// answering it: the deadline for UntilTimeout, otherwise the first instant
// in [now, deadline) at which the channel matches the requested state, or
// the deadline when it never does.
func (d *Decider) AnswerTime(req *SenseRequest) time.Time {
	deadline := req.Deadline()
	if req.Mode == UntilTimeout {
		return deadline
	}
	if req.Mode != UntilIdle && req.Mode != UntilBusy {
		panic(fmt.Errorf("%w: %v", ErrUnknownSenseMode, req.Mode))
	}
	untilIdle := req.Mode == UntilIdle

	now := d.phy.Now()
	rssi := d.medium.RSSI(now, deadline)
	requireTimeDomain(rssi, "rssi")

	it := rssi.Iterator(now)
	if d.IsIdle(it.Value()) == untilIdle {
		return now
	}
	for bp, ok := it.Peek(); ok && bp.At.Before(deadline); bp, ok = it.Peek() {
		it.Next()
		if d.IsIdle(it.Value()) == untilIdle {
			return it.Position()
		}
	}
	return deadline
}

// ChannelStateChanged re-evaluates the pending sense request after the
// channel level changed: it is answered now if possible, otherwise its
// redelivery is moved when the answer time changed.
func (d *Decider) ChannelStateChanged(ctx context.Context) {
	req := d.sense.req
	if req == nil {
		return
	}

	now := d.phy.Now()
	at := d.AnswerTime(req)
	switch {
	case !at.After(now):
		d.phy.CancelSense(req)
		d.AnswerSenseRequest(ctx, req)
	case !at.Equal(d.sense.canAnswerAt):
		d.phy.RescheduleSense(req, at)
		d.sense.canAnswerAt = at
	}
}
