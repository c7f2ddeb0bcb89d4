// Package phy hosts the receiving radio: it turns scheduled signal and sense
// events into decider calls, executes the decider's rescheduling decisions
// on the simulation scheduler and hands results to the layer above.
package phy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/snr-decider/core"
	"github.com/signalsfoundry/snr-decider/internal/logging"
	"github.com/signalsfoundry/snr-decider/internal/medium"
	"github.com/signalsfoundry/snr-decider/internal/observability"
	"github.com/signalsfoundry/snr-decider/internal/sched"
)

// Upper receives what the radio delivers upwards.
type Upper interface {
	// Decoded is called for every signal the decider forwards.
	Decoded(ctx context.Context, sig *core.Signal, res core.Result)
	// SenseAnswered is called when a sense request has its result.
	SenseAnswered(ctx context.Context, req *core.SenseRequest)
}

// Event kinds reported to the scheduler collector.
const (
	EventArrival = "arrival"
	EventEnd     = "end"
	EventSense   = "sense"
)

var (
	// ErrDuplicateSignal is returned when a signal is transmitted while it is
	// still scheduled or on the air.
	ErrDuplicateSignal = errors.New("phy: signal already in flight")
	// ErrSenseInProgress is returned when a request is resubmitted while the
	// decider is still working on it.
	ErrSenseInProgress = errors.New("phy: sense request already in progress")
)

type senseEvent struct {
	eventID string
	ctx     context.Context
}

// Radio is one receiving interface. All of its methods must run on the
// scheduler's goroutine.
type Radio struct {
	id     string
	sched  sched.EventScheduler
	medium *medium.Medium
	upper  Upper

	decider *core.Decider

	log          logging.Logger
	tracer       trace.Tracer
	metrics      *observability.DeciderCollector
	schedMetrics *observability.SchedulerCollector

	sense map[string]senseEvent
	// inFlight holds every transmitted signal until it has arrived and
	// ended; the value records whether the arrival has run.
	inFlight map[*core.Signal]bool
}

var _ core.Phy = (*Radio)(nil)

// Option customises Radio construction.
type Option func(*Radio)

// WithLogger sets the radio's logger. The decider logs through it as well.
func WithLogger(l logging.Logger) Option {
	return func(r *Radio) {
		if l != nil {
			r.log = l
		}
	}
}

// WithTracer overrides the tracer used for per-event spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Radio) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithMetrics wires decider and scheduler collectors. Either may be nil.
func WithMetrics(dc *observability.DeciderCollector, sc *observability.SchedulerCollector) Option {
	return func(r *Radio) {
		r.metrics = dc
		r.schedMetrics = sc
	}
}

// WithUpper sets the consumer of decoded signals and sense answers.
func WithUpper(u Upper) Option {
	return func(r *Radio) {
		if u != nil {
			r.upper = u
		}
	}
}

// NewRadio builds a radio named id listening on m and driven by s.
func NewRadio(id string, s sched.EventScheduler, m *medium.Medium, th core.Thresholds, opts ...Option) (*Radio, error) {
	if id == "" {
		return nil, errors.New("phy: empty radio id")
	}
	if s == nil {
		return nil, errors.New("phy: nil scheduler")
	}
	if m == nil {
		return nil, errors.New("phy: nil medium")
	}

	r := &Radio{
		id:     id,
		sched:  s,
		medium: m,
		upper:  NewRecorder(),
		log:    logging.Noop(),
		tracer: observability.Tracer(),
		sense:  make(map[string]senseEvent),

		inFlight: make(map[*core.Signal]bool),
	}
	for _, opt := range opts {
		opt(r)
	}

	deciderOpts := []core.Option{core.WithLogger(r.log)}
	if r.metrics != nil {
		deciderOpts = append(deciderOpts, core.WithMetrics(r.metrics))
	}
	d, err := core.NewDecider(r, m, th, deciderOpts...)
	if err != nil {
		return nil, fmt.Errorf("phy: radio %s: %w", id, err)
	}
	r.decider = d
	r.metrics.SetChannelBusy(id, false)
	return r, nil
}

// ID returns the radio's name.
func (r *Radio) ID() string { return r.id }

// Decider exposes the radio's decider.
func (r *Radio) Decider() *core.Decider { return r.decider }

// Medium exposes the radio's view of the air.
func (r *Radio) Medium() *medium.Medium { return r.medium }

// Upper returns the configured upper layer.
func (r *Radio) Upper() Upper { return r.upper }

// Now returns the scheduler's simulation time.
func (r *Radio) Now() time.Time { return r.sched.Now() }

// Transmit schedules sig to reach this radio at sig.Start. The signal is put
// on the medium when it arrives whether or not the decider receives it, so it
// interferes with any ongoing reception. A signal may be transmitted once;
// resubmitting it before it has ended returns ErrDuplicateSignal.
func (r *Radio) Transmit(ctx context.Context, sig *core.Signal) error {
	if sig == nil {
		return core.ErrNilSignal
	}
	if sig.Power == nil {
		return fmt.Errorf("phy: signal %s: %w", sig.ID, core.ErrNilFunction)
	}
	if sig.Start.Before(r.Now()) {
		return fmt.Errorf("phy: signal %s starts at %s, before now %s", sig.ID, sig.Start, r.Now())
	}
	if _, dup := r.inFlight[sig]; dup {
		return fmt.Errorf("phy: signal %s: %w", sig.ID, ErrDuplicateSignal)
	}
	r.inFlight[sig] = false

	evCtx := r.eventContext(ctx)
	r.sched.ScheduleWithPriority(sig.Start, sched.PrioritySignalStart, func() {
		r.inFlight[sig] = true
		r.medium.Add(sig)
		r.deliverSignal(evCtx, sig, EventArrival)
	})
	r.logger(evCtx).Debug(evCtx, "signal scheduled",
		logging.String("signal_id", sig.ID),
		logging.Time("start", sig.Start),
		logging.Duration("duration", sig.Duration))
	return nil
}

// Sense hands a channel sense request to the decider. The answer arrives
// through Upper.SenseAnswered, immediately or at a later simulation time.
// Resubmitting the request still being worked on returns ErrSenseInProgress.
func (r *Radio) Sense(ctx context.Context, req *core.SenseRequest) error {
	if req == nil {
		return core.ErrNilSenseRequest
	}
	switch pending := r.decider.PendingSense(); {
	case pending == req:
		return fmt.Errorf("phy: sense request %s: %w", req.ID, ErrSenseInProgress)
	case pending != nil:
		return fmt.Errorf("phy: sense request %s: %w", req.ID, core.ErrSenseRequestPending)
	}

	evCtx := r.eventContext(ctx)
	r.observe(evCtx, EventSense, func(ctx context.Context) core.Decision {
		return r.decider.HandleSenseRequest(ctx, req)
	}, func(dec core.Decision) {
		if at, ok := dec.At(); ok {
			r.scheduleSense(evCtx, req, at)
		}
	}, attribute.String("sense_id", req.ID), attribute.String("sense_mode", req.Mode.String()))
	return nil
}

// SenseAt issues req at simulation time at.
func (r *Radio) SenseAt(ctx context.Context, at time.Time, req *core.SenseRequest) {
	evCtx := r.eventContext(ctx)
	r.sched.ScheduleWithPriority(at, sched.PrioritySense, func() {
		if err := r.Sense(evCtx, req); err != nil {
			r.logger(evCtx).Warn(evCtx, "sense request rejected", logging.String("sense_id", req.ID), logging.Err(err))
		}
	})
}

// SendUp implements core.Phy.
func (r *Radio) SendUp(ctx context.Context, sig *core.Signal, res core.Result) {
	r.upper.Decoded(ctx, sig, res)
}

// SendControl implements core.Phy.
func (r *Radio) SendControl(ctx context.Context, req *core.SenseRequest) {
	r.upper.SenseAnswered(ctx, req)
}

// RescheduleSense implements core.Phy.
func (r *Radio) RescheduleSense(req *core.SenseRequest, at time.Time) {
	ev, ok := r.sense[req.ID]
	ctx := context.Background()
	if ok {
		r.sched.Cancel(ev.eventID)
		ctx = ev.ctx
	}
	r.scheduleSense(ctx, req, at)
}

// CancelSense implements core.Phy.
func (r *Radio) CancelSense(req *core.SenseRequest) {
	if ev, ok := r.sense[req.ID]; ok {
		r.sched.Cancel(ev.eventID)
		delete(r.sense, req.ID)
	}
}

func (r *Radio) scheduleSense(ctx context.Context, req *core.SenseRequest, at time.Time) {
	id := r.sched.ScheduleWithPriority(at, sched.PrioritySense, func() {
		delete(r.sense, req.ID)
		r.observe(ctx, EventSense, func(ctx context.Context) core.Decision {
			return r.decider.HandleSenseRequest(ctx, req)
		}, func(dec core.Decision) {
			if at, ok := dec.At(); ok {
				r.scheduleSense(ctx, req, at)
			}
		}, attribute.String("sense_id", req.ID), attribute.String("sense_mode", req.Mode.String()))
	})
	r.sense[req.ID] = senseEvent{eventID: id, ctx: ctx}
}

func (r *Radio) deliverSignal(ctx context.Context, sig *core.Signal, kind string) {
	r.observe(ctx, kind, func(ctx context.Context) core.Decision {
		return r.decider.ProcessSignal(ctx, sig)
	}, func(dec core.Decision) {
		if at, ok := dec.At(); ok {
			r.sched.ScheduleWithPriority(at, sched.PrioritySignalEnd, func() {
				r.deliverSignal(ctx, sig, EventEnd)
			})
		}
		r.metrics.SetChannelBusy(r.id, r.decider.Receiving())
		r.prune(ctx)
	}, attribute.String("signal_id", sig.ID))
}

// prune drops signals that can no longer interfere with anything: those
// that ended before now and before the ongoing reception started.
func (r *Radio) prune(ctx context.Context) {
	horizon := r.Now()
	if cur := r.decider.Current(); cur != nil && cur.Start.Before(horizon) {
		horizon = cur.Start
	}
	for sig, arrived := range r.inFlight {
		if arrived && !sig.End().After(horizon) {
			delete(r.inFlight, sig)
		}
	}
	if n := r.medium.Prune(horizon); n > 0 {
		r.logger(ctx).Debug(ctx, "pruned finished signals", logging.Int("count", n))
	}
}

// observe runs one decider call inside a span and reports it to the
// scheduler collector. after sees the decision before the span ends.
func (r *Radio) observe(ctx context.Context, kind string, call func(context.Context) core.Decision, after func(core.Decision), attrs ...attribute.KeyValue) {
	started := time.Now()
	ctx, span := r.tracer.Start(ctx, "radio."+kind, trace.WithAttributes(
		append(attrs,
			attribute.String("node_id", r.id),
			attribute.String("sim_time", r.Now().Format(time.RFC3339Nano)),
		)...,
	))
	defer func() {
		if rec := recover(); rec != nil {
			span.SetStatus(codes.Error, fmt.Sprint(rec))
			span.End()
			panic(rec)
		}
		span.End()
	}()

	dec := call(ctx)
	span.SetAttributes(attribute.String("decision", dec.String()))
	if after != nil {
		after(dec)
	}

	r.schedMetrics.ObserveEvent(kind, time.Since(started))
	if p, ok := r.sched.(interface{ Pending() int }); ok {
		r.schedMetrics.SetPending(p.Pending())
	}
}

func (r *Radio) logger(ctx context.Context) logging.Logger {
	return logging.FromContext(ctx, r.log)
}

func (r *Radio) eventContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return logging.ContextWithNode(context.WithoutCancel(ctx), r.id)
}
