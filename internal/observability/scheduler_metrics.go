package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerCollector exposes event-loop metrics for the simulation kernel.
type SchedulerCollector struct {
	gatherer prometheus.Gatherer

	EventsTotal     *prometheus.CounterVec
	HandlerDuration prometheus.Histogram
	PendingEvents   prometheus.Gauge
	SimTime         prometheus.Gauge
}

// NewSchedulerCollector registers scheduler metrics against the provided registerer.
func NewSchedulerCollector(reg prometheus.Registerer) (*SchedulerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sched_events_total",
		Help: "Simulation events executed, labeled by kind (arrival, end, sense).",
	}, []string{"kind"}), "sched_events_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sched_event_handler_duration_seconds",
		Help:    "Wall-clock time spent inside simulation event handlers.",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
	durations, err = registerHistogram(reg, durations, "sched_event_handler_duration_seconds")
	if err != nil {
		return nil, err
	}

	pending, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sched_pending_events",
		Help: "Number of events waiting in the simulation scheduler.",
	}), "sched_pending_events")
	if err != nil {
		return nil, err
	}

	simTime, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sched_sim_elapsed_seconds",
		Help: "Simulated time elapsed since the start of the run.",
	}), "sched_sim_elapsed_seconds")
	if err != nil {
		return nil, err
	}

	return &SchedulerCollector{
		gatherer:        gatherer,
		EventsTotal:     events,
		HandlerDuration: durations,
		PendingEvents:   pending,
		SimTime:         simTime,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedulerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveEvent records one executed event and its handler duration.
func (c *SchedulerCollector) ObserveEvent(kind string, d time.Duration) {
	if c == nil {
		return
	}
	if c.EventsTotal != nil {
		c.EventsTotal.WithLabelValues(kind).Inc()
	}
	if c.HandlerDuration != nil {
		c.HandlerDuration.Observe(d.Seconds())
	}
}

// SetPending updates the queue depth gauge.
func (c *SchedulerCollector) SetPending(count int) {
	if c == nil || c.PendingEvents == nil {
		return
	}
	c.PendingEvents.Set(float64(count))
}

// SetElapsed updates the simulated elapsed time gauge.
func (c *SchedulerCollector) SetElapsed(d time.Duration) {
	if c == nil || c.SimTime == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	c.SimTime.Set(d.Seconds())
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
