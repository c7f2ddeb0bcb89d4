package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/snr-decider/core"
)

// DeciderCollector bundles Prometheus metrics for reception decisions and
// channel sensing. It satisfies core.MetricsRecorder so deciders can report
// directly into it.
type DeciderCollector struct {
	gatherer prometheus.Gatherer

	Arrivals     *prometheus.CounterVec
	Receptions   *prometheus.CounterVec
	SenseAnswers *prometheus.CounterVec
	SenseWait    prometheus.Histogram
	ChannelBusy  *prometheus.GaugeVec
}

var _ core.MetricsRecorder = (*DeciderCollector)(nil)

// NewDeciderCollector registers decider metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewDeciderCollector(reg prometheus.Registerer) (*DeciderCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	arrivals, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "decider_arrivals_total",
		Help: "Signal arrivals seen by deciders, labeled by outcome (accepted, busy, too_weak).",
	}, []string{"outcome"}), "decider_arrivals_total")
	if err != nil {
		return nil, err
	}

	receptions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "decider_receptions_total",
		Help: "Completed receptions, labeled by outcome (decoded, dropped).",
	}, []string{"outcome"}), "decider_receptions_total")
	if err != nil {
		return nil, err
	}

	answers, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "decider_sense_answers_total",
		Help: "Answered channel sense requests, labeled by sense mode.",
	}, []string{"mode"}), "decider_sense_answers_total")
	if err != nil {
		return nil, err
	}

	wait, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "decider_sense_wait_seconds",
		Help:    "Simulated time between a sense request being issued and answered.",
		Buckets: []float64{0, 0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 10, 60},
	}), "decider_sense_wait_seconds")
	if err != nil {
		return nil, err
	}

	busy, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "decider_channel_busy",
		Help: "1 while the node's decider is receiving a signal, 0 otherwise.",
	}, []string{"node"}), "decider_channel_busy")
	if err != nil {
		return nil, err
	}

	return &DeciderCollector{
		gatherer:     gatherer,
		Arrivals:     arrivals,
		Receptions:   receptions,
		SenseAnswers: answers,
		SenseWait:    wait,
		ChannelBusy:  busy,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *DeciderCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *DeciderCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveArrival counts an arrival outcome.
func (c *DeciderCollector) ObserveArrival(outcome core.ArrivalOutcome) {
	if c == nil || c.Arrivals == nil {
		return
	}
	c.Arrivals.WithLabelValues(string(outcome)).Inc()
}

// ObserveReception counts a completed reception.
func (c *DeciderCollector) ObserveReception(decoded bool) {
	if c == nil || c.Receptions == nil {
		return
	}
	outcome := "dropped"
	if decoded {
		outcome = "decoded"
	}
	c.Receptions.WithLabelValues(outcome).Inc()
}

// ObserveSenseAnswer counts an answered sense request and its simulated wait.
func (c *DeciderCollector) ObserveSenseAnswer(mode core.SenseMode, wait time.Duration) {
	if c == nil {
		return
	}
	if c.SenseAnswers != nil {
		c.SenseAnswers.WithLabelValues(mode.String()).Inc()
	}
	if c.SenseWait != nil {
		c.SenseWait.Observe(wait.Seconds())
	}
}

// SetChannelBusy updates the receiving gauge of a node.
func (c *DeciderCollector) SetChannelBusy(node string, busy bool) {
	if c == nil || c.ChannelBusy == nil {
		return
	}
	v := 0.0
	if busy {
		v = 1
	}
	c.ChannelBusy.WithLabelValues(node).Set(v)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
