package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/snr-decider/core"
	"github.com/signalsfoundry/snr-decider/internal/logging"
	"github.com/signalsfoundry/snr-decider/internal/medium"
	"github.com/signalsfoundry/snr-decider/internal/observability"
	"github.com/signalsfoundry/snr-decider/internal/phy"
	"github.com/signalsfoundry/snr-decider/internal/scenario"
	"github.com/signalsfoundry/snr-decider/internal/sched"
	"github.com/signalsfoundry/snr-decider/mapping"
	"github.com/signalsfoundry/snr-decider/timectrl"
)

func main() {
	scenarioPath := flag.String("scenario", "configs/scenario.json", "Path to a JSON reception scenario")
	until := flag.Duration("until", 0, "stop after this much simulated time (0 = run until no events remain)")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics (empty disables)")
	linger := flag.Duration("linger", 0, "keep serving /metrics this long after the run finishes")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	reg := prometheus.NewRegistry()
	var metricsSrv *http.Server
	if *metricsAddr != "" {
		metricsSrv = serveMetrics(*metricsAddr, reg, log)
	}

	rep, err := run(ctx, runConfig{
		ScenarioPath: *scenarioPath,
		Until:        *until,
		Registry:     reg,
		Log:          log,
	})
	if err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
	rep.print(os.Stdout)

	if metricsSrv != nil {
		if *linger > 0 {
			log.Info(ctx, "run finished; still serving metrics", logging.Duration("linger", *linger))
			select {
			case <-time.After(*linger):
			case <-ctx.Done():
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
}

type runConfig struct {
	ScenarioPath string
	Until        time.Duration
	Registry     *prometheus.Registry
	Log          logging.Logger
}

// run loads the scenario, drives it to completion and summarises the outcome.
func run(ctx context.Context, cfg runConfig) (*report, error) {
	log := cfg.Log
	if log == nil {
		log = logging.Noop()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	scn, err := scenario.LoadFile(cfg.ScenarioPath)
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "loaded scenario",
		logging.String("path", cfg.ScenarioPath),
		logging.String("receiver", scn.ReceiverID),
		logging.Int("signals", len(scn.Signals)),
		logging.Int("sense_requests", len(scn.Senses)),
		logging.Float64("noise_dbm", scn.NoiseDBm))

	deciderMetrics, err := observability.NewDeciderCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("decider metrics: %w", err)
	}
	schedMetrics, err := observability.NewSchedulerCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("scheduler metrics: %w", err)
	}

	clock := timectrl.NewClock(scn.Start)
	clock.AddListener(func(now time.Time) {
		schedMetrics.SetElapsed(now.Sub(scn.Start))
	})
	scheduler := sched.New(clock)

	upper := phy.NewRecorder()
	upper.OnDecoded(func(rec phy.Reception) {
		log.Info(ctx, "signal decoded",
			logging.String("signal_id", rec.Signal.ID),
			logging.String("source", rec.Signal.Source),
			logging.Duration("at", clock.Elapsed()))
	})

	radio, err := phy.NewRadio(scn.ReceiverID, scheduler, medium.NewWithNoiseDBm(scn.NoiseDBm), scn.Thresholds,
		phy.WithLogger(log),
		phy.WithUpper(upper),
		phy.WithMetrics(deciderMetrics, schedMetrics),
		phy.WithTracer(observability.Tracer()),
	)
	if err != nil {
		return nil, err
	}

	for _, sig := range scn.Signals {
		if err := radio.Transmit(ctx, sig); err != nil {
			return nil, fmt.Errorf("schedule signal %s: %w", sig.ID, err)
		}
	}
	for _, ev := range scn.Senses {
		radio.SenseAt(ctx, ev.At, ev.Request)
	}

	var until time.Time
	if cfg.Until > 0 {
		until = scn.Start.Add(cfg.Until)
	}
	if err := scheduler.Run(ctx, until); err != nil && !errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("run: %w", err)
	}
	log.Info(ctx, "simulation finished",
		logging.Duration("elapsed", clock.Elapsed()),
		logging.Int("pending_events", scheduler.Pending()))

	return buildReport(scn, upper, clock.Elapsed()), nil
}

type signalOutcome struct {
	ID       string
	Source   string
	Start    time.Duration
	Duration time.Duration
	Outcome  string
	MinSNRdB float64
	HasSNR   bool
}

type senseOutcome struct {
	ID         string
	Mode       core.SenseMode
	IssuedAt   time.Duration
	AnsweredAt time.Duration
	Answered   bool
	Idle       bool
	LevelDBm   float64
}

type report struct {
	Elapsed time.Duration
	Signals []signalOutcome
	Senses  []senseOutcome
}

func buildReport(scn *scenario.Scenario, upper *phy.Recorder, elapsed time.Duration) *report {
	decoded := make(map[*core.Signal]bool)
	for _, rec := range upper.Receptions() {
		decoded[rec.Signal] = rec.Result.Decoded
	}

	rep := &report{Elapsed: elapsed}
	for _, sig := range scn.Signals {
		out := signalOutcome{
			ID:       sig.ID,
			Source:   sig.Source,
			Start:    sig.Start.Sub(scn.Start),
			Duration: sig.Duration,
			Outcome:  "not received",
		}
		if sig.SNR != nil {
			out.Outcome = "dropped"
			out.MinSNRdB = core.RatioToDB(minOver(sig.SNR, sig.Start, sig.End()))
			out.HasSNR = true
		}
		if decoded[sig] {
			out.Outcome = "decoded"
		}
		rep.Signals = append(rep.Signals, out)
	}

	for _, ev := range scn.Senses {
		req := ev.Request
		out := senseOutcome{ID: req.ID, Mode: req.Mode, IssuedAt: ev.At.Sub(scn.Start)}
		if req.Answered() {
			out.Answered = true
			out.AnsweredAt = req.AnsweredAt.Sub(scn.Start)
			out.Idle = req.Result.Idle
			out.LevelDBm = core.MilliwattToDBm(req.Result.Level)
		}
		rep.Senses = append(rep.Senses, out)
	}
	return rep
}

// minOver returns the smallest value fn takes at its breakpoints in
// [from, to], including both ends.
func minOver(fn mapping.Mapping, from, to time.Time) float64 {
	it := fn.Iterator(from)
	minV := it.Value()
	for bp, ok := it.Next(); ok && !bp.At.After(to); bp, ok = it.Next() {
		minV = math.Min(minV, bp.Value)
	}
	return math.Min(minV, fn.ValueAt(to))
}

func (r *report) print(w io.Writer) {
	fmt.Fprintf(w, "Simulated %s\n\n", r.Elapsed)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SIGNAL\tSOURCE\tSTART\tDURATION\tOUTCOME\tMIN SNR (dB)")
	for _, s := range r.Signals {
		snr := "-"
		if s.HasSNR {
			snr = formatDB(s.MinSNRdB)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Source, s.Start, s.Duration, s.Outcome, snr)
	}
	_ = tw.Flush()

	if len(r.Senses) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SENSE\tMODE\tISSUED\tANSWERED\tSTATE\tLEVEL (dBm)")
	for _, s := range r.Senses {
		if !s.Answered {
			fmt.Fprintf(tw, "%s\t%s\t%s\t-\tpending\t-\n", s.ID, s.Mode, s.IssuedAt)
			continue
		}
		state := "busy"
		if s.Idle {
			state = "idle"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Mode, s.IssuedAt, s.AnsweredAt, state, formatDB(s.LevelDBm))
	}
	_ = tw.Flush()
}

func formatDB(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+inf"
	case math.IsInf(v, -1):
		return "-inf"
	default:
		return fmt.Sprintf("%.1f", v)
	}
}

func serveMetrics(addr string, gatherer prometheus.Gatherer, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
