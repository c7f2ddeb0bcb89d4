// Package scenario loads a reception scenario from JSON: one receiver, its
// thresholds and noise floor, the signals that reach it and the channel sense
// requests issued against it.
package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/signalsfoundry/snr-decider/core"
	"github.com/signalsfoundry/snr-decider/internal/linkbudget"
	"github.com/signalsfoundry/snr-decider/mapping"
)

// DefaultStart is used when a scenario does not name its start instant.
var DefaultStart = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// Scenario is a fully resolved reception scenario.
type Scenario struct {
	Start      time.Time
	ReceiverID string
	Thresholds core.Thresholds
	NoiseDBm   float64

	Signals []*core.Signal
	Senses  []SenseEvent

	Transceivers map[string]*linkbudget.TransceiverModel
}

// SenseEvent is a sense request issued at At.
type SenseEvent struct {
	At      time.Time
	Request *core.SenseRequest
}

// End returns the instant the last signal or sense deadline falls on.
func (s *Scenario) End() time.Time {
	end := s.Start
	for _, sig := range s.Signals {
		if sig.End().After(end) {
			end = sig.End()
		}
	}
	for _, ev := range s.Senses {
		if d := ev.At.Add(ev.Request.Timeout); d.After(end) {
			end = d
		}
	}
	return end
}

// internal JSON shapes, unexported so the format can evolve.
type scenarioJSON struct {
	Start        *time.Time                     `json:"start"`
	Receiver     receiverJSON                   `json:"receiver"`
	Transceivers []*linkbudget.TransceiverModel `json:"transceivers"`
	Signals      []signalJSON                   `json:"signals"`
	Senses       []senseJSON                    `json:"sense_requests"`
}

type receiverJSON struct {
	ID             string   `json:"id"`
	SensitivityDBm float64  `json:"sensitivity_dbm"`
	SNRThresholdDB float64  `json:"snr_threshold_db"`
	NoiseDBm       *float64 `json:"noise_dbm"`      // optional
	TransceiverID  string   `json:"transceiver_id"` // noise floor from the model when noise_dbm is unset
}

type signalJSON struct {
	ID            string      `json:"id"`
	Source        string      `json:"source"`
	Start         duration    `json:"start"`
	Duration      duration    `json:"duration"`
	Interpolation string      `json:"interpolation"` // "hold" | "linear"
	PowerDBm      []powerJSON `json:"power_dbm"`
	Pass          *passJSON   `json:"pass"`
}

type powerJSON struct {
	Offset duration `json:"offset"`
	DBm    float64  `json:"dbm"`
}

type passJSON struct {
	TLE1            string   `json:"tle1"`
	TLE2            string   `json:"tle2"`
	Ground          geoJSON  `json:"ground"`
	TxID            string   `json:"tx"`
	RxID            string   `json:"rx"`
	MinElevationDeg float64  `json:"min_elevation_deg"`
	Step            duration `json:"step"`
}

type geoJSON struct {
	LatDeg float64 `json:"lat_deg"`
	LonDeg float64 `json:"lon_deg"`
	AltKm  float64 `json:"alt_km"`
}

type senseJSON struct {
	At      duration `json:"at"`
	Mode    string   `json:"mode"`
	Timeout duration `json:"timeout"`
}

// duration accepts Go duration strings ("250ms") or integer nanoseconds.
type duration time.Duration

func (d *duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("duration must be a string like \"10ms\" or integer nanoseconds: %s", b)
	}
	*d = duration(n)
	return nil
}

// LoadFile reads a scenario from path.
func LoadFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: open %q: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes and resolves a scenario from r.
func Load(r io.Reader) (*Scenario, error) {
	var payload scenarioJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("scenario: decode failed: %w", err)
	}

	scn := &Scenario{
		Start:        DefaultStart,
		ReceiverID:   payload.Receiver.ID,
		Thresholds:   core.ThresholdsFromDB(payload.Receiver.SensitivityDBm, payload.Receiver.SNRThresholdDB),
		Transceivers: make(map[string]*linkbudget.TransceiverModel, len(payload.Transceivers)),
	}
	if payload.Start != nil {
		scn.Start = payload.Start.UTC()
	}
	if scn.ReceiverID == "" {
		scn.ReceiverID = "rx"
	}
	if err := scn.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("scenario: receiver: %w", err)
	}

	for i, trx := range payload.Transceivers {
		if trx == nil {
			return nil, fmt.Errorf("scenario: transceivers[%d] is null", i)
		}
		if err := trx.Validate(); err != nil {
			return nil, fmt.Errorf("scenario: transceivers[%d]: %w", i, err)
		}
		if _, dup := scn.Transceivers[trx.ID]; dup {
			return nil, fmt.Errorf("scenario: duplicate transceiver %q", trx.ID)
		}
		scn.Transceivers[trx.ID] = trx
	}

	noise, err := scn.noiseDBm(payload.Receiver)
	if err != nil {
		return nil, err
	}
	scn.NoiseDBm = noise

	for i, sj := range payload.Signals {
		sig, err := scn.buildSignal(sj)
		if err != nil {
			return nil, fmt.Errorf("scenario: signals[%d]: %w", i, err)
		}
		scn.Signals = append(scn.Signals, sig)
	}

	for i, sj := range payload.Senses {
		mode, err := core.ParseSenseMode(sj.Mode)
		if err != nil {
			return nil, fmt.Errorf("scenario: sense_requests[%d]: %w", i, err)
		}
		if sj.Timeout < 0 || sj.At < 0 {
			return nil, fmt.Errorf("scenario: sense_requests[%d]: negative at or timeout", i)
		}
		scn.Senses = append(scn.Senses, SenseEvent{
			At:      scn.Start.Add(time.Duration(sj.At)),
			Request: core.NewSenseRequest(mode, time.Duration(sj.Timeout)),
		})
	}
	return scn, nil
}

func (s *Scenario) noiseDBm(rx receiverJSON) (float64, error) {
	if rx.NoiseDBm != nil {
		return *rx.NoiseDBm, nil
	}
	if rx.TransceiverID == "" {
		return 0, errors.New("scenario: receiver needs noise_dbm or transceiver_id")
	}
	trx, ok := s.Transceivers[rx.TransceiverID]
	if !ok {
		return 0, fmt.Errorf("scenario: receiver transceiver %q not found", rx.TransceiverID)
	}
	return linkbudget.NoiseFloorDBm(trx), nil
}

func (s *Scenario) buildSignal(sj signalJSON) (*core.Signal, error) {
	if sj.Start < 0 || sj.Duration < 0 {
		return nil, errors.New("negative start or duration")
	}
	start := s.Start.Add(time.Duration(sj.Start))
	dur := time.Duration(sj.Duration)

	var (
		power mapping.Mapping
		err   error
	)
	switch {
	case sj.Pass != nil && len(sj.PowerDBm) > 0:
		return nil, errors.New("power_dbm and pass are mutually exclusive")
	case sj.Pass != nil:
		power, err = s.passPower(sj.Pass, start, dur)
	case len(sj.PowerDBm) > 0:
		power, err = powerFunction(sj, start)
	default:
		return nil, errors.New("signal needs power_dbm or pass")
	}
	if err != nil {
		return nil, err
	}

	sig := core.NewSignal(start, dur, power)
	if sj.ID != "" {
		sig.ID = sj.ID
	}
	sig.Source = sj.Source
	return sig, nil
}

func powerFunction(sj signalJSON, start time.Time) (mapping.Mapping, error) {
	mode := mapping.Hold
	switch strings.ToLower(sj.Interpolation) {
	case "", "hold":
	case "linear":
		mode = mapping.Linear
	default:
		return nil, fmt.Errorf("unknown interpolation %q", sj.Interpolation)
	}

	points := make([]mapping.Breakpoint, 0, len(sj.PowerDBm))
	for _, p := range sj.PowerDBm {
		points = append(points, mapping.Breakpoint{
			At:    start.Add(time.Duration(p.Offset)),
			Value: core.DBmToMilliwatt(p.DBm),
		})
	}
	return mapping.New(points, mode)
}

func (s *Scenario) passPower(pj *passJSON, start time.Time, dur time.Duration) (mapping.Mapping, error) {
	orbit, err := linkbudget.NewOrbit(pj.TLE1, pj.TLE2)
	if err != nil {
		return nil, err
	}
	tx, ok := s.Transceivers[pj.TxID]
	if !ok {
		return nil, fmt.Errorf("pass tx transceiver %q not found", pj.TxID)
	}
	rx, ok := s.Transceivers[pj.RxID]
	if !ok {
		return nil, fmt.Errorf("pass rx transceiver %q not found", pj.RxID)
	}
	if !tx.IsCompatible(rx) {
		return nil, fmt.Errorf("pass transceivers %q and %q share no band", tx.ID, rx.ID)
	}

	step := time.Duration(pj.Step)
	if step == 0 {
		step = time.Second
	}
	pass := &linkbudget.Pass{
		Orbit:           orbit,
		Ground:          linkbudget.GeodeticToECEF(pj.Ground.LatDeg, pj.Ground.LonDeg, pj.Ground.AltKm),
		Tx:              tx,
		Rx:              rx,
		MinElevationDeg: pj.MinElevationDeg,
	}
	return pass.Profile(start, dur, step)
}
