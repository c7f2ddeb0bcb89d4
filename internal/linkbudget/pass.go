package linkbudget

import (
	"errors"
	"fmt"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/snr-decider/core"
	"github.com/signalsfoundry/snr-decider/mapping"
)

// Orbit propagates a TLE with SGP4.
type Orbit struct {
	sat satellite.Satellite
}

// NewOrbit parses a two-line element set.
func NewOrbit(line1, line2 string) (*Orbit, error) {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)
	if len(line1) < 69 || len(line2) < 69 {
		return nil, errors.New("linkbudget: TLE lines must be 69 characters")
	}
	if line1[0] != '1' || line2[0] != '2' {
		return nil, errors.New("linkbudget: TLE lines must start with 1 and 2")
	}
	return &Orbit{sat: satellite.TLEToSat(line1, line2, satellite.GravityWGS72)}, nil
}

// PositionECEF returns the satellite position at t in kilometres.
// go-satellite resolves time to whole seconds.
func (o *Orbit) PositionECEF(t time.Time) Vec3 {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, _ := satellite.Propagate(o.sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	posECEF := satellite.ECIToECEF(posECI, satellite.ThetaG_JD(jd))
	return Vec3{X: posECEF.X, Y: posECEF.Y, Z: posECEF.Z}
}

// Pass describes a satellite transmitter seen by a ground receiver.
type Pass struct {
	Orbit  *Orbit
	Ground Vec3
	Tx     *TransceiverModel
	Rx     *TransceiverModel

	// MinElevationDeg masks the satellite below this elevation.
	MinElevationDeg float64
}

// ReceivedPowerMW is the received power at t, zero when the satellite is
// masked, blocked or out of range.
func (p *Pass) ReceivedPowerMW(t time.Time) float64 {
	sat := p.Orbit.PositionECEF(t)
	if !HasLineOfSight(p.Ground, sat) || ElevationDegrees(p.Ground, sat) < p.MinElevationDeg {
		return 0
	}
	dist := p.Ground.DistanceTo(sat)
	if p.Tx.MaxRangeKm > 0 && dist > p.Tx.MaxRangeKm {
		return 0
	}
	return core.DBmToMilliwatt(ReceivedPowerDBm(p.Tx, p.Rx, dist))
}

// Profile samples the received power every step over [start, start+duration]
// and returns it as a Hold function. The last sample is taken at the end
// even when duration is not a multiple of step.
func (p *Pass) Profile(start time.Time, duration, step time.Duration) (*mapping.Function, error) {
	if p.Orbit == nil {
		return nil, errors.New("linkbudget: pass without orbit")
	}
	if err := p.Tx.Validate(); err != nil {
		return nil, err
	}
	if err := p.Rx.Validate(); err != nil {
		return nil, err
	}
	if step < time.Second {
		return nil, fmt.Errorf("linkbudget: step %s below SGP4 resolution of 1s", step)
	}
	if duration < 0 {
		return nil, fmt.Errorf("linkbudget: negative duration %s", duration)
	}

	end := start.Add(duration)
	var points []mapping.Breakpoint
	for t := start; t.Before(end); t = t.Add(step) {
		points = append(points, mapping.Breakpoint{At: t, Value: p.ReceivedPowerMW(t)})
	}
	points = append(points, mapping.Breakpoint{At: end, Value: p.ReceivedPowerMW(end)})
	return mapping.New(points, mapping.Hold)
}
