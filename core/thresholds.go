package core

import (
	"fmt"
	"math"
)

// Thresholds are the two fixed scalars the decider works with, in linear
// units.
type Thresholds struct {
	// Sensitivity is the minimum received power (mW) at which reception is
	// attempted. Channel level below it counts as idle.
	Sensitivity float64
	// SNRThreshold is the linear SNR a signal must strictly exceed for its
	// whole duration to be decoded.
	SNRThreshold float64
}

// ThresholdsFromDB converts a sensitivity in dBm and an SNR threshold in dB.
func ThresholdsFromDB(sensitivityDBm, snrThresholdDB float64) Thresholds {
	return Thresholds{
		Sensitivity:  DBmToMilliwatt(sensitivityDBm),
		SNRThreshold: DBToRatio(snrThresholdDB),
	}
}

// Validate checks that both thresholds are usable numbers.
func (t Thresholds) Validate() error {
	if math.IsNaN(t.Sensitivity) || math.IsInf(t.Sensitivity, 0) || t.Sensitivity < 0 {
		return fmt.Errorf("invalid sensitivity %v mW", t.Sensitivity)
	}
	if math.IsNaN(t.SNRThreshold) || math.IsInf(t.SNRThreshold, 0) {
		return fmt.Errorf("invalid SNR threshold %v", t.SNRThreshold)
	}
	return nil
}

// DBmToMilliwatt converts dBm to mW.
func DBmToMilliwatt(dbm float64) float64 {
	return math.Pow(10, dbm/10)
}

// MilliwattToDBm converts mW to dBm. Zero power maps to -Inf.
func MilliwattToDBm(mw float64) float64 {
	return 10 * math.Log10(mw)
}

// DBToRatio converts a dB value to a linear ratio.
func DBToRatio(db float64) float64 {
	return math.Pow(10, db/10)
}

// RatioToDB converts a linear ratio to dB.
func RatioToDB(ratio float64) float64 {
	return 10 * math.Log10(ratio)
}
