// Package linkbudget turns radio parameters and geometry into received power
// profiles, including SGP4 satellite passes over a ground receiver.
package linkbudget

import (
	"errors"
	"fmt"
	"math"
)

// FrequencyBand represents a simple [min,max] GHz band.
type FrequencyBand struct {
	MinGHz float64 `json:"min_ghz"`
	MaxGHz float64 `json:"max_ghz"`
}

// CenterGHz returns the mid-band frequency.
func (b FrequencyBand) CenterGHz() float64 {
	return (b.MinGHz + b.MaxGHz) / 2
}

// TransceiverModel describes the RF characteristics of a radio.
type TransceiverModel struct {
	ID   string        `json:"id"`
	Band FrequencyBand `json:"band"`

	TxPowerDBw float64 `json:"tx_power_dbw,omitempty"`
	GainTxDBi  float64 `json:"gain_tx_dbi,omitempty"`
	GainRxDBi  float64 `json:"gain_rx_dbi,omitempty"`

	// NoiseFigureDB raises the receiver noise floor above thermal noise.
	NoiseFigureDB float64 `json:"noise_figure_db,omitempty"`
	// BandwidthMHz is the receiver noise bandwidth.
	BandwidthMHz float64 `json:"bandwidth_mhz,omitempty"`

	// MaxRangeKm cuts the link beyond this distance; 0 = unlimited.
	MaxRangeKm float64 `json:"max_range_km,omitempty"`
}

// Validate checks the fields a link budget depends on.
func (tm *TransceiverModel) Validate() error {
	if tm == nil {
		return errors.New("linkbudget: nil transceiver")
	}
	if tm.Band.MinGHz <= 0 || tm.Band.MaxGHz < tm.Band.MinGHz {
		return fmt.Errorf("linkbudget: transceiver %q has invalid band %+v", tm.ID, tm.Band)
	}
	if tm.BandwidthMHz < 0 || tm.NoiseFigureDB < 0 {
		return fmt.Errorf("linkbudget: transceiver %q has negative bandwidth or noise figure", tm.ID)
	}
	return nil
}

// IsCompatible returns true if the frequency bands overlap at all.
func (tm *TransceiverModel) IsCompatible(other *TransceiverModel) bool {
	return !(tm.Band.MaxGHz < other.Band.MinGHz || tm.Band.MinGHz > other.Band.MaxGHz)
}

// FreeSpacePathLossDB is 92.45 + 20 log10(d_km) + 20 log10(f_GHz).
func FreeSpacePathLossDB(distanceKm, fGHz float64) float64 {
	if distanceKm < 1e-3 {
		distanceKm = 1e-3
	}
	return 92.45 + 20*math.Log10(distanceKm) + 20*math.Log10(fGHz)
}

// ReceivedPowerDBm is the free-space received power of a tx→rx link.
func ReceivedPowerDBm(tx, rx *TransceiverModel, distanceKm float64) float64 {
	prDBw := tx.TxPowerDBw + tx.GainTxDBi + rx.GainRxDBi - FreeSpacePathLossDB(distanceKm, tx.Band.CenterGHz())
	return prDBw + 30
}

// thermalNoiseDBmPerHz is kT at 290 K.
const thermalNoiseDBmPerHz = -174.0

// defaultBandwidthMHz is used when a receiver leaves BandwidthMHz unset.
const defaultBandwidthMHz = 1.0

// NoiseFloorDBm is the receiver's thermal noise over its bandwidth plus its
// noise figure.
func NoiseFloorDBm(rx *TransceiverModel) float64 {
	bw := rx.BandwidthMHz
	if bw <= 0 {
		bw = defaultBandwidthMHz
	}
	return thermalNoiseDBmPerHz + 10*math.Log10(bw*1e6) + rx.NoiseFigureDB
}
