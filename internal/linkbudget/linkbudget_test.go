package linkbudget

import (
	"math"
	"testing"
	"time"
)

const (
	issTLE1 = "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990"
	issTLE2 = "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760"
)

func kuRadio() *TransceiverModel {
	return &TransceiverModel{
		ID:            "ku",
		Band:          FrequencyBand{MinGHz: 11, MaxGHz: 13},
		TxPowerDBw:    10,
		GainTxDBi:     30,
		GainRxDBi:     30,
		NoiseFigureDB: 2,
		BandwidthMHz:  10,
	}
}

func TestFreeSpacePathLoss(t *testing.T) {
	// 1000 km at 12 GHz.
	want := 92.45 + 60 + 20*math.Log10(12)
	if got := FreeSpacePathLossDB(1000, 12); math.Abs(got-want) > 1e-9 {
		t.Fatalf("FSPL = %v, want %v", got, want)
	}
}

func TestReceivedPowerFallsWithDistance(t *testing.T) {
	radio := kuRadio()
	near := ReceivedPowerDBm(radio, radio, 500)
	far := ReceivedPowerDBm(radio, radio, 1000)
	if diff := near - far; math.Abs(diff-20*math.Log10(2)) > 1e-9 {
		t.Fatalf("doubling distance lost %v dB, want ~6.02", diff)
	}
}

func TestNoiseFloor(t *testing.T) {
	radio := kuRadio()
	want := -174 + 70 + 2.0
	if got := NoiseFloorDBm(radio); math.Abs(got-want) > 1e-9 {
		t.Fatalf("NoiseFloorDBm = %v, want %v", got, want)
	}
	radio.BandwidthMHz = 0
	if got := NoiseFloorDBm(radio); math.Abs(got-(-174+60+2.0)) > 1e-9 {
		t.Fatalf("default bandwidth noise floor = %v", got)
	}
}

func TestTransceiverValidateAndCompatibility(t *testing.T) {
	a := kuRadio()
	if err := a.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	bad := &TransceiverModel{ID: "bad", Band: FrequencyBand{MinGHz: 5, MaxGHz: 4}}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected invalid band error")
	}
	c := &TransceiverModel{ID: "c", Band: FrequencyBand{MinGHz: 16, MaxGHz: 20}}
	if a.IsCompatible(c) {
		t.Fatalf("ku and 16-20 GHz should not be compatible")
	}
}

func TestGeometry(t *testing.T) {
	ground := GeodeticToECEF(0, 0, 0)
	overhead := GeodeticToECEF(0, 0, 500)
	if got := ElevationDegrees(ground, overhead); math.Abs(got-90) > 1e-6 {
		t.Fatalf("overhead elevation = %v, want 90", got)
	}
	if !HasLineOfSight(ground, overhead) {
		t.Fatalf("overhead satellite should be visible")
	}
	antipode := GeodeticToECEF(0, 180, 500)
	if HasLineOfSight(ground, antipode) {
		t.Fatalf("antipodal satellite should be blocked by the Earth")
	}
}

func TestNewOrbitRejectsMalformedTLE(t *testing.T) {
	if _, err := NewOrbit("1 short", "2 short"); err == nil {
		t.Fatalf("expected error for short TLE")
	}
	if _, err := NewOrbit(issTLE2, issTLE1); err == nil {
		t.Fatalf("expected error for swapped TLE lines")
	}
}

func TestPassProfile(t *testing.T) {
	orbit, err := NewOrbit(issTLE1, issTLE2)
	if err != nil {
		t.Fatalf("NewOrbit: %v", err)
	}
	start := time.Date(2021, 10, 2, 14, 0, 0, 0, time.UTC)

	// Put the receiver directly below the satellite at start.
	sub := orbit.PositionECEF(start)
	scale := EarthRadiusKm / sub.Norm()
	ground := Vec3{X: sub.X * scale, Y: sub.Y * scale, Z: sub.Z * scale}

	pass := &Pass{Orbit: orbit, Ground: ground, Tx: kuRadio(), Rx: kuRadio(), MinElevationDeg: 10}
	profile, err := pass.Profile(start, 10*time.Second, 3*time.Second)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if profile.Len() != 5 {
		t.Fatalf("profile has %d breakpoints, want 5 (0,3,6,9,10s)", profile.Len())
	}
	if p := profile.ValueAt(start); p <= 0 {
		t.Fatalf("power overhead = %v mW, want > 0", p)
	}

	if _, err := pass.Profile(start, time.Minute, 500*time.Millisecond); err == nil {
		t.Fatalf("expected error for sub-second step")
	}
}
