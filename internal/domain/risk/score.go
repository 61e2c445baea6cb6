// Package risk implements the perioperative risk sub-scores and the composite
// readiness aggregate. Every scoring function is pure: same input, same output,
// no clock and no shared state.
package risk

// Kind identifies a sub-scale
type Kind string

const (
	KindDVT          Kind = "DVT"
	KindBleeding     Kind = "BLEEDING"
	KindPressureSore Kind = "PRESSURE_SORE"
	KindNutritional  Kind = "NUTRITIONAL"
)

// Band is the categorical outcome of a sub-scale
type Band string

// DVT and bleeding bands
const (
	BandLow      Band = "LOW"
	BandModerate Band = "MODERATE"
	BandHigh     Band = "HIGH"
)

// Braden bands. Lower Braden totals are worse.
const (
	BandVeryHigh Band = "VERY_HIGH"
	BandMild     Band = "MILD"
	BandNoRisk   Band = "NO_RISK"
)

// Nutritional bands
const (
	BandSevereMalnutrition   Band = "SEVERE_MALNUTRITION"
	BandModerateMalnutrition Band = "MODERATE_MALNUTRITION"
	BandAtRisk               Band = "AT_RISK"
	BandWellNourished        Band = "WELL_NOURISHED"
)

// BandUnavailable marks a sub-score that could not be computed from the input.
const BandUnavailable Band = "UNAVAILABLE"

// Score is one sub-scale result
type Score struct {
	Kind      Kind `json:"kind"`
	Raw       int  `json:"score"`
	Band      Band `json:"band"`
	Available bool `json:"available"`
}

func unavailable(kind Kind) Score {
	return Score{Kind: kind, Band: BandUnavailable}
}
