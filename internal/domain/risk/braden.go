package risk

import (
	"fmt"

	"github.com/drfirst/go-periop/internal/domain/apperror"
)

// Braden scale bounds
const (
	BradenMin = 6
	BradenMax = 23
)

// BradenSubscales holds the six Braden subscale ratings. Zero means "not rated".
type BradenSubscales struct {
	SensoryPerception int `json:"sensoryPerception"`
	Moisture          int `json:"moisture"`
	Activity          int `json:"activity"`
	Mobility          int `json:"mobility"`
	Nutrition         int `json:"nutrition"`
	FrictionShear     int `json:"frictionShear"`
}

type subscale struct {
	name  string
	value int
	max   int
}

func (b BradenSubscales) subscales() []subscale {
	return []subscale{
		{"sensoryPerception", b.SensoryPerception, 4},
		{"moisture", b.Moisture, 4},
		{"activity", b.Activity, 4},
		{"mobility", b.Mobility, 4},
		{"nutrition", b.Nutrition, 4},
		{"frictionShear", b.FrictionShear, 3},
	}
}

// BradenScore sums the subscales. A subscale left unrated makes the score
// unavailable; a rating outside its range is a validation error.
func BradenScore(b BradenSubscales) (Score, error) {
	total := 0
	missing := false
	for _, s := range b.subscales() {
		if s.value == 0 {
			missing = true
			continue
		}
		if s.value < 1 || s.value > s.max {
			return Score{}, apperror.Invalid("braden."+s.name, fmt.Sprintf("must be between 1 and %d", s.max))
		}
		total += s.value
	}
	if missing {
		return unavailable(KindPressureSore), nil
	}
	return Score{Kind: KindPressureSore, Raw: total, Band: BradenBand(total), Available: true}, nil
}

// BradenBand maps a Braden total onto its band
func BradenBand(total int) Band {
	switch {
	case total <= 9:
		return BandVeryHigh
	case total <= 12:
		return BandHigh
	case total <= 14:
		return BandModerate
	case total <= 18:
		return BandMild
	default:
		return BandNoRisk
	}
}
