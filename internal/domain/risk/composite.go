package risk

import (
	"fmt"

	"github.com/drfirst/go-periop/internal/domain/apperror"
)

// FitnessCategory is the clinician-entered fitness recommendation
type FitnessCategory string

const (
	FitnessFit                FitnessCategory = "FIT"
	FitnessFitWithPrecautions FitnessCategory = "FIT_WITH_PRECAUTIONS"
	FitnessHighRisk           FitnessCategory = "HIGH_RISK"
	FitnessUnfit              FitnessCategory = "UNFIT"
)

// Valid reports whether c is a known category
func (c FitnessCategory) Valid() bool {
	switch c {
	case FitnessFit, FitnessFitWithPrecautions, FitnessHighRisk, FitnessUnfit:
		return true
	}
	return false
}

// ASAClass is the ASA physical status grade, 1 through 6. Zero means not recorded.
type ASAClass int

// Composite is the readiness aggregate over the four sub-scores
type Composite struct {
	FinalScore      *float64        `json:"finalScore"`
	Incomplete      bool            `json:"incomplete"`
	FitnessCategory FitnessCategory `json:"fitnessCategory"`
	ASAClass        ASAClass        `json:"asaClass,omitempty"`
	NutritionalBand Band            `json:"nutritionalBand"`
}

// CompositeFitness averages DVT, bleeding and inverted Braden totals.
// Nutrition and ASA class ride along as context and never enter the arithmetic.
// When a term of the average is unavailable FinalScore stays nil.
func CompositeFitness(dvt, bleeding, braden Score, nutritional NutritionalScore, asa ASAClass, category FitnessCategory) (Composite, error) {
	if category == "" {
		return Composite{}, apperror.Invalid("fitnessCategory", "is required")
	}
	if !category.Valid() {
		return Composite{}, apperror.Invalid("fitnessCategory", fmt.Sprintf("unknown category %q", category))
	}
	if asa < 0 || asa > 6 {
		return Composite{}, apperror.Invalid("asaClass", "must be between 1 and 6")
	}

	c := Composite{
		FitnessCategory: category,
		ASAClass:        asa,
		NutritionalBand: nutritional.Band,
		Incomplete:      !dvt.Available || !bleeding.Available || !braden.Available || !nutritional.Available,
	}

	if dvt.Available && bleeding.Available && braden.Available {
		final := float64(dvt.Raw+bleeding.Raw+(BradenMax-braden.Raw)) / 3
		c.FinalScore = &final
	}
	return c, nil
}

// FactorInput is one complete set of raw assessment inputs
type FactorInput struct {
	DVT             DVTFactors       `json:"dvt"`
	Bleeding        BleedingFactors  `json:"bleeding"`
	Braden          BradenSubscales  `json:"braden"`
	Nutrition       NutritionFactors `json:"nutrition"`
	ASAClass        ASAClass         `json:"asaClass"`
	FitnessCategory FitnessCategory  `json:"fitnessCategory"`
}

// Assessment is the full derived result for one FactorInput
type Assessment struct {
	DVT         Score            `json:"dvt"`
	Bleeding    Score            `json:"bleeding"`
	Braden      Score            `json:"braden"`
	Nutritional NutritionalScore `json:"nutritional"`
	Composite   Composite        `json:"composite"`
}

// Evaluate runs every sub-scale and the aggregator over in
func Evaluate(in FactorInput) (Assessment, error) {
	braden, err := BradenScore(in.Braden)
	if err != nil {
		return Assessment{}, err
	}

	a := Assessment{
		DVT:         DVTScore(in.DVT),
		Bleeding:    BleedingScore(in.Bleeding),
		Braden:      braden,
		Nutritional: NutritionalRisk(in.Nutrition),
	}

	a.Composite, err = CompositeFitness(a.DVT, a.Bleeding, a.Braden, a.Nutritional, in.ASAClass, in.FitnessCategory)
	if err != nil {
		return Assessment{}, err
	}
	return a, nil
}
