package risk

import "math"

// NutritionFactors are the anthropometric and lab inputs for nutritional risk.
// Zero lab values mean "not measured" and contribute no points.
type NutritionFactors struct {
	HeightCM         float64 `json:"heightCm"`
	WeightKG         float64 `json:"weightKg"`
	AlbuminGDL       float64 `json:"albuminGdl"`
	LymphocytesPerUL float64 `json:"lymphocytesPerUl"`
	RecentWeightLoss bool    `json:"weightLoss"`
	PoorOralIntake   bool    `json:"poorIntake"`
}

// NutritionalScore carries BMI next to the risk-factor count.
// BMI is nil when height or weight is absent.
type NutritionalScore struct {
	Score
	BMI *float64 `json:"bmi"`
}

// NutritionalRisk computes BMI and the nutritional risk-factor count
func NutritionalRisk(f NutritionFactors) NutritionalScore {
	if f.HeightCM <= 0 || f.WeightKG <= 0 {
		return NutritionalScore{Score: unavailable(KindNutritional)}
	}

	meters := f.HeightCM / 100
	bmi := f.WeightKG / (meters * meters)

	count := 0
	switch {
	case bmi < 18.5:
		count += 2
	case bmi >= 30:
		count++
	}
	if f.AlbuminGDL > 0 && f.AlbuminGDL < 3.5 {
		count += 2
	}
	if f.LymphocytesPerUL > 0 && f.LymphocytesPerUL < 1500 {
		count++
	}
	if f.RecentWeightLoss {
		count++
	}
	if f.PoorOralIntake {
		count++
	}

	reported := math.Round(bmi*10) / 10
	return NutritionalScore{
		Score: Score{Kind: KindNutritional, Raw: count, Band: NutritionalBand(count), Available: true},
		BMI:   &reported,
	}
}

// NutritionalBand maps a risk-factor count onto its band
func NutritionalBand(count int) Band {
	switch {
	case count >= 4:
		return BandSevereMalnutrition
	case count >= 2:
		return BandModerateMalnutrition
	case count >= 1:
		return BandAtRisk
	default:
		return BandWellNourished
	}
}
