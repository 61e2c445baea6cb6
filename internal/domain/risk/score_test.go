package risk

import (
	"math"
	"reflect"
	"testing"

	"github.com/drfirst/go-periop/internal/domain/apperror"
)

func TestDVTBandBoundaries(t *testing.T) {
	cases := map[int]Band{0: BandLow, 2: BandLow, 3: BandModerate, 4: BandModerate, 5: BandHigh, 12: BandHigh}
	for total, want := range cases {
		if got := DVTBand(total); got != want {
			t.Errorf("DVTBand(%d) = %s, want %s", total, got, want)
		}
	}

	if s := DVTScore(DVTFactors{Immobilization: true}); s.Raw != 2 || s.Band != BandLow {
		t.Errorf("immobilization only: got %d/%s", s.Raw, s.Band)
	}
	if s := DVTScore(DVTFactors{MajorSurgery: true}); s.Raw != 3 || s.Band != BandModerate {
		t.Errorf("major surgery only: got %d/%s", s.Raw, s.Band)
	}
	if s := DVTScore(DVTFactors{Age: 75}); s.Raw != 5 || s.Band != BandHigh {
		t.Errorf("age 75 only: got %d/%s", s.Raw, s.Band)
	}
}

func TestDVTAgeBandsAreExclusive(t *testing.T) {
	cases := map[int]int{18: 0, 40: 0, 41: 1, 60: 1, 61: 3, 74: 3, 75: 5, 92: 5}
	for age, want := range cases {
		if got := DVTScore(DVTFactors{Age: age}).Raw; got != want {
			t.Errorf("age %d: got %d points, want %d", age, got, want)
		}
	}
}

func TestDVTFullTable(t *testing.T) {
	s := DVTScore(DVTFactors{
		Age: 80, MajorSurgery: true, ActiveCancer: true, PriorDVT: true,
		Immobilization: true, Pregnancy: true, Obesity: true,
		OralContraceptives: true, VaricoseVeins: true,
	})
	if s.Raw != 5+3+3+3+2+2+1+1+1 {
		t.Errorf("expected every factor to score, got %d", s.Raw)
	}
	if !s.Available || s.Kind != KindDVT {
		t.Errorf("unexpected score metadata: %+v", s)
	}
}

func dvtFromMask(age int, mask int) DVTFactors {
	bit := func(i int) bool { return mask&(1<<i) != 0 }
	return DVTFactors{
		Age:                age,
		MajorSurgery:       bit(0),
		ActiveCancer:       bit(1),
		PriorDVT:           bit(2),
		Immobilization:     bit(3),
		Pregnancy:          bit(4),
		Obesity:            bit(5),
		OralContraceptives: bit(6),
		VaricoseVeins:      bit(7),
	}
}

func TestDVTMonotonicInEveryFactor(t *testing.T) {
	for _, age := range []int{30, 50, 65, 80} {
		for mask := 0; mask < 1<<8; mask++ {
			base := DVTScore(dvtFromMask(age, mask)).Raw
			for i := 0; i < 8; i++ {
				if mask&(1<<i) != 0 {
					continue
				}
				flipped := DVTScore(dvtFromMask(age, mask|1<<i)).Raw
				if flipped < base {
					t.Fatalf("age %d mask %08b: flipping factor %d lowered score %d -> %d", age, mask, i, base, flipped)
				}
			}
		}
	}
}

func TestBleedingBandBoundaries(t *testing.T) {
	cases := map[int]Band{0: BandLow, 1: BandModerate, 2: BandModerate, 3: BandHigh, 8: BandHigh}
	for total, want := range cases {
		if got := BleedingBand(total); got != want {
			t.Errorf("BleedingBand(%d) = %s, want %s", total, got, want)
		}
	}
}

func TestBleedingScore(t *testing.T) {
	if s := BleedingScore(BleedingFactors{Age: 64}); s.Raw != 0 || s.Band != BandLow {
		t.Errorf("age 64 should not score, got %d/%s", s.Raw, s.Band)
	}
	if s := BleedingScore(BleedingFactors{Age: 65}); s.Raw != 1 || s.Band != BandModerate {
		t.Errorf("age 65 should score one point, got %d/%s", s.Raw, s.Band)
	}

	all := BleedingScore(BleedingFactors{
		Age: 70, BleedingHistory: true, LiverDisease: true, RenalImpairment: true,
		Thrombocytopenia: true, Anticoagulants: true, NSAIDsOrAntiplatelets: true, AlcoholAbuse: true,
	})
	if all.Raw != 8 || all.Band != BandHigh {
		t.Errorf("expected max score 8/HIGH, got %d/%s", all.Raw, all.Band)
	}
}

func TestBleedingMonotonic(t *testing.T) {
	build := func(mask int) BleedingFactors {
		bit := func(i int) bool { return mask&(1<<i) != 0 }
		f := BleedingFactors{
			BleedingHistory: bit(1), LiverDisease: bit(2), RenalImpairment: bit(3),
			Thrombocytopenia: bit(4), Anticoagulants: bit(5), NSAIDsOrAntiplatelets: bit(6), AlcoholAbuse: bit(7),
		}
		if bit(0) {
			f.Age = 70
		}
		return f
	}
	for mask := 0; mask < 1<<8; mask++ {
		base := BleedingScore(build(mask)).Raw
		for i := 0; i < 8; i++ {
			if mask&(1<<i) == 0 && BleedingScore(build(mask|1<<i)).Raw < base {
				t.Fatalf("mask %08b: factor %d lowered the score", mask, i)
			}
		}
	}
}

// bradenWithTotal spreads total (6..23) over the six subscales
func bradenWithTotal(t *testing.T, total int) BradenSubscales {
	t.Helper()
	vals := []int{1, 1, 1, 1, 1, 1}
	maxes := []int{4, 4, 4, 4, 4, 3}
	remaining := total - BradenMin
	for i := range vals {
		for remaining > 0 && vals[i] < maxes[i] {
			vals[i]++
			remaining--
		}
	}
	if remaining != 0 {
		t.Fatalf("cannot build braden total %d", total)
	}
	return BradenSubscales{
		SensoryPerception: vals[0], Moisture: vals[1], Activity: vals[2],
		Mobility: vals[3], Nutrition: vals[4], FrictionShear: vals[5],
	}
}

func TestBradenBandBoundaries(t *testing.T) {
	cases := map[int]Band{
		6: BandVeryHigh, 9: BandVeryHigh, 10: BandHigh, 12: BandHigh, 13: BandModerate,
		14: BandModerate, 15: BandMild, 18: BandMild, 19: BandNoRisk, 23: BandNoRisk,
	}
	for total, want := range cases {
		s, err := BradenScore(bradenWithTotal(t, total))
		if err != nil {
			t.Fatalf("total %d: unexpected error: %v", total, err)
		}
		if s.Raw != total {
			t.Errorf("expected raw %d, got %d", total, s.Raw)
		}
		if s.Band != want {
			t.Errorf("Braden %d = %s, want %s", total, s.Band, want)
		}
	}
}

func TestBradenPartialInputIsUnavailable(t *testing.T) {
	b := bradenWithTotal(t, 15)
	b.Mobility = 0

	s, err := BradenScore(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Available {
		t.Error("expected unrated subscale to make the score unavailable")
	}
	if s.Band != BandUnavailable {
		t.Errorf("expected UNAVAILABLE band, got %s", s.Band)
	}
}

func TestBradenOutOfRange(t *testing.T) {
	b := bradenWithTotal(t, 15)
	b.FrictionShear = 4

	_, err := BradenScore(b)
	if !apperror.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNutritionalRiskWellNourished(t *testing.T) {
	s := NutritionalRisk(NutritionFactors{HeightCM: 170, WeightKG: 70, AlbuminGDL: 4.0, LymphocytesPerUL: 2000})
	if s.BMI == nil || *s.BMI != 24.2 {
		t.Fatalf("expected bmi 24.2, got %v", s.BMI)
	}
	if s.Band != BandWellNourished || s.Raw != 0 {
		t.Errorf("expected 0/WELL_NOURISHED, got %d/%s", s.Raw, s.Band)
	}
}

func TestNutritionalRiskSevere(t *testing.T) {
	s := NutritionalRisk(NutritionFactors{
		HeightCM: 150, WeightKG: 40, AlbuminGDL: 3.0, LymphocytesPerUL: 1200,
		RecentWeightLoss: true, PoorOralIntake: true,
	})
	if s.BMI == nil || *s.BMI != 17.8 {
		t.Fatalf("expected bmi 17.8, got %v", s.BMI)
	}
	if s.Raw != 7 {
		t.Errorf("expected 7 risk factors, got %d", s.Raw)
	}
	if s.Band != BandSevereMalnutrition {
		t.Errorf("expected SEVERE_MALNUTRITION, got %s", s.Band)
	}
}

func TestNutritionalRiskObese(t *testing.T) {
	s := NutritionalRisk(NutritionFactors{HeightCM: 160, WeightKG: 90})
	if s.Raw != 1 || s.Band != BandAtRisk {
		t.Errorf("expected obesity to score 1/AT_RISK, got %d/%s", s.Raw, s.Band)
	}
}

func TestNutritionalRiskUnavailableWithoutAnthropometrics(t *testing.T) {
	for _, f := range []NutritionFactors{
		{HeightCM: 0, WeightKG: 70},
		{HeightCM: 170, WeightKG: 0},
		{},
	} {
		s := NutritionalRisk(f)
		if s.Available || s.BMI != nil {
			t.Errorf("expected unavailable score for %+v, got %+v", f, s)
		}
	}
}

func TestCompositeFormula(t *testing.T) {
	dvt := Score{Kind: KindDVT, Raw: 6, Available: true}
	bleeding := Score{Kind: KindBleeding, Raw: 2, Available: true}
	braden := Score{Kind: KindPressureSore, Raw: 22, Available: true}
	nutri := NutritionalRisk(NutritionFactors{HeightCM: 170, WeightKG: 70})

	c, err := CompositeFitness(dvt, bleeding, braden, nutri, 2, FitnessFitWithPrecautions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.FinalScore == nil || *c.FinalScore != 3 {
		t.Fatalf("expected (6+2+1)/3 = 3, got %v", c.FinalScore)
	}
	if c.Incomplete {
		t.Error("expected complete composite")
	}
	if c.NutritionalBand != BandWellNourished || c.ASAClass != 2 {
		t.Errorf("advisory context not carried: %+v", c)
	}
}

func TestCompositeIncompleteWhenBradenMissing(t *testing.T) {
	dvt := Score{Kind: KindDVT, Raw: 1, Available: true}
	bleeding := Score{Kind: KindBleeding, Raw: 0, Available: true}
	nutri := NutritionalRisk(NutritionFactors{HeightCM: 170, WeightKG: 70})

	c, err := CompositeFitness(dvt, bleeding, unavailable(KindPressureSore), nutri, 0, FitnessFit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Incomplete {
		t.Error("expected incomplete flag")
	}
	if c.FinalScore != nil {
		t.Errorf("missing braden must not be scored as zero risk, got %v", *c.FinalScore)
	}
}

func TestCompositeIncompleteWhenNutritionMissing(t *testing.T) {
	dvt := Score{Kind: KindDVT, Raw: 3, Available: true}
	bleeding := Score{Kind: KindBleeding, Raw: 3, Available: true}
	braden := Score{Kind: KindPressureSore, Raw: 23, Available: true}

	c, err := CompositeFitness(dvt, bleeding, braden, NutritionalRisk(NutritionFactors{}), 0, FitnessHighRisk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Incomplete {
		t.Error("expected incomplete flag")
	}
	if c.FinalScore == nil || *c.FinalScore != 2 {
		t.Errorf("nutrition is advisory, final score should still be 2, got %v", c.FinalScore)
	}
}

func TestCompositeRequiresFitnessCategory(t *testing.T) {
	s := Score{Available: true}
	n := NutritionalScore{Score: Score{Available: true}}

	if _, err := CompositeFitness(s, s, s, n, 1, ""); !apperror.IsValidation(err) {
		t.Errorf("expected validation error for missing category, got %v", err)
	}
	if _, err := CompositeFitness(s, s, s, n, 1, "MAYBE"); !apperror.IsValidation(err) {
		t.Errorf("expected validation error for unknown category, got %v", err)
	}
	if _, err := CompositeFitness(s, s, s, n, 7, FitnessFit); !apperror.IsValidation(err) {
		t.Errorf("expected validation error for ASA 7, got %v", err)
	}
}

func sampleInput() FactorInput {
	return FactorInput{
		DVT:             DVTFactors{Age: 68, MajorSurgery: true, Obesity: true},
		Bleeding:        BleedingFactors{Age: 68, Anticoagulants: true},
		Braden:          BradenSubscales{SensoryPerception: 3, Moisture: 3, Activity: 2, Mobility: 3, Nutrition: 2, FrictionShear: 2},
		Nutrition:       NutritionFactors{HeightCM: 165, WeightKG: 82, AlbuminGDL: 3.4, LymphocytesPerUL: 1800},
		ASAClass:        3,
		FitnessCategory: FitnessFitWithPrecautions,
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	in := sampleInput()

	first, err := Evaluate(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Evaluate(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("recomputation differs:\n%+v\n%+v", first, second)
	}
	if math.Float64bits(*first.Composite.FinalScore) != math.Float64bits(*second.Composite.FinalScore) {
		t.Error("final score not bit-identical")
	}
	if !reflect.DeepEqual(in, sampleInput()) {
		t.Error("input mutated by evaluation")
	}
}

func TestEvaluateSample(t *testing.T) {
	a, err := Evaluate(sampleInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 68y: +3, major surgery +3, obesity +1
	if a.DVT.Raw != 7 || a.DVT.Band != BandHigh {
		t.Errorf("dvt: got %d/%s", a.DVT.Raw, a.DVT.Band)
	}
	if a.Bleeding.Raw != 2 || a.Bleeding.Band != BandModerate {
		t.Errorf("bleeding: got %d/%s", a.Bleeding.Raw, a.Bleeding.Band)
	}
	if a.Braden.Raw != 15 || a.Braden.Band != BandMild {
		t.Errorf("braden: got %d/%s", a.Braden.Raw, a.Braden.Band)
	}
	// bmi 30.1: +1, albumin 3.4: +2
	if a.Nutritional.Raw != 3 || a.Nutritional.Band != BandModerateMalnutrition {
		t.Errorf("nutrition: got %d/%s", a.Nutritional.Raw, a.Nutritional.Band)
	}
	if *a.Composite.FinalScore != float64(7+2+8)/3 {
		t.Errorf("unexpected final score %v", *a.Composite.FinalScore)
	}
}
