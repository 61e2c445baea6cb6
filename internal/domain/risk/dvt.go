package risk

// DVTFactors are the Caprini-style venous thromboembolism inputs
type DVTFactors struct {
	Age                int  `json:"age"`
	MajorSurgery       bool `json:"majorSurgery"`
	ActiveCancer       bool `json:"activeCancer"`
	PriorDVT           bool `json:"priorDVT"`
	Immobilization     bool `json:"immobilization"`
	Pregnancy          bool `json:"pregnancy"`
	Obesity            bool `json:"obesity"`
	OralContraceptives bool `json:"oralContraceptives"`
	VaricoseVeins      bool `json:"varicoseVeins"`
}

type weightedFactor struct {
	present bool
	points  int
}

// DVTScore totals the DVT point table
func DVTScore(f DVTFactors) Score {
	total := dvtAgePoints(f.Age)

	for _, wf := range []weightedFactor{
		{f.MajorSurgery, 3},
		{f.ActiveCancer, 3},
		{f.PriorDVT, 3},
		{f.Immobilization, 2},
		{f.Pregnancy, 2},
		{f.Obesity, 1},
		{f.OralContraceptives, 1},
		{f.VaricoseVeins, 1},
	} {
		if wf.present {
			total += wf.points
		}
	}

	return Score{Kind: KindDVT, Raw: total, Band: DVTBand(total), Available: true}
}

// only the highest applicable age band scores
func dvtAgePoints(age int) int {
	switch {
	case age >= 75:
		return 5
	case age >= 61:
		return 3
	case age >= 41:
		return 1
	default:
		return 0
	}
}

// DVTBand maps a DVT total onto its band
func DVTBand(total int) Band {
	switch {
	case total >= 5:
		return BandHigh
	case total >= 3:
		return BandModerate
	default:
		return BandLow
	}
}
