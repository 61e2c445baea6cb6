package risk

// BleedingFactors are the HAS-BLED-style inputs
type BleedingFactors struct {
	Age                   int  `json:"age"`
	BleedingHistory       bool `json:"bleedingHistory"`
	LiverDisease          bool `json:"liverDisease"`
	RenalImpairment       bool `json:"renalImpairment"`
	Thrombocytopenia      bool `json:"thrombocytopenia"`
	Anticoagulants        bool `json:"anticoagulants"`
	NSAIDsOrAntiplatelets bool `json:"nsaidsOrAntiplatelets"`
	AlcoholAbuse          bool `json:"alcoholAbuse"`
}

// BleedingScore counts one point per present factor, eight at most
func BleedingScore(f BleedingFactors) Score {
	total := 0
	for _, present := range []bool{
		f.Age >= 65,
		f.BleedingHistory,
		f.LiverDisease,
		f.RenalImpairment,
		f.Thrombocytopenia,
		f.Anticoagulants,
		f.NSAIDsOrAntiplatelets,
		f.AlcoholAbuse,
	} {
		if present {
			total++
		}
	}
	return Score{Kind: KindBleeding, Raw: total, Band: BleedingBand(total), Available: true}
}

// BleedingBand maps a bleeding total onto its band
func BleedingBand(total int) Band {
	switch {
	case total >= 3:
		return BandHigh
	case total >= 1:
		return BandModerate
	default:
		return BandLow
	}
}
