package core

// ImportPlan is the preview shown to the user before confirming an import.
type ImportPlan struct {
	TotalRows   int `json:"totalRows"`
	ToInsert    int `json:"toInsert"`
	ToUpdate    int `json:"toUpdate"`
	ToDelete    int `json:"toDelete"`
	Preserved   int `json:"preserved"`
	CurrentInDB int `json:"currentInDb"`
	Duplicates  int `json:"duplicates"`
	MissingKey  int `json:"missingKey"`
}

// FileKeys returns the distinct keys carried by the candidates.
func FileKeys(candidates []CandidateRecord) KeySet {
	keys := make(KeySet, len(candidates))
	for _, c := range candidates {
		if c.Cartel > 0 {
			keys.Add(c.Cartel)
		}
	}
	return keys
}

// Plan computes reconciliation counts without touching storage.
//
//	toInsert  = |fileKeys \ persisted|
//	toUpdate  = |fileKeys ∩ persisted|
//	toDelete  = |persisted \ (fileKeys ∪ protected)|
//	preserved = |protected|
//
// Plan is pure: the same inputs always give the same plan.
func Plan(candidates []CandidateRecord, persisted, protected KeySet) ImportPlan {
	fileKeys := FileKeys(candidates)

	plan := ImportPlan{
		TotalRows:   len(candidates),
		Preserved:   protected.Len(),
		CurrentInDB: persisted.Len(),
	}

	for _, c := range candidates {
		if c.Cartel <= 0 {
			plan.MissingKey++
		}
	}
	plan.Duplicates = len(candidates) - plan.MissingKey - fileKeys.Len()

	for k := range fileKeys {
		if persisted.Has(k) {
			plan.ToUpdate++
		} else {
			plan.ToInsert++
		}
	}
	for k := range persisted {
		if !fileKeys.Has(k) && !protected.Has(k) {
			plan.ToDelete++
		}
	}
	return plan
}

// DedupeLastWins keeps one record per key: the last occurrence in source
// order, at that occurrence's position. Records without a key are kept as is.
// It returns the surviving records and the number dropped.
func DedupeLastWins(candidates []CandidateRecord) ([]CandidateRecord, int) {
	last := make(map[Key]int, len(candidates))
	for i, c := range candidates {
		if c.Cartel > 0 {
			last[c.Cartel] = i
		}
	}

	out := make([]CandidateRecord, 0, len(candidates))
	dropped := 0
	for i, c := range candidates {
		if c.Cartel > 0 && last[c.Cartel] != i {
			dropped++
			continue
		}
		out = append(out, c)
	}
	return out, dropped
}
