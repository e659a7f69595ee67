package matchmaking

import "sort"

// RankedCandidate is one row of the ranker output.
type RankedCandidate struct {
	Profile *ProfileAttributes  `json:"profile"`
	Result  CompatibilityResult `json:"result"`
}

// Rank filters candidates through the eligibility gate, scores the
// survivors, drops everything below minScore and returns the rest sorted by
// score descending, ties broken by candidate id ascending. Duplicate ids in
// the input appear at most once in the output. A missing distances entry
// means unknown distance: the location term contributes 0.
func (e *matchEngine) Rank(subject *ProfileAttributes, candidates []*ProfileAttributes, distances map[string]float64, minScore float64, elig EligibilityContext) []RankedCandidate {
	ranked := make([]RankedCandidate, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))

	for _, candidate := range candidates {
		if candidate == nil || seen[candidate.ID] {
			continue
		}
		seen[candidate.ID] = true

		if !Eligible(subject, candidate, elig) {
			continue
		}

		var distance *float64
		if d, ok := distances[candidate.ID]; ok {
			distance = &d
		}

		result := e.Compatibility(subject, candidate, distance)
		if result.Score < minScore {
			continue
		}
		ranked = append(ranked, RankedCandidate{Profile: candidate, Result: result})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Result.Score != ranked[j].Result.Score {
			return ranked[i].Result.Score > ranked[j].Result.Score
		}
		return ranked[i].Profile.ID < ranked[j].Profile.ID
	})
	return ranked
}
