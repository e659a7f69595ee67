package matchmaking

import (
	"math"
	"sort"
)

// Term caps. Together they add up to 100, which makes the raw total the
// display scale.
const (
	interestSharedBase   = 20.0
	interestBreadthBonus = 6.0
	interestCap          = 40.0
	needsCap             = 35.0
	ageCap               = 15.0
	locationCap          = 10.0
)

// MatchEngine computes compatibility between profiles and ranks candidate
// pools. All methods are pure: no I/O, no shared state, no clock.
type MatchEngine interface {
	Compatibility(subject, candidate *ProfileAttributes, distanceKm *float64) CompatibilityResult
	Rank(subject *ProfileAttributes, candidates []*ProfileAttributes, distances map[string]float64, minScore float64, elig EligibilityContext) []RankedCandidate
}

type matchEngine struct{}

// NewMatchEngine returns the weighted-sum scoring engine.
func NewMatchEngine() MatchEngine {
	return &matchEngine{}
}

// Compatibility scores candidate against subject. A nil distance skips the
// location term (contributes 0, not a penalty). Malformed profiles score 0
// rather than failing, so callers never special-case scorer errors.
func (e *matchEngine) Compatibility(subject, candidate *ProfileAttributes, distanceKm *float64) CompatibilityResult {
	if !scoreable(subject) || !scoreable(candidate) {
		return CompatibilityResult{CommonInterests: []string{}, CommonNeeds: []Need{}}
	}

	result := CompatibilityResult{}
	result.Breakdown.Interests, result.CommonInterests = interestsScore(subject.Interests, candidate.Interests)
	result.Breakdown.Needs, result.CommonNeeds = needsScore(subject.Needs, candidate.Needs)
	result.Breakdown.Age = ageScore(subject.Age, candidate.Age) * ageWeight(subject.AgePreference)
	if distanceKm != nil {
		result.Breakdown.Location = locationScore(*distanceKm) * locationWeight(subject.LocationPreference)
	}

	result.Score = result.Breakdown.Interests +
		result.Breakdown.Needs +
		result.Breakdown.Age +
		result.Breakdown.Location
	return result
}

func scoreable(p *ProfileAttributes) bool {
	return p != nil && p.ID != "" && p.Age >= 18 && p.Age <= 100
}

// interestsScore awards a fixed base per shared interest, scaled by the
// interest's category weight, plus a flat bonus when the overlap spans at
// least three distinct categories. Capped at interestCap.
func interestsScore(subject, candidate []string) (float64, []string) {
	subjectSet := make(map[string]bool, len(subject))
	for _, s := range subject {
		subjectSet[s] = true
	}

	var score float64
	common := make([]string, 0)
	categories := make(map[Category]bool)
	for _, interest := range candidate {
		if !subjectSet[interest] {
			continue
		}
		common = append(common, interest)
		weight := 1.0
		if c, ok := CategoryOf(interest); ok {
			weight = CategoryWeight(c)
			categories[c] = true
		}
		score += interestSharedBase * weight
	}
	if len(categories) >= 3 {
		score += interestBreadthBonus
	}
	sort.Strings(common)
	return math.Min(score, interestCap), common
}

// needsScore averages the affinity matrix over every (subjectNeed,
// candidateNeed) pair and normalizes into the needs band.
func needsScore(subject, candidate []Need) (float64, []Need) {
	common := make([]Need, 0)
	if len(subject) == 0 || len(candidate) == 0 {
		return 0, common
	}

	candidateSet := make(map[Need]bool, len(candidate))
	for _, n := range candidate {
		candidateSet[n] = true
	}
	for _, n := range subject {
		if candidateSet[n] {
			common = append(common, n)
		}
	}
	sort.Slice(common, func(i, j int) bool { return common[i] < common[j] })

	var sum float64
	pairs := 0
	for _, sn := range subject {
		for _, cn := range candidate {
			sum += NeedAffinity(sn, cn)
			pairs++
		}
	}
	avg := sum / float64(pairs)
	return avg / maxNeedAffinity * needsCap, common
}

// ageScore is banded by absolute age difference, decaying stepwise to zero
// beyond 15 years.
func ageScore(a, b int) float64 {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff <= 2:
		return ageCap
	case diff <= 5:
		return 12
	case diff <= 9:
		return 8
	case diff <= 15:
		return 4
	default:
		return 0
	}
}

// locationScore is banded by distance, decaying stepwise to zero beyond
// 100 km.
func locationScore(distanceKm float64) float64 {
	switch {
	case distanceKm < 0:
		return 0
	case distanceKm <= 5:
		return locationCap
	case distanceKm <= 15:
		return 8
	case distanceKm <= 40:
		return 5
	case distanceKm <= 100:
		return 2
	default:
		return 0
	}
}

func ageWeight(p AgePreference) float64 {
	if p == AgePreferenceOpen {
		return 0.5
	}
	return 1.0
}

func locationWeight(p LocationPreference) float64 {
	if p == LocationPreferenceAnywhere {
		return 0.5
	}
	return 1.0
}

// HaversineKm returns the great-circle distance between two points in km.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371 // km

	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}
