package matchmaking

import (
	"fmt"
	"strings"
	"time"
)

// Gender is the stored gender of a profile. An empty PreferredGender means
// no gender constraint.
type Gender string

const (
	GenderMale        Gender = "male"
	GenderFemale      Gender = "female"
	GenderOther       Gender = "other"
	GenderUnspecified Gender = "unspecified"
)

// LocationPreference and AgePreference modulate how much the distance and
// age terms count for a profile's scores.
type LocationPreference string

const (
	LocationPreferenceNearby   LocationPreference = "nearby"
	LocationPreferenceAnywhere LocationPreference = "anywhere"
)

type AgePreference string

const (
	AgePreferenceSimilar AgePreference = "similar"
	AgePreferenceOpen    AgePreference = "open"
)

// ProfileAttributes is the normalized view of a user used for scoring and
// eligibility. It is treated as immutable for the duration of a scoring call.
type ProfileAttributes struct {
	ID                 string             `json:"id" db:"id"`
	DisplayName        string             `json:"display_name" db:"display_name"`
	Age                int                `json:"age" db:"age"`
	Gender             Gender             `json:"gender" db:"gender"`
	PreferredGender    Gender             `json:"preferred_gender,omitempty" db:"preferred_gender"`
	Interests          []string           `json:"interests" db:"interests"`
	Needs              []Need             `json:"needs" db:"needs"`
	LocationPreference LocationPreference `json:"location_preference,omitempty" db:"location_preference"`
	AgePreference      AgePreference      `json:"age_preference,omitempty" db:"age_preference"`
	Latitude           *float64           `json:"latitude,omitempty" db:"latitude"`
	Longitude          *float64           `json:"longitude,omitempty" db:"longitude"`
	Invisible          bool               `json:"invisible" db:"invisible"`
	LastActive         time.Time          `json:"last_active" db:"last_active"`
}

// HasLocation reports whether both coordinates are present.
func (p *ProfileAttributes) HasLocation() bool {
	return p != nil && p.Latitude != nil && p.Longitude != nil
}

// Validate checks the invariants the scorer relies on and normalizes the
// interest and need sets in place (lowercased, deduplicated). It is called
// once at the store boundary, not inside the scoring path.
func (p *ProfileAttributes) Validate() error {
	if p == nil {
		return fmt.Errorf("profile is nil")
	}
	if p.ID == "" {
		return fmt.Errorf("profile id is required")
	}
	if p.Age < 18 || p.Age > 100 {
		return fmt.Errorf("age %d outside allowed range 18-100", p.Age)
	}
	if (p.Latitude == nil) != (p.Longitude == nil) {
		return fmt.Errorf("latitude and longitude must be set together")
	}

	p.Interests = dedupeStrings(p.Interests)
	p.Needs = dedupeNeeds(p.Needs)

	if p.LocationPreference == "" {
		p.LocationPreference = LocationPreferenceNearby
	}
	if p.AgePreference == "" {
		p.AgePreference = AgePreferenceSimilar
	}
	return nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func dedupeNeeds(in []Need) []Need {
	seen := make(map[Need]bool, len(in))
	out := make([]Need, 0, len(in))
	for _, n := range in {
		n = Need(strings.ToLower(strings.TrimSpace(string(n))))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// ScoreBreakdown holds the per-term contributions. Terms are always >= 0 and
// sum to the total score.
type ScoreBreakdown struct {
	Interests float64 `json:"interests"`
	Needs     float64 `json:"needs"`
	Age       float64 `json:"age"`
	Location  float64 `json:"location"`
}

// CompatibilityResult is the scorer output. Score is on a 0-100 scale: the
// four term caps (40/35/15/10) add up to 100, so no further normalization is
// applied for display.
type CompatibilityResult struct {
	Score           float64        `json:"score"`
	Breakdown       ScoreBreakdown `json:"breakdown"`
	CommonInterests []string       `json:"common_interests"`
	CommonNeeds     []Need         `json:"common_needs"`
}

// Band names the quality bucket a score falls in.
func (r CompatibilityResult) Band() string {
	switch {
	case r.Score >= 90:
		return "exceptional"
	case r.Score >= 75:
		return "great"
	case r.Score >= 50:
		return "good"
	case r.Score >= 25:
		return "fair"
	default:
		return "weak"
	}
}

// ProposalStatus is the lifecycle state of a Proposal.
type ProposalStatus string

const (
	StatusPending     ProposalStatus = "pending"
	StatusAcceptedByA ProposalStatus = "accepted_by_a"
	StatusAcceptedByB ProposalStatus = "accepted_by_b"
	StatusMatched     ProposalStatus = "matched"
	StatusDeclined    ProposalStatus = "declined"
	StatusExpired     ProposalStatus = "expired"
	StatusCancelled   ProposalStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed from s.
// Matched is terminal too: a matched proposal has been handed off to chat.
func (s ProposalStatus) IsTerminal() bool {
	switch s {
	case StatusMatched, StatusDeclined, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// nonTerminalStatuses is the set a conditional transition may start from.
var nonTerminalStatuses = []ProposalStatus{StatusPending, StatusAcceptedByA, StatusAcceptedByB}

// Proposal is a tentative pairing awaiting mutual acceptance. It is the only
// stateful entity in the core; a user may appear in at most one non-terminal
// proposal at any instant.
type Proposal struct {
	ID        string         `json:"id" db:"id"`
	UserA     string         `json:"user_a" db:"user_a"`
	UserB     string         `json:"user_b" db:"user_b"`
	Status    ProposalStatus `json:"status" db:"status"`
	Score     float64        `json:"score" db:"score"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	ExpiresAt time.Time      `json:"expires_at" db:"expires_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// Participant reports whether userID is one of the two sides.
func (p *Proposal) Participant(userID string) bool {
	return p.UserA == userID || p.UserB == userID
}

// Other returns the counterpart of userID in the proposal.
func (p *Proposal) Other(userID string) string {
	if p.UserA == userID {
		return p.UserB
	}
	return p.UserA
}

// Match is a persisted mutual acceptance, emitted to the chat subsystem.
type Match struct {
	ID         string    `json:"id" db:"id"`
	UserA      string    `json:"user_a" db:"user_a"`
	UserB      string    `json:"user_b" db:"user_b"`
	ProposalID string    `json:"proposal_id" db:"proposal_id"`
	Score      float64   `json:"score" db:"score"`
	MatchedAt  time.Time `json:"matched_at" db:"matched_at"`
}

// SearchSession is the ephemeral "actively looking" state for one user.
// Excluded maps candidate ids to the time their exclusion lapses, so a
// just-declined or just-expired counterpart is not re-offered immediately.
type SearchSession struct {
	UserID     string               `json:"user_id"`
	EnteredAt  time.Time            `json:"entered_at"`
	LastSeenAt time.Time            `json:"last_seen_at"`
	Suspended  bool                 `json:"suspended"`
	Excluded   map[string]time.Time `json:"excluded,omitempty"`
}

// NewSearchSession creates a fresh session entered at now.
func NewSearchSession(userID string, now time.Time) *SearchSession {
	return &SearchSession{
		UserID:     userID,
		EnteredAt:  now,
		LastSeenAt: now,
		Excluded:   make(map[string]time.Time),
	}
}

// Exclude keeps id out of this session's candidate pool until the deadline.
func (s *SearchSession) Exclude(id string, until time.Time) {
	if s.Excluded == nil {
		s.Excluded = make(map[string]time.Time)
	}
	s.Excluded[id] = until
}

// ExcludedIDs returns the ids still under exclusion at now, dropping lapsed
// entries as a side effect.
func (s *SearchSession) ExcludedIDs(now time.Time) map[string]bool {
	ids := make(map[string]bool, len(s.Excluded))
	for id, until := range s.Excluded {
		if now.After(until) {
			delete(s.Excluded, id)
			continue
		}
		ids[id] = true
	}
	return ids
}
