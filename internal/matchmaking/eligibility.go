package matchmaking

// EligibilityContext carries the subject-side facts needed to gate a
// candidate before any scoring happens: relationship sets, open-proposal
// membership and session exclusions.
type EligibilityContext struct {
	// Friends holds ids the subject is already friends with.
	Friends map[string]bool
	// Blocked holds ids blocked in either direction relative to the subject.
	Blocked map[string]bool
	// InProposal holds ids of users currently in any non-terminal proposal.
	InProposal map[string]bool
	// Excluded holds ids suppressed by the subject's search session.
	Excluded map[string]bool
	// AllowFriends keeps existing friends in the pool when true.
	AllowFriends bool
}

// Eligible reports whether candidate is a legal match for subject. It runs
// before the scorer, so the ranker never surfaces a legally-invalid match.
// Eligible candidates may still score zero.
func Eligible(subject, candidate *ProfileAttributes, ec EligibilityContext) bool {
	if subject == nil || candidate == nil {
		return false
	}
	if candidate.ID == "" || candidate.ID == subject.ID {
		return false
	}
	if candidate.Invisible {
		return false
	}
	if ec.Blocked[candidate.ID] {
		return false
	}
	if !ec.AllowFriends && ec.Friends[candidate.ID] {
		return false
	}
	if ec.InProposal[candidate.ID] {
		return false
	}
	if ec.Excluded[candidate.ID] {
		return false
	}
	// Gender gating is mutual: the pairing must satisfy both sides' stated
	// preferences.
	if !genderAccepts(subject, candidate) || !genderAccepts(candidate, subject) {
		return false
	}
	return true
}

// genderAccepts reports whether a's stated preference admits b. An empty
// preference admits everyone.
func genderAccepts(a, b *ProfileAttributes) bool {
	if a.PreferredGender == "" || a.PreferredGender == GenderUnspecified {
		return true
	}
	return b.Gender == a.PreferredGender
}
