package matchmaking

import "time"

// DiscoverRequestDTO selects the candidate pool for ranked discovery.
// Exactly one of CandidateIDs or a radius search is used; leaving both
// unset falls back to the configured default radius.
type DiscoverRequestDTO struct {
	CandidateIDs []string `json:"candidate_ids" validate:"omitempty,max=500,dive,required"`
	RadiusKm     float64  `json:"radius_km" validate:"omitempty,gt=0,lte=20000"`
	Limit        int      `json:"limit" validate:"omitempty,gt=0,lte=500"`
	MinScore     float64  `json:"min_score" validate:"omitempty,gte=0,lte=100"`
}

// RespondProposalDTO carries one side's answer to a proposal.
type RespondProposalDTO struct {
	Accept bool `json:"accept"`
}

// RankedCandidateDTO is one discovery result row.
type RankedCandidateDTO struct {
	UserID          string         `json:"user_id"`
	DisplayName     string         `json:"display_name"`
	Age             int            `json:"age"`
	Score           float64        `json:"score"`
	Band            string         `json:"band"`
	CommonInterests []string       `json:"common_interests"`
	SharedNeeds     []string       `json:"shared_needs"`
	Breakdown       ScoreBreakdown `json:"breakdown"`
}

// ProposalDTO is the wire form of a proposal.
type ProposalDTO struct {
	ID        string    `json:"id"`
	UserA     string    `json:"user_a"`
	UserB     string    `json:"user_b"`
	Status    string    `json:"status"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func toRankedCandidateDTO(rc RankedCandidate) RankedCandidateDTO {
	return RankedCandidateDTO{
		UserID:          rc.Profile.ID,
		DisplayName:     rc.Profile.DisplayName,
		Age:             rc.Profile.Age,
		Score:           rc.Result.Score,
		Band:            rc.Result.Band(),
		CommonInterests: rc.Result.CommonInterests,
		SharedNeeds:     needStrings(rc.Result.CommonNeeds),
		Breakdown:       rc.Result.Breakdown,
	}
}

func toProposalDTO(p *Proposal) ProposalDTO {
	return ProposalDTO{
		ID:        p.ID,
		UserA:     p.UserA,
		UserB:     p.UserB,
		Status:    string(p.Status),
		Score:     p.Score,
		CreatedAt: p.CreatedAt,
		ExpiresAt: p.ExpiresAt,
	}
}

func needStrings(needs []Need) []string {
	out := make([]string, 0, len(needs))
	for _, n := range needs {
		out = append(out, string(n))
	}
	return out
}
