package matchmaking

import (
	"context"
	"errors"
)

var (
	// State conflicts: surfaced to the caller, never retried automatically.
	ErrAlreadySearching  = errors.New("user is already searching")
	ErrAlreadyInProposal = errors.New("user already has an active proposal")
	ErrNotSearching      = errors.New("user is not searching")
	ErrNotParticipant    = errors.New("user is not part of this proposal")
	ErrAlreadyResponded  = errors.New("this side has already responded")

	// Expiry: responding too late is treated as a decline.
	ErrProposalExpired = errors.New("proposal has expired")

	// Lookups.
	ErrProposalNotFound = errors.New("proposal not found")
	ErrProfileNotFound  = errors.New("profile not found")
	ErrNoCandidates     = errors.New("no eligible candidates available")

	// Malformed pool specs fail fast at the ranker boundary.
	ErrInvalidPool = errors.New("invalid candidate pool spec")

	// The shared state store stayed unreachable through bounded retries.
	ErrStoreUnavailable = errors.New("state store unavailable")
)

// PoolSpec describes where ranking candidates come from: either an explicit
// id list or all users within RadiusKm of the subject.
type PoolSpec struct {
	CandidateIDs []string
	RadiusKm     float64
	Limit        int
	MinScore     float64
}

// Service is the boundary the HTTP layer talks to: the ranked-match API and
// the proposal lifecycle API.
type Service interface {
	RankCandidates(ctx context.Context, subjectID string, pool PoolSpec) ([]RankedCandidate, error)
	Compatibility(ctx context.Context, subjectID, otherID string) (*CompatibilityResult, error)

	EnterSearch(ctx context.Context, userID string) error
	CancelSearch(ctx context.Context, userID string) error
	TryPropose(ctx context.Context, userID string) (*Proposal, error)
	RespondToProposal(ctx context.Context, proposalID, userID string, accept bool) (*Proposal, error)
	ActiveProposal(ctx context.Context, userID string) (*Proposal, error)
}

type service struct {
	profiles ProfileStore
	rels     RelationshipStore
	repo     PairingRepository
	engine   MatchEngine
	queue    *QueueManager

	defaultRadiusKm float64
	candidateLimit  int
	minScore        float64
	allowFriends    bool
}

// ServiceConfig carries the ranking defaults applied when a pool spec
// leaves them unset.
type ServiceConfig struct {
	DefaultRadiusKm float64
	CandidateLimit  int
	MinScore        float64
	AllowFriends    bool
}

// NewService wires the ranking and queue sides together.
func NewService(profiles ProfileStore, rels RelationshipStore, repo PairingRepository, engine MatchEngine, queue *QueueManager, cfg ServiceConfig) Service {
	return &service{
		profiles:        profiles,
		rels:            rels,
		repo:            repo,
		engine:          engine,
		queue:           queue,
		defaultRadiusKm: cfg.DefaultRadiusKm,
		candidateLimit:  cfg.CandidateLimit,
		minScore:        cfg.MinScore,
		allowFriends:    cfg.AllowFriends,
	}
}

func (s *service) RankCandidates(ctx context.Context, subjectID string, pool PoolSpec) ([]RankedCandidate, error) {
	subject, err := s.profiles.GetProfile(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	limit := pool.Limit
	if limit <= 0 {
		limit = s.candidateLimit
	}
	minScore := pool.MinScore
	if minScore <= 0 {
		minScore = s.minScore
	}

	var candidates []*ProfileAttributes
	switch {
	case len(pool.CandidateIDs) > 0:
		candidates, err = s.profiles.GetProfiles(ctx, pool.CandidateIDs)
	case pool.RadiusKm > 0 || s.defaultRadiusKm > 0:
		if !subject.HasLocation() {
			return nil, ErrInvalidPool
		}
		radius := pool.RadiusKm
		if radius <= 0 {
			radius = s.defaultRadiusKm
		}
		candidates, err = s.profiles.FindWithinRadius(ctx, *subject.Latitude, *subject.Longitude, radius, limit)
	default:
		return nil, ErrInvalidPool
	}
	if err != nil {
		return nil, err
	}

	elig, err := s.eligibilityFor(ctx, subject, candidates)
	if err != nil {
		return nil, err
	}

	ranked := s.engine.Rank(subject, candidates, distancesFrom(subject, candidates), minScore, elig)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	for _, rc := range ranked {
		RecordCompatibilityScore(rc.Result.Score)
	}
	return ranked, nil
}

func (s *service) Compatibility(ctx context.Context, subjectID, otherID string) (*CompatibilityResult, error) {
	subject, err := s.profiles.GetProfile(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	other, err := s.profiles.GetProfile(ctx, otherID)
	if err != nil {
		return nil, err
	}

	var distance *float64
	if subject.HasLocation() && other.HasLocation() {
		d := HaversineKm(*subject.Latitude, *subject.Longitude, *other.Latitude, *other.Longitude)
		distance = &d
	}
	result := s.engine.Compatibility(subject, other, distance)
	return &result, nil
}

func (s *service) eligibilityFor(ctx context.Context, subject *ProfileAttributes, candidates []*ProfileAttributes) (EligibilityContext, error) {
	friends, err := s.rels.FriendIDs(ctx, subject.ID)
	if err != nil {
		return EligibilityContext{}, err
	}
	blocked, err := s.rels.BlockedIDs(ctx, subject.ID)
	if err != nil {
		return EligibilityContext{}, err
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	busy, err := s.repo.UsersInOpenProposals(ctx, ids)
	if err != nil {
		return EligibilityContext{}, err
	}

	return EligibilityContext{
		Friends:      friends,
		Blocked:      blocked,
		InProposal:   busy,
		AllowFriends: s.allowFriends,
	}, nil
}

func (s *service) EnterSearch(ctx context.Context, userID string) error {
	return s.queue.EnterSearch(ctx, userID)
}

func (s *service) CancelSearch(ctx context.Context, userID string) error {
	return s.queue.Cancel(ctx, userID)
}

func (s *service) TryPropose(ctx context.Context, userID string) (*Proposal, error) {
	return s.queue.TryPropose(ctx, userID)
}

func (s *service) RespondToProposal(ctx context.Context, proposalID, userID string, accept bool) (*Proposal, error) {
	return s.queue.Respond(ctx, proposalID, userID, accept)
}

func (s *service) ActiveProposal(ctx context.Context, userID string) (*Proposal, error) {
	return s.repo.ActiveProposalFor(ctx, userID)
}

// distancesFrom precomputes subject→candidate distances for the ranker;
// candidates without coordinates are simply absent from the map.
func distancesFrom(subject *ProfileAttributes, candidates []*ProfileAttributes) map[string]float64 {
	distances := make(map[string]float64, len(candidates))
	if !subject.HasLocation() {
		return distances
	}
	for _, c := range candidates {
		if c.HasLocation() {
			distances[c.ID] = HaversineKm(*subject.Latitude, *subject.Longitude, *c.Latitude, *c.Longitude)
		}
	}
	return distances
}
