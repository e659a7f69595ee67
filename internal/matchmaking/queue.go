package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

const (
	storeRetryAttempts = 3
	storeRetryBackoff  = 50 * time.Millisecond

	// claimSlack keeps claims alive a little past proposal expiry so the
	// sweep, not the claim TTL, decides the outcome.
	claimSlack = 30 * time.Second
)

// MatchNotifier receives lifecycle events. MatchMade fires exactly once per
// proposal, no matter how the two accepts interleave.
type MatchNotifier interface {
	ProposalCreated(p *Proposal)
	MatchMade(m *Match)
	ProposalEnded(p *Proposal)
}

// NoopNotifier discards all events.
type NoopNotifier struct{}

func (NoopNotifier) ProposalCreated(*Proposal) {}
func (NoopNotifier) MatchMade(*Match)          {}
func (NoopNotifier) ProposalEnded(*Proposal)   {}

// CompositeNotifier fans events out to several notifiers.
type CompositeNotifier []MatchNotifier

func (c CompositeNotifier) ProposalCreated(p *Proposal) {
	for _, n := range c {
		n.ProposalCreated(p)
	}
}

func (c CompositeNotifier) MatchMade(m *Match) {
	for _, n := range c {
		n.MatchMade(m)
	}
}

func (c CompositeNotifier) ProposalEnded(p *Proposal) {
	for _, n := range c {
		n.ProposalEnded(p)
	}
}

// QueueConfig carries the queue manager's timing and scoring knobs.
type QueueConfig struct {
	// ProposalTTL is how long both sides have to accept.
	ProposalTTL time.Duration
	// ExclusionTTL keeps an expired/declined counterpart out of the user's
	// pool.
	ExclusionTTL time.Duration
	// SessionIdleTimeout reaps search sessions nobody has touched.
	SessionIdleTimeout time.Duration
	// MinScore is the ranking cutoff for proposals.
	MinScore float64
	// AllowFriends keeps existing friends in the candidate pool.
	AllowFriends bool
}

// QueueManager holds the only shared mutable state in the core: search
// sessions and proposals, both living in the state store / pairing store so
// that multiple processes can run managers concurrently.
type QueueManager struct {
	store    AtomicUserStateStore
	repo     PairingRepository
	profiles ProfileStore
	rels     RelationshipStore
	engine   MatchEngine
	notifier MatchNotifier
	cfg      QueueConfig

	// now is swappable for tests.
	now func() time.Time
}

// NewQueueManager wires the proposal/queue core.
func NewQueueManager(store AtomicUserStateStore, repo PairingRepository, profiles ProfileStore, rels RelationshipStore, engine MatchEngine, notifier MatchNotifier, cfg QueueConfig) *QueueManager {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &QueueManager{
		store:    store,
		repo:     repo,
		profiles: profiles,
		rels:     rels,
		engine:   engine,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// EnterSearch registers a search session for the user. Fails with
// ErrAlreadySearching when a session exists and ErrAlreadyInProposal when
// the user still holds a non-terminal proposal.
func (m *QueueManager) EnterSearch(ctx context.Context, userID string) error {
	open, err := m.repo.ActiveProposalFor(ctx, userID)
	if err != nil {
		return err
	}
	if open != nil {
		return ErrAlreadyInProposal
	}

	session := NewSearchSession(userID, m.now())
	var created bool
	err = m.retry(ctx, func() error {
		var e error
		created, e = m.store.PutSessionNX(ctx, session)
		return e
	})
	if err != nil {
		return err
	}
	if !created {
		return ErrAlreadySearching
	}
	RecordSearchEntered()
	return nil
}

// TryPropose finds the best eligible candidate who is also searching and
// atomically claims both users before creating the proposal. A second call
// while a proposal is open fails with ErrAlreadyInProposal; it never returns
// the existing proposal.
func (m *QueueManager) TryPropose(ctx context.Context, userID string) (*Proposal, error) {
	session, err := m.getSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNotSearching
	}

	// Fast path: the claim key is the source of truth for "already in a
	// proposal"; ClaimPair below closes the race either way.
	held, err := m.activeClaim(ctx, userID)
	if err != nil {
		return nil, err
	}
	if held != "" {
		return nil, ErrAlreadyInProposal
	}

	subject, err := m.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	ranked, err := m.rankSearchingCandidates(ctx, subject, session)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, ErrNoCandidates
	}

	now := m.now()
	session.LastSeenAt = now
	claimTTL := m.cfg.ProposalTTL + claimSlack

	for _, rc := range ranked {
		proposal := &Proposal{
			ID:        uuid.NewString(),
			UserA:     userID,
			UserB:     rc.Profile.ID,
			Status:    StatusPending,
			Score:     rc.Result.Score,
			CreatedAt: now,
			ExpiresAt: now.Add(m.cfg.ProposalTTL),
		}

		var claimed bool
		err = m.retry(ctx, func() error {
			var e error
			claimed, e = m.store.ClaimPair(ctx, userID, rc.Profile.ID, proposal.ID, claimTTL)
			return e
		})
		if err != nil {
			return nil, err
		}
		if !claimed {
			// Either this candidate raced into another proposal, or the
			// subject did. Only the latter ends the whole attempt.
			held, err := m.activeClaim(ctx, userID)
			if err != nil {
				return nil, err
			}
			if held != "" && held != proposal.ID {
				return nil, ErrAlreadyInProposal
			}
			if held == "" {
				continue
			}
		}

		if err := m.repo.CreateProposal(ctx, proposal); err != nil {
			m.releaseClaims(ctx, proposal)
			return nil, err
		}

		m.suspendSession(ctx, session)
		m.suspendUser(ctx, rc.Profile.ID)

		RecordProposal("created")
		RecordCompatibilityScore(proposal.Score)
		m.notifier.ProposalCreated(proposal)
		return proposal, nil
	}

	return nil, ErrNoCandidates
}

// rankSearchingCandidates builds the pool from the searching set and runs
// the ranker over it.
func (m *QueueManager) rankSearchingCandidates(ctx context.Context, subject *ProfileAttributes, session *SearchSession) ([]RankedCandidate, error) {
	var searching []string
	err := m.retry(ctx, func() error {
		var e error
		searching, e = m.store.SearchingIDs(ctx)
		return e
	})
	if err != nil {
		return nil, err
	}

	candidateIDs := searching[:0]
	for _, id := range searching {
		if id != subject.ID {
			candidateIDs = append(candidateIDs, id)
		}
	}
	if len(candidateIDs) == 0 {
		return nil, nil
	}

	candidates, err := m.profiles.GetProfiles(ctx, candidateIDs)
	if err != nil {
		return nil, err
	}

	friends, err := m.rels.FriendIDs(ctx, subject.ID)
	if err != nil {
		return nil, err
	}
	blocked, err := m.rels.BlockedIDs(ctx, subject.ID)
	if err != nil {
		return nil, err
	}
	busy, err := m.repo.UsersInOpenProposals(ctx, candidateIDs)
	if err != nil {
		return nil, err
	}

	elig := EligibilityContext{
		Friends:      friends,
		Blocked:      blocked,
		InProposal:   busy,
		Excluded:     session.ExcludedIDs(m.now()),
		AllowFriends: m.cfg.AllowFriends,
	}
	return m.engine.Rank(subject, candidates, distancesFrom(subject, candidates), m.cfg.MinScore, elig), nil
}

// Respond records one side's answer. Retrying the same answer is a no-op;
// a conflicting second answer from the same side fails with
// ErrAlreadyResponded. The transition to matched is serialized on the
// pairing store so exactly one caller completes the match.
func (m *QueueManager) Respond(ctx context.Context, proposalID, userID string, accept bool) (*Proposal, error) {
	for attempt := 0; attempt < storeRetryAttempts; attempt++ {
		proposal, err := m.repo.GetProposal(ctx, proposalID)
		if err != nil {
			return nil, err
		}
		if !proposal.Participant(userID) {
			return nil, ErrNotParticipant
		}

		if !proposal.Status.IsTerminal() && m.now().After(proposal.ExpiresAt) {
			// Too late: reap in place, equivalent to a decline.
			committed, err := m.repo.TransitionProposal(ctx, proposalID, nonTerminalStatuses, StatusExpired)
			if err != nil {
				return nil, err
			}
			if committed {
				proposal.Status = StatusExpired
				m.releaseProposal(ctx, proposal, true)
				RecordProposal("expired")
				m.notifier.ProposalEnded(proposal)
			}
			return nil, ErrProposalExpired
		}

		isA := proposal.UserA == userID

		switch proposal.Status {
		case StatusMatched:
			if accept {
				return proposal, nil
			}
			return nil, ErrAlreadyResponded
		case StatusDeclined:
			if !accept {
				return proposal, nil
			}
			return nil, ErrAlreadyResponded
		case StatusExpired, StatusCancelled:
			return nil, ErrProposalExpired
		}

		// This side already accepted: retrying the accept is a no-op, but a
		// flip to decline is a conflicting second response.
		if (proposal.Status == StatusAcceptedByA && isA) || (proposal.Status == StatusAcceptedByB && !isA) {
			if accept {
				return proposal, nil
			}
			return nil, ErrAlreadyResponded
		}

		if !accept {
			committed, err := m.repo.TransitionProposal(ctx, proposalID, nonTerminalStatuses, StatusDeclined)
			if err != nil {
				return nil, err
			}
			if !committed {
				continue
			}
			proposal.Status = StatusDeclined
			m.releaseProposal(ctx, proposal, true)
			RecordProposal("declined")
			m.notifier.ProposalEnded(proposal)
			return proposal, nil
		}

		from := proposal.Status
		var to ProposalStatus
		if proposal.Status == StatusPending {
			if isA {
				to = StatusAcceptedByA
			} else {
				to = StatusAcceptedByB
			}
		} else {
			// The other side already accepted; this accept completes it.
			to = StatusMatched
		}

		committed, err := m.repo.TransitionProposal(ctx, proposalID, []ProposalStatus{from}, to)
		if err != nil {
			return nil, err
		}
		if !committed {
			continue
		}
		proposal.Status = to
		if to == StatusMatched {
			m.completeMatch(ctx, proposal)
		}
		return proposal, nil
	}
	return nil, fmt.Errorf("%w: proposal %s transition did not settle", ErrStoreUnavailable, proposalID)
}

// ExpireStale reaps every proposal past its deadline and releases both
// sides back into search with a mutual exclusion. It is the only reaper and
// is safe to run concurrently with Respond/TryPropose/Cancel: the
// conditional UPDATE hands each proposal to exactly one caller. It also
// drops idle sessions. Returns the number of proposals expired.
func (m *QueueManager) ExpireStale(ctx context.Context) (int, error) {
	expired, err := m.repo.ExpireProposals(ctx, m.now())
	if err != nil {
		return 0, err
	}
	for _, proposal := range expired {
		m.releaseProposal(ctx, proposal, true)
		RecordProposal("expired")
		m.notifier.ProposalEnded(proposal)
	}

	m.sweepIdleSessions(ctx)
	RecordSweep(len(expired))
	return len(expired), nil
}

// Cancel removes the user's search session. An open proposal is terminated
// as cancelled and the counterpart resumes searching.
func (m *QueueManager) Cancel(ctx context.Context, userID string) error {
	hadProposal := false
	proposal, err := m.repo.ActiveProposalFor(ctx, userID)
	if err != nil {
		return err
	}
	if proposal != nil {
		hadProposal = true
		committed, err := m.repo.TransitionProposal(ctx, proposal.ID, nonTerminalStatuses, StatusCancelled)
		if err != nil {
			return err
		}
		if committed {
			proposal.Status = StatusCancelled
			m.releaseClaims(ctx, proposal)
			m.resumeUser(ctx, proposal.Other(userID), userID, false)
			RecordProposal("cancelled")
			m.notifier.ProposalEnded(proposal)
		}
	}

	session, err := m.getSession(ctx, userID)
	if err != nil {
		return err
	}
	if session == nil {
		if hadProposal {
			return nil
		}
		return ErrNotSearching
	}
	return m.retry(ctx, func() error {
		return m.store.DeleteSession(ctx, userID)
	})
}

// completeMatch runs on the single caller whose accept committed the
// matched transition.
func (m *QueueManager) completeMatch(ctx context.Context, proposal *Proposal) {
	match := &Match{
		ID:         uuid.NewString(),
		UserA:      proposal.UserA,
		UserB:      proposal.UserB,
		ProposalID: proposal.ID,
		Score:      proposal.Score,
		MatchedAt:  m.now(),
	}
	if err := m.repo.CreateMatch(ctx, match); err != nil {
		// The proposal row already says matched; the match record can be
		// reconciled from it.
		log.Printf("matchmaking: failed to persist match for proposal %s: %v", proposal.ID, err)
	}

	m.releaseClaims(ctx, proposal)
	// Sessions are destroyed on match.
	if err := m.store.DeleteSession(ctx, proposal.UserA); err != nil {
		log.Printf("matchmaking: failed to drop session %s: %v", proposal.UserA, err)
	}
	if err := m.store.DeleteSession(ctx, proposal.UserB); err != nil {
		log.Printf("matchmaking: failed to drop session %s: %v", proposal.UserB, err)
	}

	RecordProposal("matched")
	RecordMatch()
	m.notifier.MatchMade(match)
}

// releaseProposal frees both claims and resumes both sessions, optionally
// with a mutual exclusion window.
func (m *QueueManager) releaseProposal(ctx context.Context, proposal *Proposal, exclude bool) {
	m.releaseClaims(ctx, proposal)
	m.resumeUser(ctx, proposal.UserA, proposal.UserB, exclude)
	m.resumeUser(ctx, proposal.UserB, proposal.UserA, exclude)
}

func (m *QueueManager) releaseClaims(ctx context.Context, proposal *Proposal) {
	if err := m.store.ReleaseClaim(ctx, proposal.UserA, proposal.ID); err != nil {
		log.Printf("matchmaking: failed to release claim %s: %v", proposal.UserA, err)
	}
	if err := m.store.ReleaseClaim(ctx, proposal.UserB, proposal.ID); err != nil {
		log.Printf("matchmaking: failed to release claim %s: %v", proposal.UserB, err)
	}
}

// resumeUser lifts the suspension set by TryPropose. Users who cancelled in
// the meantime no longer have a session and stay out.
func (m *QueueManager) resumeUser(ctx context.Context, userID, counterpartID string, exclude bool) {
	session, err := m.getSession(ctx, userID)
	if err != nil || session == nil {
		return
	}
	session.Suspended = false
	session.LastSeenAt = m.now()
	if exclude {
		session.Exclude(counterpartID, m.now().Add(m.cfg.ExclusionTTL))
	}
	if err := m.store.SaveSession(ctx, session); err != nil {
		log.Printf("matchmaking: failed to resume session %s: %v", userID, err)
	}
}

func (m *QueueManager) suspendSession(ctx context.Context, session *SearchSession) {
	session.Suspended = true
	if err := m.store.SaveSession(ctx, session); err != nil {
		log.Printf("matchmaking: failed to suspend session %s: %v", session.UserID, err)
	}
}

func (m *QueueManager) suspendUser(ctx context.Context, userID string) {
	session, err := m.getSession(ctx, userID)
	if err != nil || session == nil {
		return
	}
	m.suspendSession(ctx, session)
}

func (m *QueueManager) sweepIdleSessions(ctx context.Context) {
	ids, err := m.store.SearchingIDs(ctx)
	if err != nil {
		log.Printf("matchmaking: idle sweep failed to list sessions: %v", err)
		return
	}
	cutoff := m.now().Add(-m.cfg.SessionIdleTimeout)
	for _, id := range ids {
		session, err := m.store.GetSession(ctx, id)
		if err != nil {
			continue
		}
		if session == nil || session.LastSeenAt.Before(cutoff) {
			if err := m.store.DeleteSession(ctx, id); err != nil {
				log.Printf("matchmaking: failed to reap idle session %s: %v", id, err)
			}
		}
	}
}

func (m *QueueManager) getSession(ctx context.Context, userID string) (*SearchSession, error) {
	var session *SearchSession
	err := m.retry(ctx, func() error {
		var e error
		session, e = m.store.GetSession(ctx, userID)
		return e
	})
	return session, err
}

func (m *QueueManager) activeClaim(ctx context.Context, userID string) (string, error) {
	var id string
	err := m.retry(ctx, func() error {
		var e error
		id, e = m.store.ActiveProposal(ctx, userID)
		return e
	})
	return id, err
}

// retry runs op with bounded backoff for transient store errors. State
// conflicts are returned immediately; exhaustion surfaces as
// ErrStoreUnavailable with no partial write behind it.
func (m *QueueManager) retry(ctx context.Context, op func() error) error {
	var err error
	backoff := storeRetryBackoff
	for attempt := 0; attempt < storeRetryAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if isConflict(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func isConflict(err error) bool {
	return errors.Is(err, ErrAlreadySearching) ||
		errors.Is(err, ErrAlreadyInProposal) ||
		errors.Is(err, ErrNotSearching) ||
		errors.Is(err, ErrNotParticipant) ||
		errors.Is(err, ErrAlreadyResponded)
}
