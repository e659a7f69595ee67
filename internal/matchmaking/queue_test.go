package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is the in-memory PairingRepository, ProfileStore and
// RelationshipStore used by queue tests. Transitions hold the mutex, so the
// conditional semantics match the Postgres implementation.
type fakeBackend struct {
	mu        sync.Mutex
	profiles  map[string]*ProfileAttributes
	friends   map[string]map[string]bool
	blocks    map[string]map[string]bool
	proposals map[string]*Proposal
	matches   map[string]*Match // keyed by proposal id
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		profiles:  make(map[string]*ProfileAttributes),
		friends:   make(map[string]map[string]bool),
		blocks:    make(map[string]map[string]bool),
		proposals: make(map[string]*Proposal),
		matches:   make(map[string]*Match),
	}
}

func (f *fakeBackend) addProfile(p *ProfileAttributes) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.ID] = p
}

func (f *fakeBackend) GetProfile(_ context.Context, id string) (*ProfileAttributes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return p, nil
}

func (f *fakeBackend) GetProfiles(_ context.Context, ids []string) ([]*ProfileAttributes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*ProfileAttributes, 0, len(ids))
	for _, id := range ids {
		if p, ok := f.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeBackend) FindWithinRadius(context.Context, float64, float64, float64, int) ([]*ProfileAttributes, error) {
	return nil, nil
}

func (f *fakeBackend) FriendIDs(_ context.Context, userID string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(f.friends[userID]))
	for id := range f.friends[userID] {
		out[id] = true
	}
	return out, nil
}

func (f *fakeBackend) BlockedIDs(_ context.Context, userID string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(f.blocks[userID]))
	for id := range f.blocks[userID] {
		out[id] = true
	}
	return out, nil
}

func (f *fakeBackend) CreateProposal(_ context.Context, p *Proposal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	cp.UpdatedAt = cp.CreatedAt
	f.proposals[p.ID] = &cp
	p.UpdatedAt = cp.UpdatedAt
	return nil
}

func (f *fakeBackend) GetProposal(_ context.Context, id string) (*Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeBackend) TransitionProposal(_ context.Context, id string, from []ProposalStatus, to ProposalStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if p.Status == s {
			p.Status = to
			p.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeBackend) ExpireProposals(_ context.Context, now time.Time) ([]*Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var expired []*Proposal
	for _, p := range f.proposals {
		if !p.Status.IsTerminal() && p.ExpiresAt.Before(now) {
			p.Status = StatusExpired
			p.UpdatedAt = now
			cp := *p
			expired = append(expired, &cp)
		}
	}
	return expired, nil
}

func (f *fakeBackend) ActiveProposalFor(_ context.Context, userID string) (*Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.proposals {
		if !p.Status.IsTerminal() && p.Participant(userID) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) UsersInOpenProposals(_ context.Context, ids []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	busy := make(map[string]bool)
	for _, p := range f.proposals {
		if p.Status.IsTerminal() {
			continue
		}
		if wanted[p.UserA] {
			busy[p.UserA] = true
		}
		if wanted[p.UserB] {
			busy[p.UserB] = true
		}
	}
	return busy, nil
}

func (f *fakeBackend) CreateMatch(_ context.Context, m *Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.matches[m.ProposalID]; ok {
		return nil
	}
	cp := *m
	f.matches[m.ProposalID] = &cp
	return nil
}

func (f *fakeBackend) openProposalCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, p := range f.proposals {
		if !p.Status.IsTerminal() && p.Participant(userID) {
			count++
		}
	}
	return count
}

// recordingNotifier counts lifecycle events.
type recordingNotifier struct {
	mu      sync.Mutex
	created []*Proposal
	matched []*Match
	ended   []*Proposal
}

func (r *recordingNotifier) ProposalCreated(p *Proposal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, p)
}

func (r *recordingNotifier) MatchMade(m *Match) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matched = append(r.matched, m)
}

func (r *recordingNotifier) ProposalEnded(p *Proposal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, p)
}

func (r *recordingNotifier) matchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.matched)
}

func newTestQueue(backend *fakeBackend) (*QueueManager, *recordingNotifier) {
	notifier := &recordingNotifier{}
	qm := NewQueueManager(
		NewMemoryStateStore(), backend, backend, backend,
		NewMatchEngine(), notifier,
		QueueConfig{
			ProposalTTL:        90 * time.Second,
			ExclusionTTL:       15 * time.Minute,
			SessionIdleTimeout: 10 * time.Minute,
			MinScore:           5,
		},
	)
	return qm, notifier
}

func addCompatibleProfile(backend *fakeBackend, id string) {
	backend.addProfile(profileWith(id, 25, []string{"travel", "hiking"}, []Need{NeedFriendship}))
}

func TestEnterSearchTwiceFails(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	addCompatibleProfile(backend, "a")
	qm, _ := newTestQueue(backend)

	require.NoError(t, qm.EnterSearch(ctx, "a"))
	assert.ErrorIs(t, qm.EnterSearch(ctx, "a"), ErrAlreadySearching)
}

func TestEnterSearchWhileInProposalFails(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	addCompatibleProfile(backend, "a")
	addCompatibleProfile(backend, "b")
	qm, _ := newTestQueue(backend)

	require.NoError(t, qm.EnterSearch(ctx, "a"))
	require.NoError(t, qm.EnterSearch(ctx, "b"))
	_, err := qm.TryPropose(ctx, "a")
	require.NoError(t, err)

	// Session was suspended, not deleted; re-entering is still a conflict.
	assert.ErrorIs(t, qm.EnterSearch(ctx, "a"), ErrAlreadyInProposal)
}

func TestTryProposeNotSearching(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	addCompatibleProfile(backend, "a")
	qm, _ := newTestQueue(backend)

	_, err := qm.TryPropose(ctx, "a")
	assert.ErrorIs(t, err, ErrNotSearching)
}

func TestTryProposeNoCandidates(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	addCompatibleProfile(backend, "a")
	qm, _ := newTestQueue(backend)

	require.NoError(t, qm.EnterSearch(ctx, "a"))
	_, err := qm.TryPropose(ctx, "a")
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestTryProposeCreatesProposalAndSuspendsBoth(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	addCompatibleProfile(backend, "a")
	addCompatibleProfile(backend, "b")
	qm, notifier := newTestQueue(backend)

	require.NoError(t, qm.EnterSearch(ctx, "a"))
	require.NoError(t, qm.EnterSearch(ctx, "b"))

	proposal, err := qm.TryPropose(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", proposal.UserA)
	assert.Equal(t, "b", proposal.UserB)
	assert.Equal(t, StatusPending, proposal.Status)
	assert.Greater(t, proposal.Score, 5.0)
	assert.Equal(t, 90*time.Second, proposal.ExpiresAt.Sub(proposal.CreatedAt))

	// Neither side is offered as a candidate while the proposal is open.
	ids, err := qm.store.SearchingIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.Len(t, notifier.created, 1)
}

func TestSecondTryProposeFailsWhileProposalOpen(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	addCompatibleProfile(backend, "a")
	addCompatibleProfile(backend, "b")
	qm, _ := newTestQueue(backend)

	require.NoError(t, qm.EnterSearch(ctx, "a"))
	require.NoError(t, qm.EnterSearch(ctx, "b"))

	_, err := qm.TryPropose(ctx, "a")
	require.NoError(t, err)

	_, err = qm.TryPropose(ctx, "a")
	assert.ErrorIs(t, err, ErrAlreadyInProposal)

	// The counterpart is locked too.
	_, err = qm.TryPropose(ctx, "b")
	assert.ErrorIs(t, err, ErrAlreadyInProposal)

	assert.Equal(t, 1, backend.openProposalCount("a"))
	assert.Equal(t, 1, backend.openProposalCount("b"))
}

func TestTryProposePicksHighestScoringCandidate(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	addCompatibleProfile(backend, "subject")
	// Same interests and needs, but a 12-year age gap drags the score down.
	backend.addProfile(profileWith("older", 37, []string{"travel", "hiking"}, []Need{NeedFriendship}))
	addCompatibleProfile(backend, "peer")
	qm, _ := newTestQueue(backend)

	require.NoError(t, qm.EnterSearch(ctx, "subject"))
	require.NoError(t, qm.EnterSearch(ctx, "older"))
	require.NoError(t, qm.EnterSearch(ctx, "peer"))

	proposal, err := qm.TryPropose(ctx, "subject")
	require.NoError(t, err)
	assert.Equal(t, "peer", proposal.UserB)
}

func TestRespondMutualAcceptCreatesMatch(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	addCompatibleProfile(backend, "a")
	addCompatibleProfile(backend, "b")
	qm, notifier := newTestQueue(backend)

	require.NoError(t, qm.EnterSearch(ctx, "a"))
	require.NoError(t, qm.EnterSearch(ctx, "b"))
	proposal, err := qm.TryPropose(ctx, "a")
	require.NoError(t, err)

	first, err := qm.Respond(ctx, proposal.ID, "a", true)
	require.NoError(t, err)
	assert.Equal(t, StatusAcceptedByA, first.Status)

	second, err := qm.Respond(ctx, proposal.ID, "b", true)
	require.NoError(t, err)
	assert.Equal(t, StatusMatched, second.Status)

	assert.Equal(t, 1, notifier.matchCount())
	require.Len(t, backend.matches, 1)
	match := backend.matches[proposal.ID]
	assert.Equal(t, proposal.Score, match.Score)

	// Matched users leave the queue entirely.
	sessionA, err := qm.store.GetSession(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, sessionA)
	sessionB, err := qm.store.GetSession(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, sessionB)

	held, err := qm.store.ActiveProposal(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestConcurrentMutualAcceptExactlyOneMatchEvent(t *testing.T) {
	for i := 0; i < 20; i++ {
		ctx := context.Background()
		backend := newFakeBackend()
		addCompatibleProfile(backend, "a")
		addCompatibleProfile(backend, "b")
		qm, notifier := newTestQueue(backend)

		require.NoError(t, qm.EnterSearch(ctx, "a"))
		require.NoError(t, qm.EnterSearch(ctx, "b"))
		proposal, err := qm.TryPropose(ctx, "a")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for _, user := range []string{"a", "b"} {
			wg.Add(1)
			go func(u string) {
				defer wg.Done()
				_, err := qm.Respond(ctx, proposal.ID, u, true)
				assert.NoError(t, err)
			}(user)
		}
		wg.Wait()

		assert.Equal(t, 1, notifier.matchCount())
		final, err := backend.GetProposal(ctx, proposal.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusMatched, final.Status)
	}
}

func TestRespondDeclineReleasesBothWithExclusion(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	addCompatibleProfile(backend, "a")
	addCompatibleProfile(backend, "b")
	qm, notifier := newTestQueue(backend)

	require.NoError(t, qm.EnterSearch(ctx, "a"))
	require.NoError(t, qm.EnterSearch(ctx, "b"))
	proposal, err := qm.TryPropose(ctx, "a")
	require.NoError(t, err)

	declined, err := qm.Respond(ctx, proposal.ID, "b", false)
	require.NoError(t, err)
	assert.Equal(t, StatusDeclined, declined.Status)
	require.Len(t, notifier.ended, 1)

	// Both resume searching, each excluding the other.
	sessionA, err := qm.store.GetSession(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, sessionA)
	assert.False(t, sessionA.Suspended)
	assert.True(t, sessionA.ExcludedIDs(time.Now())["b"])

	sessionB, err := qm.store.GetSession(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, sessionB)
	assert.True(t, sessionB.ExcludedIDs(time.Now())["a"])

	// They cannot be re-proposed to each other while excluded.
	_, err = qm.TryPropose(ctx, "a")
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestRespondSameAnswerRetryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	addCompatibleProfile(backend, "a")
	addCompatibleProfile(backend, "b")
	qm, _ := newTestQueue(backend)

	require.NoError(t, qm.EnterSearch(ctx, "a"))
	require.NoError(t, qm.EnterSearch(ctx, "b"))
	proposal, err := qm.TryPropose(ctx, "a")
	require.NoError(t, err)

	_, err = qm.Respond(ctx, proposal.ID, "a", true)
	require.NoError(t, err)

	// Retrying the accept is a no-op, not a conflict.
	again, err := qm.Respond(ctx, proposal.ID, "a", true)
	require.NoError(t, err)
	assert.Equal(t, StatusAcceptedByA, again.Status)

	// Flipping the answer after the fact is a conflict once terminal.
	_, err = qm.Respond(ctx, proposal.ID, "b", true)
	require.NoError(t, err)
	_, err = qm.Respond(ctx, proposal.ID, "a", false)
	assert.ErrorIs(t, err, ErrAlreadyResponded)
}

func TestRespondConflictingFlipWhileOpenFails(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	addCompatibleProfile(backend, "a")
	addCompatibleProfile(backend, "b")
	qm, notifier := newTestQueue(backend)

	require.NoError(t, qm.EnterSearch(ctx, "a"))
	require.NoError(t, qm.EnterSearch(ctx, "b"))
	proposal, err := qm.TryPropose(ctx, "a")
	require.NoError(t, err)

	accepted, err := qm.Respond(ctx, proposal.ID, "a", true)
	require.NoError(t, err)
	require.Equal(t, StatusAcceptedByA, accepted.Status)

	// Flipping to decline while the other side has not answered is a
	// conflicting second response, not a decline.
	_, err = qm.Respond(ctx, proposal.ID, "a", false)
	assert.ErrorIs(t, err, ErrAlreadyResponded)

	final, err := backend.GetProposal(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAcceptedByA, final.Status)
	assert.Empty(t, notifier.ended)

	// The proposal still resolves normally afterwards.
	matched, err := qm.Respond(ctx, proposal.ID, "b", true)
	require.NoError(t, err)
	assert.Equal(t, StatusMatched, matched.Status)
}

func TestRespondNotParticipant(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	addCompatibleProfile(backend, "a")
	addCompatibleProfile(backend, "b")
	addCompatibleProfile(backend, "outsider")
	qm, _ := newTestQueue(backend)

	require.NoError(t, qm.EnterSearch(ctx, "a"))
	require.NoError(t, qm.EnterSearch(ctx, "b"))
	proposal, err := qm.TryPropose(ctx, "a")
	require.NoError(t, err)

	_, err = qm.Respond(ctx, proposal.ID, "outsider", true)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestRespondUnknownProposal(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	qm, _ := newTestQueue(backend)

	_, err := qm.Respond(ctx, "missing", "a", true)
	assert.ErrorIs(t, err, ErrProposalNotFound)
}

func TestRespondAfterExpiryReapsInPlace(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	addCompatibleProfile(backend, "a")
	addCompatibleProfile(backend, "b")
	qm, notifier := newTestQueue(backend)

	base := time.Now()
	qm.now = func() time.Time { return base }

	require.NoError(t, qm.EnterSearch(ctx, "a"))
	require.NoError(t, qm.EnterSearch(ctx, "b"))
	proposal, err := qm.TryPropose(ctx, "a")
	require.NoError(t, err)

	qm.now = func() time.Time { return base.Add(2 * time.Minute) }

	_, err = qm.Respond(ctx, proposal.ID, "b", true)
	assert.ErrorIs(t, err, ErrProposalExpired)

	final, err := backend.GetProposal(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, final.Status)
	require.Len(t, notifier.ended, 1)
}

func TestExpireStaleSweep(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	addCompatibleProfile(backend, "a")
	addCompatibleProfile(backend, "b")
	qm, notifier := newTestQueue(backend)

	base := time.Now()
	qm.now = func() time.Time { return base }

	require.NoError(t, qm.EnterSearch(ctx, "a"))
	require.NoError(t, qm.EnterSearch(ctx, "b"))
	proposal, err := qm.TryPropose(ctx, "a")
	require.NoError(t, err)

	// Nothing to reap before the deadline.
	reaped, err := qm.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, reaped)

	qm.now = func() time.Time { return base.Add(2 * time.Minute) }

	reaped, err = qm.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	final, err := backend.GetProposal(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, final.Status)
	require.Len(t, notifier.ended, 1)

	// Both users are searching again, mutually excluded.
	ids, err := qm.store.SearchingIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	_, err = qm.TryPropose(ctx, "a")
	assert.ErrorIs(t, err, ErrNoCandidates)
	_, err = qm.TryPropose(ctx, "b")
	assert.ErrorIs(t, err, ErrNoCandidates)

	// A second sweep finds nothing; the reap is handed out exactly once.
	reaped, err = qm.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, reaped)
}

func TestCancelTerminatesOpenProposal(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	addCompatibleProfile(backend, "a")
	addCompatibleProfile(backend, "b")
	qm, _ := newTestQueue(backend)

	require.NoError(t, qm.EnterSearch(ctx, "a"))
	require.NoError(t, qm.EnterSearch(ctx, "b"))
	proposal, err := qm.TryPropose(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, qm.Cancel(ctx, "a"))

	final, err := backend.GetProposal(ctx, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, final.Status)

	// The canceller's session is gone; the counterpart resumes without an
	// exclusion and can search again.
	sessionA, err := qm.store.GetSession(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, sessionA)

	sessionB, err := qm.store.GetSession(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, sessionB)
	assert.False(t, sessionB.Suspended)
	assert.Empty(t, sessionB.ExcludedIDs(time.Now()))
}

func TestCancelWithoutSession(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	qm, _ := newTestQueue(backend)

	assert.ErrorIs(t, qm.Cancel(ctx, "ghost"), ErrNotSearching)
}

func TestConcurrentTryProposeAtMostOneOpenProposalPerUser(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	qm, _ := newTestQueue(backend)

	const users = 8
	ids := make([]string, users)
	for i := range ids {
		ids[i] = fmt.Sprintf("user-%d", i)
		addCompatibleProfile(backend, ids[i])
		require.NoError(t, qm.EnterSearch(ctx, ids[i]))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := qm.TryPropose(ctx, userID)
			if err != nil && !errors.Is(err, ErrAlreadyInProposal) && !errors.Is(err, ErrNoCandidates) {
				assert.NoError(t, err)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		assert.LessOrEqual(t, backend.openProposalCount(id), 1, "user %s", id)
	}
}
