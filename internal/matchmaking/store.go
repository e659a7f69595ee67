package matchmaking

import (
	"context"
	"sync"
	"time"
)

// AtomicUserStateStore is the shared source of truth for "is user X free,
// searching, or in a proposal". Implementations must make ClaimPair and
// ReleaseClaim atomic across processes; everything else is plain keyed
// access. The queue manager's correctness must not depend on which
// implementation is wired.
type AtomicUserStateStore interface {
	// PutSessionNX stores a new session only if none exists for the user.
	// Returns false when a session is already present.
	PutSessionNX(ctx context.Context, s *SearchSession) (bool, error)
	// GetSession returns the session for userID, or nil when absent.
	GetSession(ctx context.Context, userID string) (*SearchSession, error)
	// SaveSession overwrites the session and updates searching-set
	// membership (suspended sessions are not offered as candidates).
	SaveSession(ctx context.Context, s *SearchSession) error
	// DeleteSession removes the session and its searching-set membership.
	DeleteSession(ctx context.Context, userID string) error
	// SearchingIDs lists users currently searching and not suspended.
	SearchingIDs(ctx context.Context) ([]string, error)

	// ClaimPair conditionally marks both users as held by proposalID in one
	// atomic step. Returns false without side effects if either user already
	// holds a live claim. The ttl bounds how long a crashed process can
	// wedge a user.
	ClaimPair(ctx context.Context, userA, userB, proposalID string, ttl time.Duration) (bool, error)
	// ReleaseClaim drops userID's claim only if it still belongs to
	// proposalID (compare-and-delete), so a concurrent sweep and respond
	// cannot release someone else's claim.
	ReleaseClaim(ctx context.Context, userID, proposalID string) error
	// ActiveProposal returns the proposal id currently claiming userID, or
	// "" when the user is free.
	ActiveProposal(ctx context.Context, userID string) (string, error)
}

type claim struct {
	proposalID string
	expiresAt  time.Time
}

// memoryStateStore is the single-process implementation: a mutex-guarded
// map with the same conditional semantics as the Redis store. Used in tests
// and when no Redis URL is configured.
type memoryStateStore struct {
	mu       sync.Mutex
	sessions map[string]*SearchSession
	claims   map[string]claim
	now      func() time.Time
}

// NewMemoryStateStore returns an in-process AtomicUserStateStore.
func NewMemoryStateStore() AtomicUserStateStore {
	return &memoryStateStore{
		sessions: make(map[string]*SearchSession),
		claims:   make(map[string]claim),
		now:      time.Now,
	}
}

func (m *memoryStateStore) PutSessionNX(_ context.Context, s *SearchSession) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.UserID]; ok {
		return false, nil
	}
	m.sessions[s.UserID] = copySession(s)
	return true, nil
}

func (m *memoryStateStore) GetSession(_ context.Context, userID string) (*SearchSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil, nil
	}
	return copySession(s), nil
}

func (m *memoryStateStore) SaveSession(_ context.Context, s *SearchSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.UserID] = copySession(s)
	return nil
}

func (m *memoryStateStore) DeleteSession(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

func (m *memoryStateStore) SearchingIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id, s := range m.sessions {
		if !s.Suspended {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memoryStateStore) ClaimPair(_ context.Context, userA, userB, proposalID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if m.held(userA, now) || m.held(userB, now) {
		return false, nil
	}
	c := claim{proposalID: proposalID, expiresAt: now.Add(ttl)}
	m.claims[userA] = c
	m.claims[userB] = c
	return true, nil
}

func (m *memoryStateStore) held(userID string, now time.Time) bool {
	c, ok := m.claims[userID]
	if !ok {
		return false
	}
	if now.After(c.expiresAt) {
		delete(m.claims, userID)
		return false
	}
	return true
}

func (m *memoryStateStore) ReleaseClaim(_ context.Context, userID, proposalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.claims[userID]; ok && c.proposalID == proposalID {
		delete(m.claims, userID)
	}
	return nil
}

func (m *memoryStateStore) ActiveProposal(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held(userID, m.now()) {
		return m.claims[userID].proposalID, nil
	}
	return "", nil
}

func copySession(s *SearchSession) *SearchSession {
	cp := *s
	cp.Excluded = make(map[string]time.Time, len(s.Excluded))
	for id, until := range s.Excluded {
		cp.Excluded[id] = until
	}
	return &cp
}
