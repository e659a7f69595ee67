package matchmaking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutSessionNX(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore()

	now := time.Now()
	created, err := store.PutSessionNX(ctx, NewSearchSession("a", now))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.PutSessionNX(ctx, NewSearchSession("a", now))
	require.NoError(t, err)
	assert.False(t, created)
}

func TestMemoryStoreGetSessionReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore()

	session := NewSearchSession("a", time.Now())
	_, err := store.PutSessionNX(ctx, session)
	require.NoError(t, err)

	loaded, err := store.GetSession(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, loaded)

	// Mutating the returned session must not leak into the store.
	loaded.Exclude("x", time.Now().Add(time.Hour))
	again, err := store.GetSession(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, again.Excluded)
}

func TestMemoryStoreGetSessionAbsent(t *testing.T) {
	store := NewMemoryStateStore()
	s, err := store.GetSession(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestMemoryStoreSearchingIDsSkipsSuspended(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore()
	now := time.Now()

	_, err := store.PutSessionNX(ctx, NewSearchSession("a", now))
	require.NoError(t, err)
	_, err = store.PutSessionNX(ctx, NewSearchSession("b", now))
	require.NoError(t, err)

	suspended := NewSearchSession("b", now)
	suspended.Suspended = true
	require.NoError(t, store.SaveSession(ctx, suspended))

	ids, err := store.SearchingIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}

func TestClaimPairIsExclusive(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore()

	claimed, err := store.ClaimPair(ctx, "a", "b", "p1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Either side being held blocks a new pair.
	claimed, err = store.ClaimPair(ctx, "a", "c", "p2", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	claimed, err = store.ClaimPair(ctx, "c", "b", "p3", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	// A disjoint pair is free.
	claimed, err = store.ClaimPair(ctx, "c", "d", "p4", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestClaimPairConcurrentAtMostOne(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore()

	const attempts = 50
	var wg sync.WaitGroup
	wins := make(chan string, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('A' + n%26))
			claimed, err := store.ClaimPair(ctx, "target", "other", "proposal-"+id, time.Minute)
			assert.NoError(t, err)
			if claimed {
				wins <- id
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestReleaseClaimCompareAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore()

	claimed, err := store.ClaimPair(ctx, "a", "b", "p1", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	// Releasing with the wrong proposal id is a no-op.
	require.NoError(t, store.ReleaseClaim(ctx, "a", "other"))
	held, err := store.ActiveProposal(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "p1", held)

	require.NoError(t, store.ReleaseClaim(ctx, "a", "p1"))
	held, err = store.ActiveProposal(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, held)

	// b is still claimed until released separately.
	held, err = store.ActiveProposal(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "p1", held)
}

func TestClaimExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStateStore()

	// A non-positive TTL is immediately expired.
	claimed, err := store.ClaimPair(ctx, "a", "b", "p1", -time.Millisecond)
	require.NoError(t, err)
	require.True(t, claimed)

	held, err := store.ActiveProposal(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, held)

	claimed, err = store.ClaimPair(ctx, "a", "b", "p2", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}
