package matchmaking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	sessionKeyPrefix = "match:session:"
	claimKeyPrefix   = "match:claim:"
	searchingSetKey  = "match:searching"

	// sessionTTL bounds abandoned sessions in Redis; the idle sweep in the
	// queue manager usually removes them first.
	sessionTTL = 30 * time.Minute
)

// claimPairScript conditionally sets both users' claim keys in one atomic
// step, closing the race between concurrent TryPropose calls on either side.
var claimPairScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 or redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
return 1
`)

// releaseClaimScript deletes a claim only while it still belongs to the
// releasing proposal (compare-and-delete).
var releaseClaimScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStateStore is the cross-process AtomicUserStateStore. Sessions are
// JSON values, searching membership is a set, pair claims are plain keys
// written and released through Lua scripts.
type RedisStateStore struct {
	client *redis.Client
}

// NewRedisStateStore wraps an existing Redis client.
func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client}
}

func (r *RedisStateStore) PutSessionNX(ctx context.Context, s *SearchSession) (bool, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return false, fmt.Errorf("failed to encode session: %w", err)
	}

	ok, err := r.client.SetNX(ctx, sessionKeyPrefix+s.UserID, payload, sessionTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to store session: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := r.client.SAdd(ctx, searchingSetKey, s.UserID).Err(); err != nil {
		return false, fmt.Errorf("failed to add to searching set: %w", err)
	}
	return true, nil
}

func (r *RedisStateStore) GetSession(ctx context.Context, userID string) (*SearchSession, error) {
	payload, err := r.client.Get(ctx, sessionKeyPrefix+userID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var s SearchSession
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}

func (r *RedisStateStore) SaveSession(ctx context.Context, s *SearchSession) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := r.client.Set(ctx, sessionKeyPrefix+s.UserID, payload, sessionTTL).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	// Suspended sessions stop being offered as candidates.
	if s.Suspended {
		err = r.client.SRem(ctx, searchingSetKey, s.UserID).Err()
	} else {
		err = r.client.SAdd(ctx, searchingSetKey, s.UserID).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to update searching set: %w", err)
	}
	return nil
}

func (r *RedisStateStore) DeleteSession(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, sessionKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := r.client.SRem(ctx, searchingSetKey, userID).Err(); err != nil {
		return fmt.Errorf("failed to remove from searching set: %w", err)
	}
	return nil
}

func (r *RedisStateStore) SearchingIDs(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, searchingSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list searching users: %w", err)
	}
	return ids, nil
}

func (r *RedisStateStore) ClaimPair(ctx context.Context, userA, userB, proposalID string, ttl time.Duration) (bool, error) {
	keys := []string{claimKeyPrefix + userA, claimKeyPrefix + userB}
	res, err := claimPairScript.Run(ctx, r.client, keys, proposalID, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to claim pair: %w", err)
	}
	return res == 1, nil
}

func (r *RedisStateStore) ReleaseClaim(ctx context.Context, userID, proposalID string) error {
	_, err := releaseClaimScript.Run(ctx, r.client, []string{claimKeyPrefix + userID}, proposalID).Int()
	if err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	return nil
}

func (r *RedisStateStore) ActiveProposal(ctx context.Context, userID string) (string, error) {
	id, err := r.client.Get(ctx, claimKeyPrefix+userID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read claim: %w", err)
	}
	return id, nil
}
