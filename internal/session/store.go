package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists session state across reconnects. Implementations must be
// safe for concurrent use.
type Store interface {
	Persist(ctx context.Context, state *State, ttl time.Duration) error
	Restore(ctx context.Context, sessionID string) (*State, bool, error)
	Delete(ctx context.Context, sessionID string) error
}

// RedisStore keeps session state as JSON values with a TTL
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a session store on the given Redis client
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func stateKey(sessionID string) string {
	return "session:" + sessionID
}

// Persist stores the state, refreshing the TTL
func (s *RedisStore) Persist(ctx context.Context, state *State, ttl time.Duration) error {
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, stateKey(state.SessionID), b, ttl).Err()
}

// Restore returns the persisted state if the TTL has not expired
func (s *RedisStore) Restore(ctx context.Context, sessionID string) (*State, bool, error) {
	raw, err := s.rdb.Get(ctx, stateKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var state State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		// Corrupt payload: treat as a miss so the session starts fresh
		_ = s.rdb.Del(ctx, stateKey(sessionID)).Err()
		return nil, false, nil
	}
	if state.Dedup == nil {
		state.Dedup = NewDedupWindow(16)
	}
	return &state, true, nil
}

// Delete removes the persisted state
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, stateKey(sessionID)).Err()
}
