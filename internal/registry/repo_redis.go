package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the peer registry with Redis so concurrent engine nodes
// observe the same address claims.
//
// Keys:
//   peeraddr:<address>            -> claim marker (SET NX, TTL)
//   peerreg:<session_id>:<role>   -> latest registration JSON (TTL)
//
// SET NX gives the atomic "busy/taken" signal the allocator retries on.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		// Sessions are bounded by ring/connect timeouts plus connected time;
		// the TTL only prevents leaked claims after a crash.
		ttl = 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Claim(ctx context.Context, reg Registration) (bool, error) {
	if s.rdb == nil {
		return false, fmt.Errorf("registry: redis client is nil")
	}

	ok, err := s.rdb.SetNX(ctx, addressKey(reg.PeerAddress), reg.SessionID, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("registry: claim %s: %w", reg.PeerAddress, err)
	}
	if !ok {
		return false, nil
	}

	payload, err := json.Marshal(reg)
	if err != nil {
		return false, err
	}
	if err := s.rdb.Set(ctx, latestKey(reg.SessionID, reg.Role), payload, s.ttl).Err(); err != nil {
		return false, fmt.Errorf("registry: record %s/%s: %w", reg.SessionID, reg.Role, err)
	}
	return true, nil
}

func (s *RedisStore) Lookup(ctx context.Context, sessionID, role string) (Registration, error) {
	if s.rdb == nil {
		return Registration{}, fmt.Errorf("registry: redis client is nil")
	}

	raw, err := s.rdb.Get(ctx, latestKey(sessionID, role)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Registration{}, ErrNotRegistered
		}
		return Registration{}, err
	}

	var reg Registration
	if err := json.Unmarshal(raw, &reg); err != nil {
		return Registration{}, fmt.Errorf("registry: decode %s/%s: %w", sessionID, role, err)
	}
	return reg, nil
}

func addressKey(address string) string {
	return "peeraddr:" + address
}

func latestKey(sessionID, role string) string {
	return fmt.Sprintf("peerreg:%s:%s", sessionID, role)
}
