package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// GuardStore records that a proxy report was claimed for a session, so a
// second monitor process for the same session does not report again.
type GuardStore interface {
	// Claim returns true only for the first caller for key.
	Claim(ctx context.Context, key string) (bool, error)
}

// GuardKey builds the storage key for a session.
func GuardKey(namespace, sessionID string) string {
	return fmt.Sprintf("%s:proxy-reported:%s", namespace, sessionID)
}

type InMemoryGuardStore struct {
	claimed map[string]struct{}
	mutex   sync.Mutex
}

func NewInMemoryGuardStore() *InMemoryGuardStore {
	return &InMemoryGuardStore{claimed: make(map[string]struct{})}
}

func (s *InMemoryGuardStore) Claim(_ context.Context, key string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.claimed[key]; ok {
		return false, nil
	}
	s.claimed[key] = struct{}{}
	return true, nil
}

// ------------------------------------------------------------------------------

// ClaimTimeout bounds how long a claim is kept after the session ended.
const ClaimTimeout time.Duration = 24 * time.Hour

type RedisGuardStore struct {
	client *redis.Client
}

func NewRedisGuardStore(client *redis.Client) *RedisGuardStore {
	return &RedisGuardStore{client: client}
}

func (s *RedisGuardStore) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ClaimTimeout).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}
	return ok, nil
}
