package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNonceNotFound = errors.New("nonce not found")

// NonceStorage keeps the single-use nonce handed out when a session is
// created. Implementations must be safe for concurrent use.
type NonceStorage interface {
	// StoreNonce stores or replaces the nonce of a session.
	StoreNonce(ctx context.Context, sessionId string, nonce string) error

	// TakeNonce returns the nonce and removes it in one step, so that it
	// can be redeemed only once. A missing nonce is ErrNonceNotFound.
	TakeNonce(ctx context.Context, sessionId string) (string, error)

	// RemoveNonce forgets the nonce. A missing nonce is not an error.
	RemoveNonce(ctx context.Context, sessionId string) error
}

// NonceTimeout is how long an unredeemed nonce stays valid.
const NonceTimeout time.Duration = 15 * time.Minute

type InMemoryNonceStorage struct {
	nonces map[string]memoryNonce
	mutex  sync.Mutex
}

type memoryNonce struct {
	value   string
	expires time.Time
}

func NewInMemoryNonceStorage() *InMemoryNonceStorage {
	return &InMemoryNonceStorage{nonces: make(map[string]memoryNonce)}
}

func (s *InMemoryNonceStorage) StoreNonce(_ context.Context, sessionId, nonce string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.nonces[sessionId] = memoryNonce{value: nonce, expires: time.Now().Add(NonceTimeout)}
	return nil
}

func (s *InMemoryNonceStorage) TakeNonce(_ context.Context, sessionId string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	n, ok := s.nonces[sessionId]
	if !ok {
		return "", fmt.Errorf("%w for %s", ErrNonceNotFound, sessionId)
	}
	delete(s.nonces, sessionId)
	if time.Now().After(n.expires) {
		return "", fmt.Errorf("%w for %s: expired", ErrNonceNotFound, sessionId)
	}
	return n.value, nil
}

func (s *InMemoryNonceStorage) RemoveNonce(_ context.Context, sessionId string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.nonces, sessionId)
	return nil
}

// ------------------------------------------------------------------------------

type RedisNonceStorage struct {
	client    *redis.Client
	namespace string
}

func NewRedisNonceStorage(client *redis.Client, namespace string) *RedisNonceStorage {
	return &RedisNonceStorage{client: client, namespace: namespace}
}

func nonceKey(namespace, sessionId string) string {
	return fmt.Sprintf("%s:nonce:%s", namespace, sessionId)
}

func (s *RedisNonceStorage) StoreNonce(ctx context.Context, sessionId string, nonce string) error {
	return s.client.Set(ctx, nonceKey(s.namespace, sessionId), nonce, NonceTimeout).Err()
}

func (s *RedisNonceStorage) TakeNonce(ctx context.Context, sessionId string) (string, error) {
	nonce, err := s.client.GetDel(ctx, nonceKey(s.namespace, sessionId)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w for %s", ErrNonceNotFound, sessionId)
	}
	return nonce, err
}

func (s *RedisNonceStorage) RemoveNonce(ctx context.Context, sessionId string) error {
	return s.client.Del(ctx, nonceKey(s.namespace, sessionId)).Err()
}
