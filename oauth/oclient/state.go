package oclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	redis "github.com/redis/go-redis/v9"
)

// PendingConnect is what the authorization redirect must carry back.
type PendingConnect struct {
	AccountID string    `json:"account_id"`
	TenantID  string    `json:"tenant_id"`
	Provider  string    `json:"provider"`
	Verifier  string    `json:"verifier"`
	CreatedAt time.Time `json:"created_at"`
}

// StateStore holds pending connections between redirect and callback. Take
// must be single use.
type StateStore interface {
	Put(ctx context.Context, state string, p PendingConnect, ttl time.Duration) error
	Take(ctx context.Context, state string) (PendingConnect, error)
}

var _ StateStore = &RedisStateStore{}

type RedisStateStore struct {
	rdb redis.Cmdable
}

func NewRedisStateStore(rdb redis.Cmdable) *RedisStateStore {
	return &RedisStateStore{rdb: rdb}
}

func stateKey(state string) string {
	return "linkguard:oauth_state:" + state
}

func (s *RedisStateStore) Put(ctx context.Context, state string, p PendingConnect, ttl time.Duration) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, stateKey(state), raw, ttl).Err()
}

func (s *RedisStateStore) Take(ctx context.Context, state string) (PendingConnect, error) {
	raw, err := s.rdb.GetDel(ctx, stateKey(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return PendingConnect{}, ErrStateNotFound
	}
	if err != nil {
		return PendingConnect{}, fmt.Errorf("failed to load oauth state: %w", err)
	}
	var p PendingConnect
	if err := json.Unmarshal(raw, &p); err != nil {
		return PendingConnect{}, fmt.Errorf("failed to decode oauth state: %w", err)
	}
	return p, nil
}

var _ StateStore = &MemoryStateStore{}

// MemoryStateStore keeps pending connections in process. Entries expire on
// their own; the mutex makes Take single use.
type MemoryStateStore struct {
	mu sync.Mutex
	c  *gocache.Cache
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{c: gocache.New(defaultStateTTL, time.Minute)}
}

func (s *MemoryStateStore) Put(_ context.Context, state string, p PendingConnect, ttl time.Duration) error {
	s.c.Set(stateKey(state), p, ttl)
	return nil
}

func (s *MemoryStateStore) Take(_ context.Context, state string) (PendingConnect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.c.Get(stateKey(state))
	if !ok {
		return PendingConnect{}, ErrStateNotFound
	}
	s.c.Delete(stateKey(state))
	p, _ := v.(PendingConnect)
	return p, nil
}
