package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revoker is a denylist of session IDs. Envelopes carry their own state, so
// logout can only be enforced by refusing their sid until the envelope expires.
type Revoker interface {
	IsRevoked(ctx context.Context, sid string) (bool, error)
	Revoke(ctx context.Context, sid string, until time.Time) error
}

// NoOpRevoker never revokes anything.
type NoOpRevoker struct{}

func (NoOpRevoker) IsRevoked(context.Context, string) (bool, error) { return false, nil }

func (NoOpRevoker) Revoke(context.Context, string, time.Time) error { return nil }

// MemoryRevoker keeps the denylist in process memory.
type MemoryRevoker struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevoker() *MemoryRevoker {
	return &MemoryRevoker{
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *MemoryRevoker) IsRevoked(_ context.Context, sid string) (bool, error) {
	m.mu.RLock()
	until, ok := m.revoked[sid]
	m.mu.RUnlock()
	return ok && m.now().Before(until), nil
}

func (m *MemoryRevoker) Revoke(_ context.Context, sid string, until time.Time) error {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.revoked {
		if !now.Before(u) {
			delete(m.revoked, id)
		}
	}
	if now.Before(until) {
		m.revoked[sid] = until
	}
	return nil
}

// RedisRevoker shares the denylist between BFF replicas.
type RedisRevoker struct {
	client *redis.Client
	prefix string
}

func NewRedisRevoker(client *redis.Client) *RedisRevoker {
	return &RedisRevoker{
		client: client,
		prefix: "bff:revoked:",
	}
}

func (r *RedisRevoker) IsRevoked(ctx context.Context, sid string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+sid).Result()
	if err != nil {
		return false, fmt.Errorf("session: revoker lookup: %w", err)
	}
	return n > 0, nil
}

func (r *RedisRevoker) Revoke(ctx context.Context, sid string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.prefix+sid, "1", ttl).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session: revoke: %w", err)
	}
	return nil
}
