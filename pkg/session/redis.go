package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tutorbff/pkg/generator"
)

type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed session store. Keys expire with the session.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "bff:session:",
		now:    time.Now,
	}
}

func (r *RedisStore) key(ref string) string {
	return r.prefix + ref
}

func (r *RedisStore) ttl(s Session) (time.Duration, error) {
	if s.ExpiresAt == 0 {
		return 0, fmt.Errorf("session: expires_at is required")
	}
	ttl := s.TTL(r.now())
	if ttl <= 0 {
		return 0, fmt.Errorf("session: expires_at must be in the future")
	}
	return ttl, nil
}

func (r *RedisStore) Create(ctx context.Context, s Session) (string, error) {
	if !s.valid() {
		return "", fmt.Errorf("session: missing sid or credentials")
	}
	ttl, err := r.ttl(s)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("session: failed to marshal: %w", err)
	}

	for {
		ref, err := generator.GenerateToken(generator.TokenBytes)
		if err != nil {
			return "", err
		}
		ok, err := r.client.SetNX(ctx, r.key(ref), data, ttl).Result()
		if err != nil {
			return "", fmt.Errorf("session: redis create: %w", err)
		}
		if ok {
			return ref, nil
		}
	}
}

func (r *RedisStore) Get(ctx context.Context, ref string) (*Session, error) {
	val, err := r.client.Get(ctx, r.key(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get: %w", err)
	}

	var s Session
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, ErrNotFound
	}
	if s.Expired(r.now()) {
		return nil, ErrNotFound
	}
	return &s, nil
}

// Update only overwrites an existing key (SET XX), so a refresh racing a
// logout cannot bring the session back.
func (r *RedisStore) Update(ctx context.Context, ref string, s Session) (string, error) {
	ttl := s.TTL(r.now())
	if ttl <= 0 {
		if err := r.client.Del(ctx, r.key(ref)).Err(); err != nil {
			return "", fmt.Errorf("session: redis delete: %w", err)
		}
		return "", ErrNotFound
	}

	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("session: failed to marshal: %w", err)
	}

	err = r.client.SetArgs(ctx, r.key(ref), data, redis.SetArgs{Mode: "XX", TTL: ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("session: redis update: %w", err)
	}
	return ref, nil
}

func (r *RedisStore) Delete(ctx context.Context, ref string) error {
	if err := r.client.Del(ctx, r.key(ref)).Err(); err != nil {
		return fmt.Errorf("session: redis delete: %w", err)
	}
	return nil
}
