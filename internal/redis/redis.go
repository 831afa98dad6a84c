package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrEmptyConnectionURL           = errors.New("empty redis connection URL")
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
	ErrRedisNotReady                = errors.New("redis did not become ready within the given time period")
)

const (
	retryAttempts = 3
	retryInterval = 2 * time.Second
)

// Connect parses url, dials and pings the server, retrying a few times
// so the BFF can start alongside a cold Redis container.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, ErrEmptyConnectionURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisConnString, err)
	}

	client := redis.NewClient(opts)
	var pingErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if pingErr = client.Ping(ctx).Err(); pingErr == nil {
			return client, nil
		}
		if attempt == retryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(retryInterval):
		}
	}
	_ = client.Close()
	return nil, errors.Join(ErrRedisNotReady, fmt.Errorf("after %d attempts: %w", retryAttempts, pingErr))
}
