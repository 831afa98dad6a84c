package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tutorbff/internal/config"
	bffmongo "tutorbff/internal/mongo"
	bffmysql "tutorbff/internal/mysql"
	bffredis "tutorbff/internal/redis"
	"tutorbff/pkg/session"

	"github.com/redis/go-redis/v9"
)

// Storage owns the session store selected by SESSION_STORE and the
// connections behind it.
type Storage struct {
	Store   session.Store
	Kind    string
	closers []func(context.Context) error
}

func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Storage, error) {
	s := &Storage{Kind: cfg.SessionStore}

	switch cfg.SessionStore {
	case config.StoreEnvelope:
		codec, err := session.NewCodec(cfg.Secrets()...)
		if err != nil {
			return nil, err
		}
		var revoker session.Revoker = session.NewMemoryRevoker()
		if cfg.RedisURL != "" {
			client, err := s.redis(ctx, cfg.RedisURL)
			if err != nil {
				return nil, err
			}
			revoker = session.NewRedisRevoker(client)
		} else {
			logger.Warn("REDIS_URL not set, logout revocations are kept per process")
		}
		s.Store = session.NewEnvelopeStore(codec, revoker)

	case config.StoreMemory:
		s.Store = session.NewMemoryStore()

	case config.StoreRedis:
		client, err := s.redis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		s.Store = session.NewRedisStore(client)

	case config.StoreMySQL:
		db, err := bffmysql.LoadDB(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func(context.Context) error { return db.Close() })
		s.Store = session.NewMySQLStore(db)

	case config.StoreMongo:
		client, db, err := bffmongo.LoadDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, client.Disconnect)
		store := session.NewMongoStore(db)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
		s.Store = store

	default:
		return nil, fmt.Errorf("storage: unknown session store %q", cfg.SessionStore)
	}

	logger.Info("session store ready", slog.String("store", s.Kind))
	return s, nil
}

func (s *Storage) redis(ctx context.Context, url string) (*redis.Client, error) {
	client, err := bffredis.Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func(context.Context) error { return client.Close() })
	return client, nil
}

func (s *Storage) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i](ctx))
	}
	s.closers = nil
	return errors.Join(errs...)
}

// RunSweeper periodically removes expired sessions from stores without native
// expiry. It returns when ctx is done, or at once if store has nothing to sweep.
func RunSweeper(ctx context.Context, store session.Store, interval time.Duration, logger *slog.Logger) {
	sweeper, ok := store.(session.Sweeper)
	if !ok || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sweeper.DeleteExpired(ctx)
			if err != nil {
				logger.Error("session sweep failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				logger.Debug("expired sessions removed", slog.Int64("count", n))
			}
		}
	}
}
