package session

import (
	"context"
	"errors"
	"time"

	"tutorbff/pkg/user"
)

var (
	// ErrNotFound covers every reference the store cannot honor: unknown,
	// malformed, tampered, expired or revoked. Callers must not distinguish them.
	ErrNotFound = errors.New("session not found")

	ErrInvalidToken = errors.New("invalid session token")

	ErrNoSecret = errors.New("no session secret provided")
)

// Session maps a browser-held reference to the backend credential pair.
// Timestamps are unix milliseconds.
type Session struct {
	ID           string    `json:"sid" bson:"sid"`
	AccessToken  string    `json:"access_token" bson:"access_token"`
	RefreshToken string    `json:"refresh_token" bson:"refresh_token"`
	User         user.User `json:"user" bson:"user"`
	IssuedAt     int64     `json:"iat" bson:"iat"`
	UpdatedAt    int64     `json:"updated_at" bson:"updated_at"`
	ExpiresAt    int64     `json:"exp" bson:"exp"`
}

func (s Session) Expired(now time.Time) bool {
	return s.ExpiresAt != 0 && now.UnixMilli() >= s.ExpiresAt
}

// TTL is the remaining lifetime, or zero when the session has no expiry or is expired.
func (s Session) TTL(now time.Time) time.Duration {
	if s.ExpiresAt == 0 {
		return 0
	}
	d := time.UnixMilli(s.ExpiresAt).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (s Session) valid() bool {
	return s.ID != "" && s.AccessToken != "" && s.RefreshToken != ""
}

// Store persists sessions behind an opaque reference. Keyed stores return a
// stable random key from Create and Update; the envelope store returns a new
// signed token on every mutation.
type Store interface {
	Create(ctx context.Context, s Session) (string, error)
	Get(ctx context.Context, ref string) (*Session, error)
	Update(ctx context.Context, ref string, s Session) (string, error)
	Delete(ctx context.Context, ref string) error
}

// Sweeper is implemented by stores without native expiry.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}
