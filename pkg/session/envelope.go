package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EnvelopeStore keeps no server-side state besides the revocation denylist:
// the reference handed to the browser is the signed session itself.
type EnvelopeStore struct {
	codec   *Codec
	revoker Revoker
	now     func() time.Time
}

func NewEnvelopeStore(codec *Codec, revoker Revoker) *EnvelopeStore {
	if revoker == nil {
		revoker = NoOpRevoker{}
	}
	return &EnvelopeStore{
		codec:   codec,
		revoker: revoker,
		now:     time.Now,
	}
}

func (e *EnvelopeStore) Create(_ context.Context, s Session) (string, error) {
	if !s.valid() {
		return "", fmt.Errorf("session: missing sid or credentials")
	}
	return e.codec.Encode(s)
}

func (e *EnvelopeStore) Get(ctx context.Context, ref string) (*Session, error) {
	s, err := e.codec.Decode(ref)
	if err != nil {
		return nil, ErrNotFound
	}
	if s.Expired(e.now()) {
		return nil, ErrNotFound
	}
	revoked, err := e.revoker.IsRevoked(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrNotFound
	}
	return &s, nil
}

// Update re-encodes the session. The previous envelope stays verifiable until
// it expires or its sid is revoked, so the caller must hand out the new token.
func (e *EnvelopeStore) Update(_ context.Context, _ string, s Session) (string, error) {
	if !s.valid() {
		return "", fmt.Errorf("session: missing sid or credentials")
	}
	return e.codec.Encode(s)
}

func (e *EnvelopeStore) Delete(ctx context.Context, ref string) error {
	s, err := e.codec.Decode(ref)
	if errors.Is(err, ErrInvalidToken) {
		return nil
	}
	until := time.UnixMilli(s.ExpiresAt)
	if s.ExpiresAt == 0 {
		until = e.now().Add(maxRevocation)
	}
	return e.revoker.Revoke(ctx, s.ID, until)
}

// maxRevocation bounds denylist entries for envelopes issued without an expiry.
const maxRevocation = 30 * 24 * time.Hour
