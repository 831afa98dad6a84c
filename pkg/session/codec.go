package session

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	separator = "."
	keySize   = 32
	keyInfo   = "tutorbff session envelope v1"
)

// Codec turns a Session into a tamper-evident token and back:
// base64url(json) "." base64url(hmac-sha256(payload)).
// The first secret signs; every secret verifies, so secrets can be rotated.
type Codec struct {
	keys [][]byte
}

func NewCodec(secrets ...string) (*Codec, error) {
	keys := make([][]byte, 0, len(secrets))
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		key := make([]byte, keySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
			return nil, fmt.Errorf("session: derive key: %w", err)
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, ErrNoSecret
	}
	return &Codec{keys: keys}, nil
}

func (c *Codec) Encode(s Session) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("session: marshal: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(data)
	return payload + separator + sign(c.keys[0], payload), nil
}

// Decode fails closed: every malformed, tampered or incomplete token yields
// ErrInvalidToken and a zero Session.
func (c *Codec) Decode(token string) (Session, error) {
	payload, signature, ok := strings.Cut(token, separator)
	if !ok || payload == "" || signature == "" || strings.Contains(signature, separator) {
		return Session{}, ErrInvalidToken
	}

	if !c.verify(payload, signature) {
		return Session{}, ErrInvalidToken
	}

	data, err := base64.RawURLEncoding.Strict().DecodeString(payload)
	if err != nil {
		return Session{}, ErrInvalidToken
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var s Session
	if err := dec.Decode(&s); err != nil || dec.More() {
		return Session{}, ErrInvalidToken
	}
	if !s.valid() {
		return Session{}, ErrInvalidToken
	}
	return s, nil
}

func (c *Codec) verify(payload, signature string) bool {
	valid := false
	for _, key := range c.keys {
		// no early exit: each key costs the same regardless of which one matches
		if hmac.Equal([]byte(signature), []byte(sign(key, payload))) {
			valid = true
		}
	}
	return valid
}

func sign(key []byte, payload string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
