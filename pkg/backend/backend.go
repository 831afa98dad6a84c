package backend

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrRefreshRejected means the backend refused the refresh credential; the
	// session can no longer be used.
	ErrRefreshRejected = errors.New("backend rejected refresh token")

	// ErrTimeout and ErrUnavailable are transient: the session must be kept.
	ErrTimeout     = errors.New("backend timeout")
	ErrUnavailable = errors.New("backend unavailable")
)

const defaultContentType = "application/json"

type Request struct {
	Method      string
	Path        string
	RawQuery    string
	Body        []byte
	ContentType string
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) ContentType() string {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return defaultContentType
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Tokens is a credential pair. Refresh is empty when the backend does not
// rotate refresh tokens.
type Tokens struct {
	Access  string
	Refresh string
}

// Gateway is the backend API as seen by the BFF. Implementations do not retry.
type Gateway interface {
	Call(ctx context.Context, req Request, accessToken string) (*Response, error)
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
}
