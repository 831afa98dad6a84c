package bff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"tutorbff/pkg/backend"
	"tutorbff/pkg/claims"
	"tutorbff/pkg/generator"
	"tutorbff/pkg/session"
	"tutorbff/pkg/user"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnauthenticated ends the request with 401 and a cleared cookie.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrStore wraps session store failures other than a missing session.
	ErrStore = errors.New("session store unavailable")

	ErrBadLoginResponse = errors.New("backend login response lacks tokens or user")
)

const (
	loginPath    = "/auth/login/"
	registerPath = "/auth/register/"

	sidLength = 24
)

type ServiceInterface interface {
	Login(ctx context.Context, body []byte, contentType string) (*LoginResult, error)
	Register(ctx context.Context, body []byte, contentType string) (*backend.Response, error)
	Resolve(ctx context.Context, ref string) (*session.Session, error)
	Forward(ctx context.Context, ref string, req backend.Request) (*Result, error)
	Refresh(ctx context.Context, ref string) (*Result, error)
	Logout(ctx context.Context, ref string) error
}

// Result carries the backend answer and the session state after the call.
// When Rotated is set the browser must receive Ref as its new cookie value.
type Result struct {
	Response *backend.Response
	Ref      string
	Session  *session.Session
	Rotated  bool
}

// LoginResult either holds a new session (Ref non-empty) or the backend's
// rejection to relay as is.
type LoginResult struct {
	Response *backend.Response
	User     *user.User
	Ref      string
	Session  *session.Session
}

type Service struct {
	Store   session.Store
	Gateway backend.Gateway

	logger    *slog.Logger
	ttl       time.Duration
	proactive bool
	skew      time.Duration
	coalesce  bool
	group     singleflight.Group
	now       func() time.Time
}

type Option func(*Service)

func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithProactiveRefresh refreshes JWT access tokens that expire within skew
// before the backend gets a chance to reject them. A zero skew disables it.
func WithProactiveRefresh(skew time.Duration) Option {
	return func(s *Service) {
		s.proactive = skew > 0
		s.skew = skew
	}
}

// WithCoalescing makes concurrent refreshes of one session share a single
// backend round trip.
func WithCoalescing(enabled bool) Option {
	return func(s *Service) { s.coalesce = enabled }
}

// WithClock replaces time.Now; used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store session.Store, gateway backend.Gateway, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		Store:     store,
		Gateway:   gateway,
		logger:    logger,
		ttl:       7 * 24 * time.Hour,
		proactive: true,
		skew:      30 * time.Second,
		coalesce:  true,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Login(ctx context.Context, body []byte, contentType string) (*LoginResult, error) {
	resp, err := s.Gateway.Call(ctx, backend.Request{
		Method:      http.MethodPost,
		Path:        loginPath,
		Body:        body,
		ContentType: contentType,
	}, "")
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return &LoginResult{Response: resp}, nil
	}

	tokens := backend.ExtractTokens(resp)
	if tokens.Access == "" || tokens.Refresh == "" {
		return nil, ErrBadLoginResponse
	}
	u, err := backend.ExtractUser(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadLoginResponse, err)
	}

	sid, err := generator.GenerateRandomID(sidLength)
	if err != nil {
		return nil, err
	}
	now := s.now()
	sess := session.Session{
		ID:           sid,
		AccessToken:  tokens.Access,
		RefreshToken: tokens.Refresh,
		User:         *u,
		IssuedAt:     now.UnixMilli(),
		UpdatedAt:    now.UnixMilli(),
		ExpiresAt:    now.Add(s.ttl).UnixMilli(),
	}

	ref, err := s.Store.Create(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	s.logger.Info("session created", slog.String("sid", sid), slog.Int64("user_id", u.ID))

	return &LoginResult{Response: resp, User: u, Ref: ref, Session: &sess}, nil
}

// Register is a stateless passthrough; no session is created.
func (s *Service) Register(ctx context.Context, body []byte, contentType string) (*backend.Response, error) {
	return s.Gateway.Call(ctx, backend.Request{
		Method:      http.MethodPost,
		Path:        registerPath,
		Body:        body,
		ContentType: contentType,
	}, "")
}

func (s *Service) Resolve(ctx context.Context, ref string) (*session.Session, error) {
	if ref == "" {
		return nil, ErrUnauthenticated
	}
	sess, err := s.Store.Get(ctx, ref)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return sess, nil
}

// Forward calls the backend on behalf of the session behind ref. A 401 from
// the backend triggers exactly one refresh and one retry; a second 401 or a
// rejected refresh ends the session. Transient backend failures keep it.
//
// On error the returned Result may still be non-nil: if the session was
// rotated before the failure, the caller must hand out the new ref.
func (s *Service) Forward(ctx context.Context, ref string, req backend.Request) (*Result, error) {
	sess, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	res := &Result{Ref: ref, Session: sess}

	refreshed := false
	if s.proactive && claims.ExpiresWithin(sess.AccessToken, s.now(), s.skew) {
		err := s.rotate(ctx, res)
		switch {
		case err == nil:
			refreshed = true
		case errors.Is(err, backend.ErrTimeout), errors.Is(err, backend.ErrUnavailable):
			// The access token may still be good; the 401 path retries the refresh.
			s.logger.Warn("proactive refresh failed", slog.String("sid", sess.ID), slog.Any("error", err))
		default:
			return nil, err
		}
	}

	resp, err := s.Gateway.Call(ctx, req, res.Session.AccessToken)
	if err != nil {
		return res, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		res.Response = resp
		return res, nil
	}

	if !refreshed {
		if err := s.rotate(ctx, res); err != nil {
			return nil, err
		}
		resp, err = s.Gateway.Call(ctx, req, res.Session.AccessToken)
		if err != nil {
			return res, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			res.Response = resp
			return res, nil
		}
	}

	s.logger.Info("backend rejected refreshed credentials", slog.String("sid", sess.ID))
	s.terminate(ctx, res.Ref, sess.ID)
	return nil, ErrUnauthenticated
}

// Refresh forces one refresh cycle for the session behind ref.
func (s *Service) Refresh(ctx context.Context, ref string) (*Result, error) {
	sess, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	res := &Result{Ref: ref, Session: sess}
	if err := s.rotate(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Logout notifies the backend on a best-effort basis and deletes the session.
func (s *Service) Logout(ctx context.Context, ref string) error {
	sess, err := s.Resolve(ctx, ref)
	if err != nil {
		return err
	}

	if err := s.Gateway.Logout(ctx, sess.AccessToken, sess.RefreshToken); err != nil {
		s.logger.Warn("backend logout failed", slog.String("sid", sess.ID), slog.Any("error", err))
	}

	if err := s.Store.Delete(ctx, ref); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	s.logger.Info("session deleted", slog.String("sid", sess.ID))
	return nil
}

// rotate exchanges the refresh token and persists the new pair into res.
func (s *Service) rotate(ctx context.Context, res *Result) error {
	sess := res.Session

	tokens, err := s.refreshTokens(ctx, sess)
	if errors.Is(err, backend.ErrRefreshRejected) {
		// A concurrent request on a keyed store may already have rotated a
		// single-use refresh token.
		if current, gerr := s.Store.Get(ctx, res.Ref); gerr == nil && current.RefreshToken != sess.RefreshToken {
			res.Session = current
			return nil
		}
		s.logger.Info("refresh rejected", slog.String("sid", sess.ID))
		s.terminate(ctx, res.Ref, sess.ID)
		return ErrUnauthenticated
	}
	if err != nil {
		return err
	}

	updated := *sess
	updated.AccessToken = tokens.Access
	if tokens.Refresh != "" {
		updated.RefreshToken = tokens.Refresh
	}
	updated.UpdatedAt = s.now().UnixMilli()

	ref, err := s.Store.Update(ctx, res.Ref, updated)
	if errors.Is(err, session.ErrNotFound) {
		return ErrUnauthenticated
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}

	res.Rotated = res.Rotated || ref != res.Ref
	res.Ref = ref
	res.Session = &updated
	s.logger.Debug("session refreshed", slog.String("sid", sess.ID))
	return nil
}

func (s *Service) refreshTokens(ctx context.Context, sess *session.Session) (backend.Tokens, error) {
	if !s.coalesce {
		return s.Gateway.Refresh(ctx, sess.RefreshToken)
	}
	// The shared call must outlive any single caller; the gateway applies its
	// own timeout.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(sess.ID+"\x00"+sess.RefreshToken, func() (any, error) {
		return s.Gateway.Refresh(shared, sess.RefreshToken)
	})
	select {
	case <-ctx.Done():
		return backend.Tokens{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return backend.Tokens{}, r.Err
		}
		return r.Val.(backend.Tokens), nil
	}
}

func (s *Service) terminate(ctx context.Context, ref, sid string) {
	if err := s.Store.Delete(ctx, ref); err != nil {
		s.logger.Error("failed to delete session", slog.String("sid", sid), slog.Any("error", err))
	}
}
