package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"

	refreshPath = "/auth/refresh/"
	logoutPath  = "/auth/logout/"

	maxResponseBytes = 32 << 20
)

// CredentialMode selects how credentials travel to the backend.
type CredentialMode string

const (
	CredentialCookie CredentialMode = "cookie"
	CredentialBearer CredentialMode = "bearer"
)

type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	mode    CredentialMode
	logger  *slog.Logger
}

type Option func(*Client)

// NewHTTPClient returns a client whose transport keeps up to idlePerHost
// connections to the backend open between requests.
func NewHTTPClient(idlePerHost int) *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if idlePerHost > 0 {
		t.MaxIdleConnsPerHost = idlePerHost
		t.MaxIdleConns = max(t.MaxIdleConns, idlePerHost)
	}
	return &http.Client{Transport: t}
}

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

func WithCredentialMode(mode CredentialMode) Option {
	return func(cl *Client) {
		if mode == CredentialCookie || mode == CredentialBearer {
			cl.mode = mode
		}
	}
}

func NewClient(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: 10 * time.Second,
		mode:    CredentialCookie,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call forwards req to the backend with the access credential attached. The
// response body is fully read before returning.
func (c *Client) Call(ctx context.Context, req Request, accessToken string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if accessToken != "" {
		c.attach(httpReq, accessCookie, accessToken)
	}
	return c.do(httpReq)
}

// Refresh exchanges the refresh credential for a new access credential.
// A 400/401/403 answer yields ErrRefreshRejected.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body []byte
	if c.mode == CredentialBearer {
		body, _ = json.Marshal(map[string]string{"refresh": refreshToken})
	}
	httpReq, err := c.newRequest(ctx, Request{Method: http.MethodPost, Path: refreshPath, Body: body})
	if err != nil {
		return Tokens{}, err
	}
	if c.mode == CredentialCookie {
		httpReq.AddCookie(&http.Cookie{Name: refreshCookie, Value: refreshToken})
	}

	resp, err := c.do(httpReq)
	if err != nil {
		return Tokens{}, err
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return Tokens{}, ErrRefreshRejected
	case !resp.OK():
		return Tokens{}, fmt.Errorf("%w: refresh returned %d", ErrUnavailable, resp.StatusCode)
	}

	tokens := ExtractTokens(resp)
	if tokens.Access == "" {
		return Tokens{}, fmt.Errorf("%w: refresh response without access token", ErrUnavailable)
	}
	return tokens, nil
}

// Logout asks the backend to blacklist the refresh credential.
func (c *Client) Logout(ctx context.Context, accessToken, refreshToken string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body []byte
	if c.mode == CredentialBearer {
		body, _ = json.Marshal(map[string]string{"refresh": refreshToken})
	}
	httpReq, err := c.newRequest(ctx, Request{Method: http.MethodPost, Path: logoutPath, Body: body})
	if err != nil {
		return err
	}
	c.attach(httpReq, accessCookie, accessToken)
	if c.mode == CredentialCookie {
		httpReq.AddCookie(&http.Cookie{Name: refreshCookie, Value: refreshToken})
	}

	resp, err := c.do(httpReq)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("backend logout returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	url := c.baseURL + req.Path
	if req.RawQuery != "" {
		url += "?" + req.RawQuery
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", defaultContentType)
	return httpReq, nil
}

func (c *Client) attach(req *http.Request, cookieName, token string) {
	if c.mode == CredentialBearer {
		req.Header.Set("Authorization", "Bearer "+token)
		return
	}
	req.AddCookie(&http.Cookie{Name: cookieName, Value: token})
}

func (c *Client) do(req *http.Request) (*Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classify(err)
	}

	c.logger.Debug("backend call",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
