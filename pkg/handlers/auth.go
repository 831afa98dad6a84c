package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tutorbff/pkg/bff"
	"tutorbff/pkg/session"
)

const mePath = "/auth/me/"

type Handler struct {
	Service bff.ServiceInterface
	Cookie  session.Cookie
	Logger  *slog.Logger

	siteURL      string
	maxBodyBytes int64
	now          func() time.Time
}

type Option func(*Handler)

// WithSiteURL sets the absolute origin used for the sign-out redirect.
func WithSiteURL(url string) Option {
	return func(h *Handler) { h.siteURL = strings.TrimRight(url, "/") }
}

func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

func NewHandler(service bff.ServiceInterface, cookie session.Cookie, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		Service:      service,
		Cookie:       cookie,
		Logger:       logger,
		maxBodyBytes: DefaultMaxBodyBytes,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSONBody(w, r, h.maxBodyBytes)
	if !ok {
		return
	}

	res, err := h.Service.Login(r.Context(), body, contentJSON)
	if err != nil {
		h.fail(w, r, "login", err)
		return
	}
	if res.Ref == "" {
		relay(w, h.Logger, res.Response)
		return
	}

	h.Cookie.Set(w, res.Ref, res.Session.TTL(h.now()))
	WriteResp(w, h.Logger, map[string]any{"user": res.User}, http.StatusOK)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSONBody(w, r, h.maxBodyBytes)
	if !ok {
		return
	}

	resp, err := h.Service.Register(r.Context(), body, contentJSON)
	if err != nil {
		h.fail(w, r, "register", err)
		return
	}
	relay(w, h.Logger, resp)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Logout(r.Context(), h.Cookie.Read(r)); err != nil {
		// The browser forgets the session even when the store could not.
		if !errors.Is(err, bff.ErrUnauthenticated) {
			h.Cookie.Clear(w)
		}
		h.fail(w, r, "logout", err)
		return
	}
	h.Cookie.Clear(w)
	WriteResp(w, h.Logger, map[string]any{"ok": true}, http.StatusOK)
}

// SignOut is the browser-navigable variant of Logout: it always clears the
// cookie and sends the user to the site root.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	err := h.Service.Logout(r.Context(), h.Cookie.Read(r))
	if err != nil && !errors.Is(err, bff.ErrUnauthenticated) {
		h.Logger.Warn("signout", slog.Any("error", err))
	}
	h.Cookie.Clear(w)
	http.Redirect(w, r, h.siteURL+"/", http.StatusSeeOther)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, "me", bffRequest(http.MethodGet, mePath, "", nil, ""))
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Refresh(r.Context(), h.Cookie.Read(r))
	if err != nil {
		h.fail(w, r, "refresh", err)
		return
	}
	h.Cookie.Set(w, res.Ref, res.Session.TTL(h.now()))
	WriteResp(w, h.Logger, map[string]any{"ok": true}, http.StatusOK)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	WriteResp(w, h.Logger, map[string]any{"status": "ok"}, http.StatusOK)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	if errors.Is(err, bff.ErrUnauthenticated) {
		h.Cookie.Clear(w)
		writeError(w, http.StatusUnauthorized, typeError, "unauthorized")
		return
	}
	status, msg := statusFor(err)
	h.Logger.Error(action, slog.String("path", r.URL.Path), slog.Any("error", err))
	writeError(w, status, typeError, msg)
}
