package session

import (
	"net/http"
	"time"
)

const DefaultCookieName = "bff_session"

// Cookie issues and clears the browser-side session reference.
// HttpOnly, SameSite=Lax and Path=/ are fixed; Secure is on outside development.
type Cookie struct {
	Name   string
	Secure bool
	Domain string
}

func (c Cookie) name() string {
	if c.Name == "" {
		return DefaultCookieName
	}
	return c.Name
}

// Read returns the session reference carried by the request, or "".
func (c Cookie) Read(r *http.Request) string {
	cookie, err := r.Cookie(c.name())
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Set writes ref with a Max-Age matching the remaining session lifetime.
// A zero ttl produces a browser-session cookie.
func (c Cookie) Set(w http.ResponseWriter, ref string, ttl time.Duration) {
	cookie := &http.Cookie{
		Name:     c.name(),
		Value:    ref,
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl > 0 {
		cookie.MaxAge = int(ttl.Seconds())
		cookie.Expires = time.Now().Add(ttl)
	}
	http.SetCookie(w, cookie)
}

func (c Cookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
