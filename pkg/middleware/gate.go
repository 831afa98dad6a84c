package middleware

import (
	"net/http"
	"strings"
)

type PathClass int

const (
	Public PathClass = iota
	AuthPage
	Protected
)

// GateConfig describes the page-level routing rules. The gate only checks
// cookie presence; the session itself is validated by the BFF handlers and
// the backend.
type GateConfig struct {
	CookieName  string
	AuthPages   []string
	Protected   []string
	LandingPath string
	SignInPath  string
	// SiteURL, when set, makes redirects absolute.
	SiteURL string
}

func DefaultGateConfig(cookieName, siteURL string) GateConfig {
	return GateConfig{
		CookieName:  cookieName,
		AuthPages:   []string{"/auth/signin", "/auth/signup"},
		Protected:   []string{"/dashboard", "/student", "/teacher", "/admin"},
		LandingPath: "/dashboard",
		SignInPath:  "/auth/signin",
		SiteURL:     strings.TrimRight(siteURL, "/"),
	}
}

func (c GateConfig) Classify(path string) PathClass {
	for _, p := range c.AuthPages {
		if matchSegment(path, p) {
			return AuthPage
		}
	}
	for _, p := range c.Protected {
		if matchSegment(path, p) {
			return Protected
		}
	}
	return Public
}

// matchSegment reports whether path equals prefix or continues it with a new
// segment, so /administrator does not match /admin.
func matchSegment(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

func Gate(cfg GateConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hasCookie := false
			if c, err := r.Cookie(cfg.CookieName); err == nil && c.Value != "" {
				hasCookie = true
			}

			switch cfg.Classify(r.URL.Path) {
			case AuthPage:
				if hasCookie {
					http.Redirect(w, r, cfg.SiteURL+cfg.LandingPath, http.StatusTemporaryRedirect)
					return
				}
			case Protected:
				if !hasCookie {
					http.Redirect(w, r, cfg.SiteURL+cfg.SignInPath, http.StatusTemporaryRedirect)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
