package claims

import (
	"time"

	jwt "github.com/dgrijalva/jwt-go"
)

// AccessClaims mirrors the payload of the backend's access tokens
// (SimpleJWT: token_type, exp, iat, jti, user_id).
type AccessClaims struct {
	TokenType string `json:"token_type,omitempty"`
	jwt.StandardClaims
}

// AccessExpiry reads the exp claim of a backend access token without verifying
// its signature. The BFF does not hold the backend's signing key; the value is
// only used to refresh early, the backend stays the authority.
func AccessExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	c := &AccessClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, c); err != nil {
		return time.Time{}, false
	}
	if c.ExpiresAt == 0 {
		return time.Time{}, false
	}
	return time.Unix(c.ExpiresAt, 0), true
}

// ExpiresWithin reports whether the token is a JWT that expires before now+skew.
// Opaque tokens always report false.
func ExpiresWithin(token string, now time.Time, skew time.Duration) bool {
	exp, ok := AccessExpiry(token)
	if !ok {
		return false
	}
	return !now.Add(skew).Before(exp)
}
