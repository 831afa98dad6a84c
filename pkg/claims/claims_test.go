package claims_test

import (
	"testing"
	"time"

	"tutorbff/pkg/claims"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, exp int64) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"token_type": "access",
		"exp":        exp,
		"user_id":    7,
	})
	s, err := token.SignedString([]byte("backend-only-secret"))
	require.NoError(t, err)
	return s
}

func TestAccessExpiry(t *testing.T) {
	exp := time.Now().Add(5 * time.Minute).Unix()

	got, ok := claims.AccessExpiry(signed(t, exp))
	assert.True(t, ok)
	assert.Equal(t, exp, got.Unix())

	_, ok = claims.AccessExpiry("opaque-token")
	assert.False(t, ok)

	_, ok = claims.AccessExpiry("")
	assert.False(t, ok)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": 7})
	s, err := noExp.SignedString([]byte("k"))
	require.NoError(t, err)
	_, ok = claims.AccessExpiry(s)
	assert.False(t, ok)
}

func TestExpiresWithin(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{name: "fresh", token: signed(t, now.Add(10*time.Minute).Unix()), want: false},
		{name: "inside skew", token: signed(t, now.Add(10*time.Second).Unix()), want: true},
		{name: "already expired", token: signed(t, now.Add(-time.Minute).Unix()), want: true},
		{name: "opaque", token: "abc", want: false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, claims.ExpiresWithin(test.token, now, 30*time.Second))
		})
	}
}
