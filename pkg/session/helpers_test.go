package session_test

import (
	"time"

	"tutorbff/pkg/session"
	"tutorbff/pkg/user"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func makeSession(sid string) session.Session {
	now := time.Now()
	return session.Session{
		ID:           sid,
		AccessToken:  "access-" + sid,
		RefreshToken: "refresh-" + sid,
		User: user.User{
			ID:       42,
			Email:    "a@b.com",
			FullName: "Ann Bee",
			Timezone: "UTC",
			Role:     user.RoleStudent,
		},
		IssuedAt:  now.UnixMilli(),
		UpdatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(time.Hour).UnixMilli(),
	}
}
