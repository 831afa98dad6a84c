package user

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

var ErrInvalidUser = errors.New("invalid user snapshot")

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// User is the denormalized profile the backend returns on login. It is kept
// inside the session so /auth/me style lookups never need the raw tokens.
type User struct {
	ID       int64  `json:"id" bson:"id"`
	Email    string `json:"email" bson:"email"`
	FullName string `json:"full_name" bson:"full_name"`
	Timezone string `json:"timezone" bson:"timezone"`
	Role     Role   `json:"role" bson:"role"`
}

func (u User) Validate() error {
	if u.ID <= 0 {
		return fmt.Errorf("%w: missing id", ErrInvalidUser)
	}
	if u.Email == "" {
		return fmt.Errorf("%w: missing email", ErrInvalidUser)
	}
	if !u.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidUser, u.Role)
	}
	return nil
}

// Parse decodes a backend user object, ignoring fields the snapshot does not carry.
func Parse(raw json.RawMessage) (*User, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidUser)
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUser, err)
	}
	if u.Timezone == "" {
		u.Timezone = "UTC"
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return &u, nil
}
