// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxUserIDLen     = 64
	MaxDeviceNameLen = 64
)

var (
	ErrUserIDTooLong = errors.New("user id too long")
	ErrUserIDEmpty   = errors.New("user id empty")
)

type UserID string

// User is the identity yielded by the auth collaborator. Anonymous
// connections carry a User with an empty ID.
type User struct {
	ID UserID `json:"id,omitempty"`
}

func NewUser(id string) (*User, error) {
	if len(id) == 0 {
		return nil, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return nil, ErrUserIDTooLong
	}
	return &User{ID: UserID(id)}, nil
}

func Anonymous() *User { return &User{} }

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
