// Package domain contains entities without transport logic: users, rooms,
// call sessions and the errors shared across layers.
package domain

import (
	"errors"
)

const (
	MaxUsernameLen = 36
	GuestUsername  = "guest"
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type UserID string

type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// NewGuest returns a user bound to an existing client token.
func NewGuest(id UserID) *User {
	return &User{ID: id, Username: GuestUsername}
}

func (u *User) SetUsername(username string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	u.Username = username
	return nil
}

func ValidateUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
