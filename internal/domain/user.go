// Package domain contains core domain types for the Ask Danta application.
package domain

import (
	"time"
)

// Roles a local user can hold.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User is a local login mapped to a backend access token.
type User struct {
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	AccessToken  string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Name returns the display name, falling back to the username.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// BackendToken returns the user's own access token, or fallback when the
// user has none.
func (u *User) BackendToken(fallback string) string {
	if u.AccessToken != "" {
		return u.AccessToken
	}
	return fallback
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// LoginSession is a browser login bound to a cookie token.
type LoginSession struct {
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the login session is no longer valid at now.
func (s *LoginSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
