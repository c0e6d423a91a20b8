// Package auth authenticates café customers at the kiosk.
package auth

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("session token is invalid or expired")
)

// Session is an authenticated customer login.
type Session struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Authenticator signs customers in and out and restores sessions on restart.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, accessToken string) error
	Restore(ctx context.Context, accessToken string) (*Session, error)
}
