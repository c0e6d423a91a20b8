package auth

import (
	"context"
	"fmt"
	"kiosk-agent/internal/backend"
	"time"
)

// SupabaseAuthenticator delegates to the hosted backend's auth API.
type SupabaseAuthenticator struct {
	auth *backend.AuthClient
	now  func() time.Time
}

// NewSupabaseAuthenticator creates an authenticator over the backend client.
func NewSupabaseAuthenticator(client *backend.Client) *SupabaseAuthenticator {
	return &SupabaseAuthenticator{auth: client.Auth(), now: time.Now}
}

func (a *SupabaseAuthenticator) SignIn(ctx context.Context, email, password string) (*Session, error) {
	resp, err := a.auth.SignIn(ctx, email, password)
	if err != nil {
		if backend.IsUnauthorized(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}

	return &Session{
		AccessToken: resp.AccessToken,
		UserID:      resp.User.ID,
		Email:       resp.User.Email,
		ExpiresAt:   a.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}, nil
}

func (a *SupabaseAuthenticator) SignOut(ctx context.Context, accessToken string) error {
	if err := a.auth.SignOut(ctx, accessToken); err != nil {
		if backend.IsUnauthorized(err) {
			return ErrInvalidToken
		}
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

func (a *SupabaseAuthenticator) Restore(ctx context.Context, accessToken string) (*Session, error) {
	user, err := a.auth.GetUser(ctx, accessToken)
	if err != nil {
		if backend.IsUnauthorized(err) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}

	return &Session{
		AccessToken: accessToken,
		UserID:      user.ID,
		Email:       user.Email,
	}, nil
}
