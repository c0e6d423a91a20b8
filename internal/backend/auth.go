package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Auth returns an auth client.
func (c *Client) Auth() *AuthClient {
	return &AuthClient{client: c}
}

// AuthClient handles password authentication against the backend.
type AuthClient struct {
	client *Client
}

// AuthResponse is the response from a sign-in.
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

// User is the authenticated identity.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Role  string `json:"role"`
}

// SignIn exchanges an e-mail/password pair for a session token.
func (a *AuthClient) SignIn(ctx context.Context, email, password string) (*AuthResponse, error) {
	reqURL := fmt.Sprintf("%s/auth/v1/token?grant_type=password", a.client.baseURL)

	body, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal credentials: %w", err)
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")

	resp, err := a.client.do(ctx, http.MethodPost, reqURL, body, h)
	if err != nil {
		return nil, err
	}

	var authResp AuthResponse
	if err := resp.JSON(&authResp); err != nil {
		return nil, err
	}
	if authResp.AccessToken == "" || authResp.User == nil {
		return nil, fmt.Errorf("sign-in response missing session")
	}

	return &authResp, nil
}

// SignOut invalidates the session behind accessToken.
func (a *AuthClient) SignOut(ctx context.Context, accessToken string) error {
	reqURL := fmt.Sprintf("%s/auth/v1/logout", a.client.baseURL)

	_, err := a.client.doAs(ctx, http.MethodPost, reqURL, nil, http.Header{}, accessToken)
	return err
}

// GetUser resolves the user behind accessToken; used to restore a session.
func (a *AuthClient) GetUser(ctx context.Context, accessToken string) (*User, error) {
	reqURL := fmt.Sprintf("%s/auth/v1/user", a.client.baseURL)

	resp, err := a.client.doAs(ctx, http.MethodGet, reqURL, nil, http.Header{}, accessToken)
	if err != nil {
		return nil, err
	}

	var user User
	if err := resp.JSON(&user); err != nil {
		return nil, err
	}

	return &user, nil
}
