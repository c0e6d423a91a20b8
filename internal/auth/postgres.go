package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"
)

const defaultTokenTTL = 12 * time.Hour

// PostgresAuthenticator checks bcrypt password hashes stored on the customers
// table and keeps issued tokens in memory. Tokens do not survive a restart.
type PostgresAuthenticator struct {
	db     *sql.DB
	tokens *cache.Cache
	ttl    time.Duration
	now    func() time.Time
}

// NewPostgresAuthenticator creates an authenticator over a direct connection.
// A non-positive ttl selects the default of 12h.
func NewPostgresAuthenticator(db *sql.DB, ttl time.Duration) *PostgresAuthenticator {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &PostgresAuthenticator{
		db:     db,
		tokens: cache.New(ttl, ttl),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (a *PostgresAuthenticator) SignIn(ctx context.Context, email, password string) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		id   uuid.UUID
		hash string
	)
	query := `SELECT id, password_hash FROM customers WHERE lower(email) = lower($1)`
	err := a.db.QueryRowContext(ctx, query, strings.TrimSpace(email)).Scan(&id, &hash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to look up customer: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) || errors.Is(err, bcrypt.ErrHashTooShort) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}

	session := &Session{
		AccessToken: uuid.NewString(),
		UserID:      id.String(),
		Email:       strings.ToLower(strings.TrimSpace(email)),
		ExpiresAt:   a.now().Add(a.ttl),
	}
	a.tokens.Set(session.AccessToken, *session, cache.DefaultExpiration)

	return session, nil
}

func (a *PostgresAuthenticator) SignOut(_ context.Context, accessToken string) error {
	if _, ok := a.tokens.Get(accessToken); !ok {
		return ErrInvalidToken
	}
	a.tokens.Delete(accessToken)
	return nil
}

func (a *PostgresAuthenticator) Restore(_ context.Context, accessToken string) (*Session, error) {
	v, ok := a.tokens.Get(accessToken)
	if !ok {
		return nil, ErrInvalidToken
	}
	session := v.(Session)
	return &session, nil
}

// HashPassword produces the bcrypt hash stored in customers.password_hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
