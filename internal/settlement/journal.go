// Package settlement keeps a local, durable record of balance deductions so
// that a session closed without being charged can be settled later.
package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const dateLayout = "2006-01-02T15:04:05.999999999Z07:00"

// Status is the outcome of a settlement attempt.
type Status string

const (
	// StatusPending is written before the deduction is requested. An entry
	// still pending after a restart has an unknown outcome.
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

var ErrEntryNotFound = errors.New("settlement entry not found")

// Entry is one session's balance deduction.
type Entry struct {
	SessionID  uuid.UUID
	CustomerID uuid.UUID
	Amount     decimal.Decimal
	// Shortfall is the part of the session cost the balance could not cover.
	Shortfall decimal.Decimal
	Status    Status
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS settlements (
	session_id  TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL,
	amount      TEXT NOT NULL,
	shortfall   TEXT NOT NULL DEFAULT '0',
	status      TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_settlements_status ON settlements (status);`

// Journal is the SQLite-backed settlement log.
type Journal struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the journal database at path.
func Open(path string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open settlement journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create settlement schema: %w", err)
	}

	return &Journal{db: db, logger: logger, now: time.Now}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record writes a pending entry. Recording the same session twice keeps the
// first entry.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	now := j.now().UTC().Format(dateLayout)
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO settlements (session_id, customer_id, amount, shortfall, status, attempts, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, '', ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		e.SessionID.String(), e.CustomerID.String(), e.Amount.String(), e.Shortfall.String(),
		StatusPending, now, now)
	if err != nil {
		return fmt.Errorf("failed to record settlement: %w", err)
	}
	return nil
}

// MarkDone records a successful deduction.
func (j *Journal) MarkDone(ctx context.Context, sessionID uuid.UUID) error {
	return j.update(ctx,
		`UPDATE settlements SET status = ?, attempts = attempts + 1, last_error = '', updated_at = ? WHERE session_id = ?`,
		StatusDone, j.now().UTC().Format(dateLayout), sessionID.String())
}

// MarkFailed records a failed deduction attempt.
func (j *Journal) MarkFailed(ctx context.Context, sessionID uuid.UUID, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return j.update(ctx,
		`UPDATE settlements SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ? WHERE session_id = ?`,
		StatusFailed, msg, j.now().UTC().Format(dateLayout), sessionID.String())
}

func (j *Journal) update(ctx context.Context, query string, args ...interface{}) error {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update settlement: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Get returns the entry for a session.
func (j *Journal) Get(ctx context.Context, sessionID uuid.UUID) (*Entry, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT session_id, customer_id, amount, shortfall, status, attempts, last_error, created_at, updated_at
		 FROM settlements WHERE session_id = ?`, sessionID.String())
	e, err := scanEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return e, nil
}

// List returns entries with the given status, oldest first.
func (j *Journal) List(ctx context.Context, status Status) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT session_id, customer_id, amount, shortfall, status, attempts, last_error, created_at, updated_at
		 FROM settlements WHERE status = ? ORDER BY created_at ASC`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e                    Entry
		sessionID, customer  string
		createdAt, updatedAt string
	)
	if err := row.Scan(&sessionID, &customer, &e.Amount, &e.Shortfall, &e.Status, &e.Attempts,
		&e.LastError, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if e.SessionID, err = uuid.Parse(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", sessionID, err)
	}
	if e.CustomerID, err = uuid.Parse(customer); err != nil {
		return nil, fmt.Errorf("invalid customer id %q: %w", customer, err)
	}
	e.CreatedAt, _ = time.Parse(dateLayout, createdAt)
	e.UpdatedAt, _ = time.Parse(dateLayout, updatedAt)
	return &e, nil
}
