package repository

import (
	"context"
	"database/sql"
	"fmt"
	"kiosk-agent/internal/model"
	"time"

	"github.com/google/uuid"
)

const sessionColumns = `id, computer_id, customer_id, start_time, end_time, duration, hourly_rate,
		total_cost, status, payment_status, created_at, updated_at`

func scanSession(row rowScanner) (*model.Session, error) {
	var (
		s        model.Session
		endTime  sql.NullTime
		duration sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.ComputerID, &s.CustomerID, &s.StartTime, &endTime, &duration,
		&s.HourlyRate, &s.TotalCost, &s.Status, &s.PaymentStatus, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if endTime.Valid {
		s.EndTime = &endTime.Time
	}
	if duration.Valid {
		d := int(duration.Int64)
		s.DurationMinutes = &d
	}
	return &s, nil
}

// CreateSession inserts an active, unpaid session.
func (s *PostgresStore) CreateSession(ctx context.Context, session model.Session) (*model.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}

	query := `
		INSERT INTO sessions (id, computer_id, customer_id, start_time, hourly_rate, total_cost, status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err := s.DB.QueryRowContext(ctx, query,
		session.ID,
		session.ComputerID,
		session.CustomerID,
		session.StartTime,
		session.HourlyRate,
		session.TotalCost,
		session.Status,
		session.PaymentStatus,
	).Scan(&session.CreatedAt, &session.UpdatedAt)

	if err != nil {
		if dup, _ := isUniqueViolation(err); dup {
			return nil, ErrActiveSession
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &session, nil
}

// GetActiveSessionByCustomer returns the customer's active session.
func (s *PostgresStore) GetActiveSessionByCustomer(ctx context.Context, customerID uuid.UUID) (*model.Session, error) {
	return s.getActiveSession(ctx, "customer_id", customerID)
}

// GetActiveSessionByComputer returns the active session running on a computer.
func (s *PostgresStore) GetActiveSessionByComputer(ctx context.Context, computerID uuid.UUID) (*model.Session, error) {
	return s.getActiveSession(ctx, "computer_id", computerID)
}

func (s *PostgresStore) getActiveSession(ctx context.Context, column string, id uuid.UUID) (*model.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE ` + column + ` = $1 AND status = $2
		ORDER BY start_time DESC
		LIMIT 1`

	session, err := scanSession(s.DB.QueryRowContext(ctx, query, id, model.SessionActive))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return session, nil
}

// CompleteSession closes an active session with its final duration and cost.
func (s *PostgresStore) CompleteSession(ctx context.Context, id uuid.UUID, completion model.Completion) error {
	query := `
		UPDATE sessions
		SET end_time = $2, duration = $3, total_cost = $4, status = $5, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = $6`

	return s.execSessionUpdate(ctx, "complete session", query,
		id,
		completion.EndTime,
		completion.DurationMinutes,
		completion.TotalCost,
		model.SessionCompleted,
		model.SessionActive,
	)
}

// CancelSession closes an active session without charging it.
func (s *PostgresStore) CancelSession(ctx context.Context, id uuid.UUID, endTime time.Time) error {
	query := `
		UPDATE sessions
		SET end_time = $2, duration = 0, total_cost = 0, status = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = $4`

	return s.execSessionUpdate(ctx, "cancel session", query,
		id, endTime, model.SessionCancelled, model.SessionActive)
}

// MarkSessionPaid records that the session cost has been deducted.
func (s *PostgresStore) MarkSessionPaid(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE sessions SET payment_status = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`

	return s.execSessionUpdate(ctx, "mark session paid", query, id, model.PaymentPaid)
}

// ListSessionsByCustomer returns a customer's sessions, newest first.
func (s *PostgresStore) ListSessionsByCustomer(ctx context.Context, customerID uuid.UUID, limit int) ([]model.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE customer_id = $1
		ORDER BY start_time DESC
		LIMIT $2`

	rows, err := s.DB.QueryContext(ctx, query, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []model.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return sessions, nil
}

func (s *PostgresStore) execSessionUpdate(ctx context.Context, operation, query string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	result, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", operation, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrSessionNotFound
	}

	return nil
}
