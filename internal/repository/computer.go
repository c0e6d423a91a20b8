package repository

import (
	"context"
	"database/sql"
	"fmt"
	"kiosk-agent/internal/model"
	"time"

	"github.com/google/uuid"
)

const computerColumns = `id, machine_id, computer_number, name, ip_address, mac_address, status,
		specifications, current_session_id, last_seen, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanComputer(row rowScanner) (*model.Computer, error) {
	var (
		c         model.Computer
		mac       sql.NullString
		sessionID uuid.NullUUID
		lastSeen  sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.MachineID, &c.SlotNumber, &c.Name, &c.IPAddress, &mac, &c.Status,
		&c.Specifications, &sessionID, &lastSeen, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if mac.Valid {
		c.MACAddress = &mac.String
	}
	if sessionID.Valid {
		c.CurrentSessionID = &sessionID.UUID
	}
	if lastSeen.Valid {
		c.LastSeen = lastSeen.Time
	}
	return &c, nil
}

// GetComputerByID retrieves a single computer by its ID.
func (s *PostgresStore) GetComputerByID(ctx context.Context, id uuid.UUID) (*model.Computer, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	query := `SELECT ` + computerColumns + ` FROM computers WHERE id = $1`

	c, err := scanComputer(s.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrComputerNotFound
		}
		return nil, fmt.Errorf("failed to get computer by ID: %w", err)
	}
	return c, nil
}

// GetComputerByMachineID retrieves the computer registered for a machine identifier.
func (s *PostgresStore) GetComputerByMachineID(ctx context.Context, machineID string) (*model.Computer, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	query := `SELECT ` + computerColumns + ` FROM computers WHERE machine_id = $1`

	c, err := scanComputer(s.DB.QueryRowContext(ctx, query, machineID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrComputerNotFound
		}
		return nil, fmt.Errorf("failed to get computer by machine id: %w", err)
	}
	return c, nil
}

// ListSlotNumbers returns every allocated slot label.
func (s *PostgresStore) ListSlotNumbers(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	rows, err := s.DB.QueryContext(ctx, `SELECT computer_number FROM computers`)
	if err != nil {
		return nil, fmt.Errorf("failed to query slot numbers: %w", err)
	}
	defer rows.Close()

	var slots []string
	for rows.Next() {
		var slot string
		if err := rows.Scan(&slot); err != nil {
			return nil, fmt.Errorf("failed to scan slot number: %w", err)
		}
		slots = append(slots, slot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return slots, nil
}

// CreateComputer inserts a new registration row.
func (s *PostgresStore) CreateComputer(ctx context.Context, computer model.Computer) (*model.Computer, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	if computer.ID == uuid.Nil {
		computer.ID = uuid.New()
	}

	query := `
		INSERT INTO computers (id, machine_id, computer_number, name, ip_address, mac_address, status, specifications, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := s.DB.QueryRowContext(ctx, query,
		computer.ID,
		computer.MachineID,
		computer.SlotNumber,
		computer.Name,
		computer.IPAddress,
		computer.MACAddress,
		computer.Status,
		computer.Specifications,
		computer.LastSeen,
	).Scan(&computer.CreatedAt, &computer.UpdatedAt)

	if err != nil {
		if dup, constraint := isUniqueViolation(err); dup {
			if constraint == "computers_computer_number_key" {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateSlot, computer.SlotNumber)
			}
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMachineID, computer.MachineID)
		}
		return nil, fmt.Errorf("failed to create computer: %w", err)
	}

	return &computer, nil
}

// UpdateRegistration refreshes identity, network and specs on re-registration
// and marks the computer available.
func (s *PostgresStore) UpdateRegistration(ctx context.Context, id uuid.UUID, computer model.Computer) error {
	query := `
		UPDATE computers
		SET name = $2, ip_address = $3, mac_address = $4, specifications = $5,
			last_seen = $6, status = $7, current_session_id = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`

	return s.execComputerUpdate(ctx, "update computer registration", query,
		id,
		computer.Name,
		computer.IPAddress,
		computer.MACAddress,
		computer.Specifications,
		computer.LastSeen,
		model.ComputerAvailable,
	)
}

// UpdateHeartbeat writes a liveness tick.
func (s *PostgresStore) UpdateHeartbeat(ctx context.Context, id uuid.UUID, hb model.Heartbeat) error {
	query := `
		UPDATE computers
		SET ip_address = $2, mac_address = $3, specifications = $4, last_seen = $5, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`

	return s.execComputerUpdate(ctx, "update heartbeat", query,
		id, hb.IPAddress, hb.MACAddress, hb.Specifications, hb.LastSeen)
}

// UpdateSpecs stores a fresh specs snapshot.
func (s *PostgresStore) UpdateSpecs(ctx context.Context, id uuid.UUID, specs model.Specs, lastSeen time.Time) error {
	query := `
		UPDATE computers
		SET specifications = $2, last_seen = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`

	return s.execComputerUpdate(ctx, "update specifications", query, id, specs, lastSeen)
}

// SetComputerStatus flips the scheduling status and the current session pointer.
func (s *PostgresStore) SetComputerStatus(ctx context.Context, id uuid.UUID, status model.ComputerStatus, sessionID *uuid.UUID, lastSeen time.Time) error {
	query := `
		UPDATE computers
		SET status = $2, current_session_id = $3, last_seen = $4, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`

	return s.execComputerUpdate(ctx, "set computer status", query, id, status, sessionID, lastSeen)
}

func (s *PostgresStore) execComputerUpdate(ctx context.Context, operation, query string, args ...interface{}) error {
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
		return ErrComputerNotFound
	}

	return nil
}
