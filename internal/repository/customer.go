package repository

import (
	"context"
	"database/sql"
	"fmt"
	"kiosk-agent/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const customerColumns = `id, full_name, email, phone, balance`

func scanCustomer(row rowScanner) (*model.Customer, error) {
	var (
		c     model.Customer
		phone sql.NullString
	)
	if err := row.Scan(&c.ID, &c.FullName, &c.Email, &phone, &c.Balance); err != nil {
		return nil, err
	}
	if phone.Valid {
		c.Phone = &phone.String
	}
	return &c, nil
}

// GetCustomer retrieves a customer by ID.
func (s *PostgresStore) GetCustomer(ctx context.Context, id uuid.UUID) (*model.Customer, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`

	c, err := scanCustomer(s.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return c, nil
}

// GetCustomerByEmail retrieves a customer by login e-mail.
func (s *PostgresStore) GetCustomerByEmail(ctx context.Context, email string) (*model.Customer, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	query := `SELECT ` + customerColumns + ` FROM customers WHERE lower(email) = lower($1)`

	c, err := scanCustomer(s.DB.QueryRowContext(ctx, query, email))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer by email: %w", err)
	}
	return c, nil
}

// AddBalance credits a customer through the add_customer_balance procedure.
func (s *PostgresStore) AddBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	return s.callBalanceProc(ctx, ProcAddBalance, id, amount)
}

// SubtractBalance debits a customer through the subtract_customer_balance
// procedure, which refuses to take the balance below zero.
func (s *PostgresStore) SubtractBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	return s.callBalanceProc(ctx, ProcSubtractBalance, id, amount)
}

func (s *PostgresStore) callBalanceProc(ctx context.Context, proc string, id uuid.UUID, amount decimal.Decimal) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s($1, $2)`, proc)

	if _, err := s.DB.ExecContext(ctx, query, id, amount); err != nil {
		if mapped := mapProcedureError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to call %s: %w", proc, err)
	}

	return nil
}

// GetSettingAmount reads value->>'amount' of a system setting.
func (s *PostgresStore) GetSettingAmount(ctx context.Context, key string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	query := `SELECT value->>'amount' FROM system_settings WHERE key = $1`

	var amount decimal.NullDecimal
	err := s.DB.QueryRowContext(ctx, query, key).Scan(&amount)
	if err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, ErrSettingNotFound
		}
		return decimal.Zero, fmt.Errorf("failed to get setting %s: %w", key, err)
	}

	if !amount.Valid {
		return decimal.Zero, ErrSettingNotFound
	}

	return amount.Decimal, nil
}
