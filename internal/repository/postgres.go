package repository

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
)

// PostgresStore implements Store directly over database/sql for on-premises
// deployments where the kiosk reaches the café database without the REST layer.
type PostgresStore struct {
	DB *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

// pgCode returns the SQLSTATE of a lib/pq error, or "" for other errors.
func pgCode(err error) (string, string) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint
	}
	return "", ""
}

func isUniqueViolation(err error) (bool, string) {
	code, constraint := pgCode(err)
	return code == pgerrcode.UniqueViolation, constraint
}

// mapProcedureError translates exceptions raised by the balance procedures.
func mapProcedureError(err error) error {
	code, _ := pgCode(err)
	switch code {
	case pgerrcode.NoDataFound:
		return ErrCustomerNotFound
	case pgerrcode.RaiseException, pgerrcode.CheckViolation:
		return ErrInsufficientFunds
	}
	return nil
}
