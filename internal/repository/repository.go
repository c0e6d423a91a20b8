package repository

import (
	"context"
	"errors"
	"kiosk-agent/internal/model"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Custom errors for better error handling
var (
	ErrComputerNotFound   = errors.New("computer not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrCustomerNotFound   = errors.New("customer not found")
	ErrSettingNotFound    = errors.New("setting not found")
	ErrDuplicateMachineID = errors.New("computer with this machine id already exists")
	ErrDuplicateSlot      = errors.New("slot number already taken")
	ErrInsufficientFunds  = errors.New("insufficient customer balance")
	ErrActiveSession      = errors.New("an active session already exists")
)

// Balance procedures exposed by the backend.
const (
	ProcAddBalance      = "add_customer_balance"
	ProcSubtractBalance = "subtract_customer_balance"
)

const defaultQueryTimeout = 5 * time.Second

// ComputerRepository reads and writes kiosk registration rows.
type ComputerRepository interface {
	GetComputerByID(ctx context.Context, id uuid.UUID) (*model.Computer, error)
	GetComputerByMachineID(ctx context.Context, machineID string) (*model.Computer, error)
	ListSlotNumbers(ctx context.Context) ([]string, error)
	CreateComputer(ctx context.Context, computer model.Computer) (*model.Computer, error)
	UpdateRegistration(ctx context.Context, id uuid.UUID, computer model.Computer) error
	UpdateHeartbeat(ctx context.Context, id uuid.UUID, hb model.Heartbeat) error
	UpdateSpecs(ctx context.Context, id uuid.UUID, specs model.Specs, lastSeen time.Time) error
	SetComputerStatus(ctx context.Context, id uuid.UUID, status model.ComputerStatus, sessionID *uuid.UUID, lastSeen time.Time) error
}

// SessionRepository reads and writes billing sessions.
type SessionRepository interface {
	CreateSession(ctx context.Context, session model.Session) (*model.Session, error)
	GetActiveSessionByCustomer(ctx context.Context, customerID uuid.UUID) (*model.Session, error)
	GetActiveSessionByComputer(ctx context.Context, computerID uuid.UUID) (*model.Session, error)
	CompleteSession(ctx context.Context, id uuid.UUID, completion model.Completion) error
	CancelSession(ctx context.Context, id uuid.UUID, endTime time.Time) error
	MarkSessionPaid(ctx context.Context, id uuid.UUID) error
	ListSessionsByCustomer(ctx context.Context, customerID uuid.UUID, limit int) ([]model.Session, error)
}

// CustomerRepository reads customers and adjusts balances atomically server-side.
type CustomerRepository interface {
	GetCustomer(ctx context.Context, id uuid.UUID) (*model.Customer, error)
	GetCustomerByEmail(ctx context.Context, email string) (*model.Customer, error)
	AddBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
	SubtractBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
}

// SettingsRepository reads numeric system settings.
type SettingsRepository interface {
	GetSettingAmount(ctx context.Context, key string) (decimal.Decimal, error)
}

// Store bundles every repository a backend driver provides.
type Store interface {
	ComputerRepository
	SessionRepository
	CustomerRepository
	SettingsRepository
}
