package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionStatus is the billing lifecycle state of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer change.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// PaymentStatus tracks whether the session cost was deducted.
type PaymentStatus string

const (
	PaymentPaid   PaymentStatus = "paid"
	PaymentUnpaid PaymentStatus = "unpaid"
)

// Session is one metered usage interval billed to a customer.
type Session struct {
	ID              uuid.UUID           `json:"id"`
	ComputerID      uuid.UUID           `json:"computer_id"`
	CustomerID      uuid.UUID           `json:"customer_id"`
	StartTime       time.Time           `json:"start_time"`
	EndTime         *time.Time          `json:"end_time"`
	DurationMinutes *int                `json:"duration"`
	HourlyRate      decimal.Decimal     `json:"hourly_rate"`
	TotalCost       decimal.NullDecimal `json:"total_cost"`
	Status          SessionStatus       `json:"status"`
	PaymentStatus   PaymentStatus       `json:"payment_status"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// Completion carries the fields fixed when a session is closed.
type Completion struct {
	EndTime         time.Time
	DurationMinutes int
	TotalCost       decimal.Decimal
}
