package model

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Customer is an account holder with a prepaid balance.
type Customer struct {
	ID       uuid.UUID       `json:"id"`
	FullName string          `json:"full_name"`
	Email    string          `json:"email"`
	Phone    *string         `json:"phone"`
	Balance  decimal.Decimal `json:"balance"`
}

// Setting keys stored in system_settings.
const (
	SettingHourlyRate     = "hourly_rate"
	SettingMinimumBalance = "minimum_balance"
)
