package handler

import (
	"net/http"
)

// KioskHandlerInterface defines the contract for the kiosk's local HTTP API.
type KioskHandlerInterface interface {
	// Customer authentication
	SignInHandler(w http.ResponseWriter, r *http.Request)
	SignOutHandler(w http.ResponseWriter, r *http.Request)
	RestoreSessionHandler(w http.ResponseWriter, r *http.Request)

	// Customer accounts
	GetBalanceHandler(w http.ResponseWriter, r *http.Request)
	TopUpHandler(w http.ResponseWriter, r *http.Request)
	GetSessionHistoryHandler(w http.ResponseWriter, r *http.Request)
	GetCurrentSessionHandler(w http.ResponseWriter, r *http.Request)

	// Billing sessions
	StartSessionHandler(w http.ResponseWriter, r *http.Request)
	EndSessionHandler(w http.ResponseWriter, r *http.Request)
	CurrentCostHandler(w http.ResponseWriter, r *http.Request)
	QuoteCostHandler(w http.ResponseWriter, r *http.Request)

	// Health and monitoring
	HealthHandler(w http.ResponseWriter, r *http.Request)
	StatusHandler(w http.ResponseWriter, r *http.Request)
}

// Ensure KioskHandler implements KioskHandlerInterface at compile time
var _ KioskHandlerInterface = (*KioskHandler)(nil)
