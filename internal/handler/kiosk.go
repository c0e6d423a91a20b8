package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"kiosk-agent/internal/controlchannel"
	"kiosk-agent/internal/model"
	"kiosk-agent/internal/service"
	apperrors "kiosk-agent/pkg/errors"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Constants for timeouts
const (
	DefaultTimeout = 10 * time.Second
	BackendTimeout = 15 * time.Second
)

// Error response structure for consistent JSON error responses
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Success response structure for consistent JSON success responses
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// SessionEngine owns the kiosk's billing session.
type SessionEngine interface {
	StartSession(ctx context.Context, computerID, customerID uuid.UUID) (*model.Session, error)
	EndSession(ctx context.Context) (*model.Session, error)
	FetchCurrentSession(ctx context.Context, customerID uuid.UUID) (*model.Session, error)
	SessionHistory(ctx context.Context, customerID uuid.UUID) ([]model.Session, error)
	CurrentCost(ctx context.Context) (decimal.Decimal, int, error)
	CalculateCurrentCost(ctx context.Context, elapsedMinutes int) decimal.Decimal
	Current() *model.Session
}

// CustomerAccounts signs customers in and manages balances.
type CustomerAccounts interface {
	SignIn(ctx context.Context, email, password string) (*service.CustomerLogin, error)
	SignOut(ctx context.Context, accessToken string) error
	Restore(ctx context.Context, accessToken string) (*service.CustomerLogin, error)
	Balance(ctx context.Context, customerID uuid.UUID) (decimal.Decimal, error)
	TopUp(ctx context.Context, customerID uuid.UUID, amount decimal.Decimal) (*model.Customer, error)
}

// ComputerProvider exposes this kiosk's registration.
type ComputerProvider interface {
	Computer() *model.Computer
}

// ChannelStatusProvider reports the dispatcher connection state.
type ChannelStatusProvider interface {
	Status() controlchannel.Status
}

// SignInRequest is the body of POST /auth/sign-in.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TopUpRequest is the body of POST /customers/{id}/balance.
type TopUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// StartSessionRequest is the body of POST /sessions. ComputerID defaults to
// the kiosk's own registration.
type StartSessionRequest struct {
	CustomerID uuid.UUID  `json:"customer_id"`
	ComputerID *uuid.UUID `json:"computer_id,omitempty"`
}

// KioskHandler serves the kiosk's local HTTP API.
type KioskHandler struct {
	Sessions  SessionEngine
	Customers CustomerAccounts
	Computer  ComputerProvider
	Channel   ChannelStatusProvider
	Logger    *zap.Logger

	ErrorHandler   *ErrorHandler
	ResponseHelper *ResponseHelper
}

// NewKioskHandler creates a new KioskHandler with dependencies and helpers.
// channel may be nil when the control channel is disabled.
func NewKioskHandler(sessions SessionEngine, customers CustomerAccounts, computer ComputerProvider, channel ChannelStatusProvider, logger *zap.Logger) *KioskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &KioskHandler{
		Sessions:       sessions,
		Customers:      customers,
		Computer:       computer,
		Channel:        channel,
		Logger:         logger,
		ErrorHandler:   NewErrorHandler(logger),
		ResponseHelper: NewResponseHelper(),
	}
}

// SignInHandler authenticates a customer with email and password.
func (h *KioskHandler) SignInHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ResponseHelper.CreateRequestContext(w, r, BackendTimeout)
	defer cancel()

	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.ErrorHandler.HandleJSONDecodeError(w, err)
		return
	}

	login, err := h.Customers.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		h.ErrorHandler.HandleServiceError(w, err, "sign in")
		return
	}

	h.ErrorHandler.SendJSONResponse(w, http.StatusOK, login)
}

// SignOutHandler invalidates the caller's access token.
func (h *KioskHandler) SignOutHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ResponseHelper.CreateRequestContext(w, r, BackendTimeout)
	defer cancel()

	if err := h.Customers.SignOut(ctx, h.ResponseHelper.BearerToken(r)); err != nil {
		h.ErrorHandler.HandleServiceError(w, err, "sign out")
		return
	}

	h.ErrorHandler.SendSuccessResponse(w, http.StatusOK, "Signed out", nil)
}

// RestoreSessionHandler resumes a login from the caller's access token.
func (h *KioskHandler) RestoreSessionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ResponseHelper.CreateRequestContext(w, r, BackendTimeout)
	defer cancel()

	login, err := h.Customers.Restore(ctx, h.ResponseHelper.BearerToken(r))
	if err != nil {
		h.ErrorHandler.HandleServiceError(w, err, "restore session")
		return
	}

	h.ErrorHandler.SendJSONResponse(w, http.StatusOK, login)
}

// GetBalanceHandler returns a customer's balance.
func (h *KioskHandler) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ResponseHelper.CreateRequestContext(w, r, DefaultTimeout)
	defer cancel()

	customerID, valid := h.ErrorHandler.ParseAndValidateUUID(w, mux.Vars(r)["id"])
	if !valid {
		return
	}

	balance, err := h.Customers.Balance(ctx, customerID)
	if err != nil {
		h.ErrorHandler.HandleServiceError(w, err, "load balance")
		return
	}

	h.ErrorHandler.SendJSONResponse(w, http.StatusOK, map[string]interface{}{
		"customer_id": customerID,
		"balance":     balance,
	})
}

// TopUpHandler adds credit to a customer's balance.
func (h *KioskHandler) TopUpHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ResponseHelper.CreateRequestContext(w, r, BackendTimeout)
	defer cancel()

	customerID, valid := h.ErrorHandler.ParseAndValidateUUID(w, mux.Vars(r)["id"])
	if !valid {
		return
	}

	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.ErrorHandler.HandleJSONDecodeError(w, err)
		return
	}

	customer, err := h.Customers.TopUp(ctx, customerID, req.Amount)
	if err != nil {
		h.ErrorHandler.HandleServiceError(w, err, "top up balance")
		return
	}

	h.ErrorHandler.SendSuccessResponse(w, http.StatusOK, "Balance updated", customer)
}

// GetSessionHistoryHandler lists a customer's recent sessions.
func (h *KioskHandler) GetSessionHistoryHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ResponseHelper.CreateRequestContext(w, r, DefaultTimeout)
	defer cancel()

	customerID, valid := h.ErrorHandler.ParseAndValidateUUID(w, mux.Vars(r)["id"])
	if !valid {
		return
	}

	sessions, err := h.Sessions.SessionHistory(ctx, customerID)
	if err != nil {
		h.ErrorHandler.HandleServiceError(w, err, "list sessions")
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}

	h.ErrorHandler.SendJSONResponse(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetCurrentSessionHandler returns the customer's active session, adopting it
// as this kiosk's current session.
func (h *KioskHandler) GetCurrentSessionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ResponseHelper.CreateRequestContext(w, r, DefaultTimeout)
	defer cancel()

	customerID, valid := h.ErrorHandler.ParseAndValidateUUID(w, mux.Vars(r)["id"])
	if !valid {
		return
	}

	session, err := h.Sessions.FetchCurrentSession(ctx, customerID)
	if err != nil {
		h.ErrorHandler.HandleServiceError(w, err, "load active session")
		return
	}
	if session == nil {
		h.ErrorHandler.SendErrorResponse(w, http.StatusNotFound, "No active session", string(apperrors.ErrorCodeNoActiveSession), nil)
		return
	}

	h.ErrorHandler.SendJSONResponse(w, http.StatusOK, session)
}

// StartSessionHandler opens a billing session for a customer.
func (h *KioskHandler) StartSessionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ResponseHelper.CreateRequestContext(w, r, BackendTimeout)
	defer cancel()

	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.ErrorHandler.HandleJSONDecodeError(w, err)
		return
	}
	if req.CustomerID == uuid.Nil {
		h.ErrorHandler.HandleValidationErrors(w, map[string]string{"customer_id": "customer_id is required"})
		return
	}

	computerID, err := h.resolveComputer(req.ComputerID)
	if err != nil {
		h.ErrorHandler.HandleServiceError(w, err, "start session")
		return
	}

	session, err := h.Sessions.StartSession(ctx, computerID, req.CustomerID)
	if err != nil {
		h.ErrorHandler.HandleServiceError(w, err, "start session")
		return
	}

	h.ErrorHandler.SendSuccessResponse(w, http.StatusCreated, "Session started", session)
}

// resolveComputer returns this kiosk's computer id. A request naming any
// other computer is rejected.
func (h *KioskHandler) resolveComputer(requested *uuid.UUID) (uuid.UUID, error) {
	var computer *model.Computer
	if h.Computer != nil {
		computer = h.Computer.Computer()
	}
	if computer == nil {
		return uuid.Nil, apperrors.ComputerUnavailableError("kiosk is not registered")
	}
	if requested != nil && *requested != uuid.Nil && *requested != computer.ID {
		return uuid.Nil, apperrors.ComputerUnavailableError("sessions can only be started on this kiosk").
			WithDetail("computer_id", requested.String())
	}
	return computer.ID, nil
}

// EndSessionHandler completes the active session and settles its cost.
func (h *KioskHandler) EndSessionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ResponseHelper.CreateRequestContext(w, r, BackendTimeout)
	defer cancel()

	session, err := h.Sessions.EndSession(ctx)
	if err != nil {
		h.ErrorHandler.HandleServiceError(w, err, "end session")
		return
	}

	h.ErrorHandler.SendSuccessResponse(w, http.StatusOK, "Session ended", session)
}

// CurrentCostHandler prices the active session at this instant.
func (h *KioskHandler) CurrentCostHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ResponseHelper.CreateRequestContext(w, r, DefaultTimeout)
	defer cancel()

	cost, elapsed, err := h.Sessions.CurrentCost(ctx)
	if err != nil {
		h.ErrorHandler.HandleServiceError(w, err, "calculate cost")
		return
	}

	data := map[string]interface{}{
		"elapsed_minutes": elapsed,
		"cost":            cost,
	}
	if current := h.Sessions.Current(); current != nil {
		data["session_id"] = current.ID
	}
	h.ErrorHandler.SendJSONResponse(w, http.StatusOK, data)
}

// QuoteCostHandler prices an arbitrary duration with the current rates.
func (h *KioskHandler) QuoteCostHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ResponseHelper.CreateRequestContext(w, r, DefaultTimeout)
	defer cancel()

	minutes, ok := h.ResponseHelper.ParseMinutes(r, "minutes")
	if !ok {
		h.ErrorHandler.SendErrorResponse(w, http.StatusBadRequest,
			"minutes must be a non-negative integer", string(apperrors.ErrorCodeInvalidParameter), nil)
		return
	}

	h.ErrorHandler.SendJSONResponse(w, http.StatusOK, map[string]interface{}{
		"minutes": minutes,
		"cost":    h.Sessions.CalculateCurrentCost(ctx, minutes),
	})
}

// HealthHandler handles health check requests.
func (h *KioskHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.ErrorHandler.SendJSONResponse(w, http.StatusOK, h.ResponseHelper.CreateHealthCheckData())
}

// StatusHandler reports registration, dispatcher connection and session state.
func (h *KioskHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"computer": nil,
		"session":  h.Sessions.Current(),
	}
	if h.Computer != nil {
		if computer := h.Computer.Computer(); computer != nil {
			data["computer"] = computer
		}
	}
	if h.Channel != nil {
		data["control_channel"] = h.Channel.Status()
	}

	h.ErrorHandler.SendJSONResponse(w, http.StatusOK, data)
}
