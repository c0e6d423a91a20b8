package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"kiosk-agent/internal/backend"
	"kiosk-agent/internal/model"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SupabaseStore implements Store over the hosted backend's REST interface.
type SupabaseStore struct {
	client *backend.Client
}

var _ Store = (*SupabaseStore)(nil)

// NewSupabaseStore creates a store backed by the given REST client.
func NewSupabaseStore(client *backend.Client) *SupabaseStore {
	return &SupabaseStore{client: client}
}

// fetchOne runs a single-row query and decodes it into dest, mapping the
// backend's no-row signal to notFound.
func fetchOne(ctx context.Context, q *backend.QueryBuilder, dest any, notFound error) error {
	resp, err := q.Single().Execute(ctx)
	if err != nil {
		if backend.IsNotFound(err) {
			return notFound
		}
		return err
	}
	return resp.JSON(dest)
}

// patch updates the filtered rows and returns notFound when nothing matched.
func patch(ctx context.Context, q *backend.QueryBuilder, data any, notFound error) error {
	resp, err := q.ExecuteUpdate(ctx, data)
	if err != nil {
		return err
	}
	var rows []map[string]any
	if err := resp.JSON(&rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return notFound
	}
	return nil
}

// insertOne inserts a single row and decodes the returned representation.
func insertOne(ctx context.Context, q *backend.QueryBuilder, data any, dest any) error {
	resp, err := q.ExecuteInsert(ctx, data)
	if err != nil {
		return err
	}
	var rows []json.RawMessage
	if err := resp.JSON(&rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("insert returned no rows")
	}
	return json.Unmarshal(rows[0], dest)
}

// GetComputerByID retrieves a single computer by its ID.
func (s *SupabaseStore) GetComputerByID(ctx context.Context, id uuid.UUID) (*model.Computer, error) {
	var c model.Computer
	q := s.client.From("computers").Select("*").Eq("id", id)
	if err := fetchOne(ctx, q, &c, ErrComputerNotFound); err != nil {
		return nil, wrapBackend("get computer by ID", err)
	}
	return &c, nil
}

// GetComputerByMachineID retrieves the computer registered for a machine identifier.
func (s *SupabaseStore) GetComputerByMachineID(ctx context.Context, machineID string) (*model.Computer, error) {
	var c model.Computer
	q := s.client.From("computers").Select("*").Eq("machine_id", machineID)
	if err := fetchOne(ctx, q, &c, ErrComputerNotFound); err != nil {
		return nil, wrapBackend("get computer by machine id", err)
	}
	return &c, nil
}

// ListSlotNumbers returns every allocated slot label.
func (s *SupabaseStore) ListSlotNumbers(ctx context.Context) ([]string, error) {
	resp, err := s.client.From("computers").Select("computer_number").Execute(ctx)
	if err != nil {
		return nil, wrapBackend("list slot numbers", err)
	}

	var rows []struct {
		SlotNumber string `json:"computer_number"`
	}
	if err := resp.JSON(&rows); err != nil {
		return nil, err
	}

	slots := make([]string, 0, len(rows))
	for _, r := range rows {
		slots = append(slots, r.SlotNumber)
	}
	return slots, nil
}

// CreateComputer inserts a new registration row.
func (s *SupabaseStore) CreateComputer(ctx context.Context, computer model.Computer) (*model.Computer, error) {
	payload := map[string]any{
		"machine_id":      computer.MachineID,
		"computer_number": computer.SlotNumber,
		"name":            computer.Name,
		"ip_address":      computer.IPAddress,
		"mac_address":     computer.MACAddress,
		"status":          computer.Status,
		"specifications":  computer.Specifications,
		"last_seen":       computer.LastSeen,
	}
	if computer.ID != uuid.Nil {
		payload["id"] = computer.ID
	}

	var created model.Computer
	if err := insertOne(ctx, s.client.From("computers"), payload, &created); err != nil {
		var be *backend.Error
		if errors.As(err, &be) && be.Code == backend.CodeUniqueViolation {
			if strings.Contains(be.Message, "computer_number") {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateSlot, computer.SlotNumber)
			}
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMachineID, computer.MachineID)
		}
		return nil, wrapBackend("create computer", err)
	}
	return &created, nil
}

// UpdateRegistration refreshes identity, network and specs on re-registration.
func (s *SupabaseStore) UpdateRegistration(ctx context.Context, id uuid.UUID, computer model.Computer) error {
	data := map[string]any{
		"name":               computer.Name,
		"ip_address":         computer.IPAddress,
		"mac_address":        computer.MACAddress,
		"specifications":     computer.Specifications,
		"last_seen":          computer.LastSeen,
		"status":             model.ComputerAvailable,
		"current_session_id": nil,
	}
	return wrapBackend("update computer registration",
		patch(ctx, s.client.From("computers").Eq("id", id), data, ErrComputerNotFound))
}

// UpdateHeartbeat writes a liveness tick.
func (s *SupabaseStore) UpdateHeartbeat(ctx context.Context, id uuid.UUID, hb model.Heartbeat) error {
	data := map[string]any{
		"ip_address":     hb.IPAddress,
		"mac_address":    hb.MACAddress,
		"specifications": hb.Specifications,
		"last_seen":      hb.LastSeen,
	}
	return wrapBackend("update heartbeat",
		patch(ctx, s.client.From("computers").Eq("id", id), data, ErrComputerNotFound))
}

// UpdateSpecs stores a fresh specs snapshot.
func (s *SupabaseStore) UpdateSpecs(ctx context.Context, id uuid.UUID, specs model.Specs, lastSeen time.Time) error {
	data := map[string]any{
		"specifications": specs,
		"last_seen":      lastSeen,
	}
	return wrapBackend("update specifications",
		patch(ctx, s.client.From("computers").Eq("id", id), data, ErrComputerNotFound))
}

// SetComputerStatus flips the scheduling status and the current session pointer.
func (s *SupabaseStore) SetComputerStatus(ctx context.Context, id uuid.UUID, status model.ComputerStatus, sessionID *uuid.UUID, lastSeen time.Time) error {
	data := map[string]any{
		"status":             status,
		"current_session_id": sessionID,
		"last_seen":          lastSeen,
	}
	return wrapBackend("set computer status",
		patch(ctx, s.client.From("computers").Eq("id", id), data, ErrComputerNotFound))
}

// CreateSession inserts an active, unpaid session.
func (s *SupabaseStore) CreateSession(ctx context.Context, session model.Session) (*model.Session, error) {
	payload := map[string]any{
		"computer_id":    session.ComputerID,
		"customer_id":    session.CustomerID,
		"start_time":     session.StartTime,
		"hourly_rate":    session.HourlyRate,
		"total_cost":     session.TotalCost,
		"status":         session.Status,
		"payment_status": session.PaymentStatus,
	}
	if session.ID != uuid.Nil {
		payload["id"] = session.ID
	}

	var created model.Session
	if err := insertOne(ctx, s.client.From("sessions"), payload, &created); err != nil {
		if backend.IsUniqueViolation(err) {
			return nil, ErrActiveSession
		}
		return nil, wrapBackend("create session", err)
	}
	return &created, nil
}

// GetActiveSessionByCustomer returns the customer's active session.
func (s *SupabaseStore) GetActiveSessionByCustomer(ctx context.Context, customerID uuid.UUID) (*model.Session, error) {
	return s.getActiveSession(ctx, "customer_id", customerID)
}

// GetActiveSessionByComputer returns the active session running on a computer.
func (s *SupabaseStore) GetActiveSessionByComputer(ctx context.Context, computerID uuid.UUID) (*model.Session, error) {
	return s.getActiveSession(ctx, "computer_id", computerID)
}

func (s *SupabaseStore) getActiveSession(ctx context.Context, column string, id uuid.UUID) (*model.Session, error) {
	resp, err := s.client.From("sessions").Select("*").
		Eq(column, id).
		Eq("status", model.SessionActive).
		Order("start_time", false).
		Limit(1).
		Execute(ctx)
	if err != nil {
		return nil, wrapBackend("get active session", err)
	}

	var rows []model.Session
	if err := resp.JSON(&rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrSessionNotFound
	}
	return &rows[0], nil
}

// CompleteSession closes an active session with its final duration and cost.
func (s *SupabaseStore) CompleteSession(ctx context.Context, id uuid.UUID, completion model.Completion) error {
	data := map[string]any{
		"end_time":   completion.EndTime,
		"duration":   completion.DurationMinutes,
		"total_cost": completion.TotalCost,
		"status":     model.SessionCompleted,
	}
	q := s.client.From("sessions").Eq("id", id).Eq("status", model.SessionActive)
	return wrapBackend("complete session", patch(ctx, q, data, ErrSessionNotFound))
}

// CancelSession closes an active session without charging it.
func (s *SupabaseStore) CancelSession(ctx context.Context, id uuid.UUID, endTime time.Time) error {
	data := map[string]any{
		"end_time":   endTime,
		"duration":   0,
		"total_cost": decimal.Zero,
		"status":     model.SessionCancelled,
	}
	q := s.client.From("sessions").Eq("id", id).Eq("status", model.SessionActive)
	return wrapBackend("cancel session", patch(ctx, q, data, ErrSessionNotFound))
}

// MarkSessionPaid records that the session cost has been deducted.
func (s *SupabaseStore) MarkSessionPaid(ctx context.Context, id uuid.UUID) error {
	data := map[string]any{"payment_status": model.PaymentPaid}
	return wrapBackend("mark session paid",
		patch(ctx, s.client.From("sessions").Eq("id", id), data, ErrSessionNotFound))
}

// ListSessionsByCustomer returns a customer's sessions, newest first.
func (s *SupabaseStore) ListSessionsByCustomer(ctx context.Context, customerID uuid.UUID, limit int) ([]model.Session, error) {
	resp, err := s.client.From("sessions").Select("*").
		Eq("customer_id", customerID).
		Order("start_time", false).
		Limit(limit).
		Execute(ctx)
	if err != nil {
		return nil, wrapBackend("list sessions", err)
	}

	sessions := []model.Session{}
	if err := resp.JSON(&sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetCustomer retrieves a customer by ID.
func (s *SupabaseStore) GetCustomer(ctx context.Context, id uuid.UUID) (*model.Customer, error) {
	var c model.Customer
	q := s.client.From("customers").Select(customerColumns).Eq("id", id)
	if err := fetchOne(ctx, q, &c, ErrCustomerNotFound); err != nil {
		return nil, wrapBackend("get customer", err)
	}
	return &c, nil
}

// GetCustomerByEmail retrieves a customer by login e-mail.
func (s *SupabaseStore) GetCustomerByEmail(ctx context.Context, email string) (*model.Customer, error) {
	var c model.Customer
	q := s.client.From("customers").Select(customerColumns).Eq("email", email)
	if err := fetchOne(ctx, q, &c, ErrCustomerNotFound); err != nil {
		return nil, wrapBackend("get customer by email", err)
	}
	return &c, nil
}

// AddBalance credits a customer through the add_customer_balance procedure.
func (s *SupabaseStore) AddBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	return s.callBalanceProc(ctx, ProcAddBalance, id, amount)
}

// SubtractBalance debits a customer through the subtract_customer_balance procedure.
func (s *SupabaseStore) SubtractBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	return s.callBalanceProc(ctx, ProcSubtractBalance, id, amount)
}

func (s *SupabaseStore) callBalanceProc(ctx context.Context, proc string, id uuid.UUID, amount decimal.Decimal) error {
	_, err := s.client.RPC(ctx, proc, map[string]any{
		"p_customer_id": id,
		"p_amount":      amount,
	})
	switch {
	case err == nil:
		return nil
	case backend.IsRaisedException(err):
		return ErrInsufficientFunds
	case backend.HasCode(err, backend.CodeNoDataFound):
		return ErrCustomerNotFound
	}
	return fmt.Errorf("failed to call %s: %w", proc, err)
}

// GetSettingAmount reads value->>'amount' of a system setting.
func (s *SupabaseStore) GetSettingAmount(ctx context.Context, key string) (decimal.Decimal, error) {
	var row struct {
		Value struct {
			Amount decimal.NullDecimal `json:"amount"`
		} `json:"value"`
	}
	q := s.client.From("system_settings").Select("value").Eq("key", key)
	if err := fetchOne(ctx, q, &row, ErrSettingNotFound); err != nil {
		return decimal.Zero, wrapBackend("get setting "+key, err)
	}
	if !row.Value.Amount.Valid {
		return decimal.Zero, ErrSettingNotFound
	}
	return row.Value.Amount.Decimal, nil
}

// wrapBackend leaves repository sentinels untouched and annotates transport
// and backend failures with the operation name.
func wrapBackend(operation string, err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		ErrComputerNotFound, ErrSessionNotFound, ErrCustomerNotFound, ErrSettingNotFound,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}
