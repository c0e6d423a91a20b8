package repository

import (
	"context"
	"encoding/json"
	"errors"
	"kiosk-agent/internal/backend"
	"kiosk-agent/internal/model"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSupabaseStore(t *testing.T, handler http.HandlerFunc) *SupabaseStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := backend.New(backend.Config{URL: server.URL, APIKey: "anon"})
	require.NoError(t, err)
	return NewSupabaseStore(client)
}

func TestSupabase_GetComputerByMachineID(t *testing.T) {
	id := uuid.New()
	store := setupSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/computers", r.URL.Path)
		assert.Equal(t, "eq.machine-1", r.URL.Query().Get("machine_id"))
		w.Write([]byte(`{"id":"` + id.String() + `","machine_id":"machine-1","computer_number":"PC004","name":"KIOSK-4",
			"ip_address":"10.0.0.4","mac_address":null,"status":"available","specifications":{"platform":"linux"},
			"current_session_id":null,"last_seen":"2024-05-01T10:00:00+00:00"}`))
	})

	computer, err := store.GetComputerByMachineID(context.Background(), "machine-1")

	require.NoError(t, err)
	assert.Equal(t, id, computer.ID)
	assert.Equal(t, "PC004", computer.SlotNumber)
	assert.Nil(t, computer.MACAddress)
	assert.Equal(t, "linux", computer.Specifications.Platform)
}

func TestSupabase_GetComputerByMachineID_NotFound(t *testing.T) {
	store := setupSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotAcceptable)
		w.Write([]byte(`{"code":"PGRST116","message":"JSON object requested, multiple (or no) rows returned"}`))
	})

	_, err := store.GetComputerByMachineID(context.Background(), "missing")

	assert.True(t, errors.Is(err, ErrComputerNotFound))
}

func TestSupabase_ListSlotNumbers(t *testing.T) {
	store := setupSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "computer_number", r.URL.Query().Get("select"))
		w.Write([]byte(`[{"computer_number":"PC001"},{"computer_number":"PC002"}]`))
	})

	slots, err := store.ListSlotNumbers(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"PC001", "PC002"}, slots)
}

func TestSupabase_CreateComputer_DuplicateSlot(t *testing.T) {
	store := setupSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"code":"23505","message":"duplicate key value violates unique constraint \"computers_computer_number_key\""}`))
	})

	_, err := store.CreateComputer(context.Background(), model.Computer{MachineID: "m", SlotNumber: "PC001"})

	assert.True(t, errors.Is(err, ErrDuplicateSlot))
}

func TestSupabase_CreateSession(t *testing.T) {
	store := setupSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/sessions", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "active", payload["status"])
		assert.Equal(t, "unpaid", payload["payment_status"])
		assert.Equal(t, "30", payload["total_cost"])

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[{"id":"` + uuid.NewString() + `","status":"active","payment_status":"unpaid","hourly_rate":60,"total_cost":30,
			"start_time":"2024-05-01T10:00:00Z"}]`))
	})

	created, err := store.CreateSession(context.Background(), model.Session{
		ComputerID:    uuid.New(),
		CustomerID:    uuid.New(),
		StartTime:     time.Now(),
		HourlyRate:    decimal.NewFromInt(60),
		TotalCost:     decimal.NewNullDecimal(decimal.NewFromInt(30)),
		Status:        model.SessionActive,
		PaymentStatus: model.PaymentUnpaid,
	})

	require.NoError(t, err)
	assert.Equal(t, model.SessionActive, created.Status)
	assert.True(t, decimal.NewFromInt(30).Equal(created.TotalCost.Decimal))
}

func TestSupabase_GetActiveSession_None(t *testing.T) {
	store := setupSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.active", r.URL.Query().Get("status"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		w.Write([]byte(`[]`))
	})

	_, err := store.GetActiveSessionByCustomer(context.Background(), uuid.New())

	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestSupabase_CompleteSession_NoMatchingRow(t *testing.T) {
	store := setupSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "eq.active", r.URL.Query().Get("status"))
		w.Write([]byte(`[]`))
	})

	err := store.CompleteSession(context.Background(), uuid.New(), model.Completion{EndTime: time.Now()})

	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestSupabase_SetComputerStatus(t *testing.T) {
	sessionID := uuid.New()
	store := setupSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "in-use", payload["status"])
		assert.Equal(t, sessionID.String(), payload["current_session_id"])
		w.Write([]byte(`[{"id":"x"}]`))
	})

	err := store.SetComputerStatus(context.Background(), uuid.New(), model.ComputerInUse, &sessionID, time.Now())

	assert.NoError(t, err)
}

func TestSupabase_SubtractBalance(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"success", http.StatusNoContent, ``, nil},
		{"insufficient", http.StatusBadRequest, `{"code":"P0001","message":"Insufficient balance"}`, ErrInsufficientFunds},
		{"missing customer", http.StatusBadRequest, `{"code":"P0002","message":"Customer not found"}`, ErrCustomerNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/rest/v1/rpc/subtract_customer_balance", r.URL.Path)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			err := store.SubtractBalance(context.Background(), uuid.New(), decimal.NewFromInt(30))

			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestSupabase_GetSettingAmount(t *testing.T) {
	store := setupSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.minimum_balance", r.URL.Query().Get("key"))
		w.Write([]byte(`{"value":{"amount":50}}`))
	})

	amount, err := store.GetSettingAmount(context.Background(), "minimum_balance")

	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(50).Equal(amount))
}

func TestSupabase_TransportErrorWrapped(t *testing.T) {
	store := setupSupabaseStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := store.GetCustomer(context.Background(), uuid.New())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get customer")
	assert.False(t, errors.Is(err, ErrCustomerNotFound))
}
