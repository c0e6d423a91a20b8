package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"kiosk-agent/internal/billing"
	"kiosk-agent/internal/model"
	"kiosk-agent/internal/repository"
	"kiosk-agent/internal/settlement"
	apperrors "kiosk-agent/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var sessionStart = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

type sessionFixture struct {
	store      *MockStore
	notifier   *recordingNotifier
	journal    *fakeJournal
	service    *SessionService
	clock      time.Time
	computerID uuid.UUID
	customerID uuid.UUID
	balance    decimal.Decimal
	statuses   []model.ComputerStatus
	subtracted []decimal.Decimal
}

func newSessionFixture(t *testing.T, balance int64) *sessionFixture {
	t.Helper()

	f := &sessionFixture{
		store:      &MockStore{},
		notifier:   &recordingNotifier{},
		journal:    newFakeJournal(),
		clock:      sessionStart,
		computerID: uuid.New(),
		customerID: uuid.New(),
		balance:    decimal.NewFromInt(balance),
	}

	f.store.GetCustomerFunc = func(_ context.Context, id uuid.UUID) (*model.Customer, error) {
		return &model.Customer{ID: id, FullName: "Ana Lim", Email: "ana@example.com", Balance: f.balance}, nil
	}
	f.store.GetComputerByIDFunc = func(_ context.Context, id uuid.UUID) (*model.Computer, error) {
		return &model.Computer{ID: id, SlotNumber: "PC007", Status: model.ComputerAvailable}, nil
	}
	f.store.SetComputerStatusFunc = func(_ context.Context, _ uuid.UUID, status model.ComputerStatus, _ *uuid.UUID, _ time.Time) error {
		f.statuses = append(f.statuses, status)
		return nil
	}
	f.store.SubtractBalanceFunc = func(_ context.Context, _ uuid.UUID, amount decimal.Decimal) error {
		f.subtracted = append(f.subtracted, amount)
		f.balance = f.balance.Sub(amount)
		return nil
	}

	kiosk := &model.Computer{ID: f.computerID, SlotNumber: "PC007", Status: model.ComputerAvailable}
	f.service = NewSessionService(SessionServiceDeps{
		Sessions:  f.store,
		Customers: f.store,
		Computers: f.store,
		Rates:     staticRates(billing.DefaultRates()),
		Policy:    billing.TieredPolicy{},
		Journal:   f.journal,
		Notifier:  f.notifier,
		Kiosk:     func() *model.Computer { return kiosk },
		Logger:    zaptest.NewLogger(t),
	})
	f.service.now = func() time.Time { return f.clock }
	return f
}

func TestSessionService_StartSession(t *testing.T) {
	f := newSessionFixture(t, 100)

	var created model.Session
	f.store.CreateSessionFunc = func(_ context.Context, s model.Session) (*model.Session, error) {
		created = s
		return &s, nil
	}

	session, err := f.service.StartSession(context.Background(), f.computerID, f.customerID)
	require.NoError(t, err)

	assert.Equal(t, model.SessionActive, created.Status)
	assert.Equal(t, model.PaymentUnpaid, created.PaymentStatus)
	assert.True(t, created.HourlyRate.Equal(decimal.NewFromInt(60)))
	assert.True(t, created.TotalCost.Decimal.Equal(decimal.NewFromInt(30)))
	assert.Equal(t, sessionStart, created.StartTime)
	assert.Equal(t, []model.ComputerStatus{model.ComputerInUse}, f.statuses)
	assert.Equal(t, session.ID, f.service.Current().ID)
	assert.Contains(t, f.notifier.types(), NoticeSessionStarted)
}

func TestSessionService_StartSession_InsufficientBalance(t *testing.T) {
	f := newSessionFixture(t, 20)

	f.store.CreateSessionFunc = func(context.Context, model.Session) (*model.Session, error) {
		t.Fatal("session must not be created")
		return nil, nil
	}

	_, err := f.service.StartSession(context.Background(), f.computerID, f.customerID)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorCodeInsufficientBalance))
	assert.Empty(t, f.statuses)
	assert.Nil(t, f.service.Current())
	assert.Equal(t, []NoticeType{NoticeInsufficientBalance}, f.notifier.types())
}

func TestSessionService_StartSession_UsesMinimumBalanceSetting(t *testing.T) {
	f := newSessionFixture(t, 40)
	rates := billing.DefaultRates()
	rates.MinimumBalance = decimal.NewFromInt(50)
	f.service.rates = staticRates(rates)

	_, err := f.service.StartSession(context.Background(), f.computerID, f.customerID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorCodeInsufficientBalance))
}

func TestSessionService_StartSession_ComputerUnavailable(t *testing.T) {
	tests := []struct {
		name        string
		getComputer func(context.Context, uuid.UUID) (*model.Computer, error)
	}{
		{
			name: "computer in use",
			getComputer: func(_ context.Context, id uuid.UUID) (*model.Computer, error) {
				return &model.Computer{ID: id, SlotNumber: "PC003", Status: model.ComputerInUse}, nil
			},
		},
		{
			name: "computer in maintenance",
			getComputer: func(_ context.Context, id uuid.UUID) (*model.Computer, error) {
				return &model.Computer{ID: id, SlotNumber: "PC003", Status: model.ComputerMaintenance}, nil
			},
		},
		{
			name: "computer not registered",
			getComputer: func(context.Context, uuid.UUID) (*model.Computer, error) {
				return nil, repository.ErrComputerNotFound
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSessionFixture(t, 100)
			f.store.GetComputerByIDFunc = tt.getComputer

			_, err := f.service.StartSession(context.Background(), f.computerID, f.customerID)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrorCodeComputerUnavailable), "got %v", err)
			assert.Contains(t, f.notifier.types(), NoticeComputerUnavailable)
		})
	}
}

func TestSessionService_StartSession_OnlyOnThisKiosk(t *testing.T) {
	t.Run("other computer", func(t *testing.T) {
		f := newSessionFixture(t, 100)
		f.store.CreateSessionFunc = func(context.Context, model.Session) (*model.Session, error) {
			t.Fatal("session must not be created")
			return nil, nil
		}

		_, err := f.service.StartSession(context.Background(), uuid.New(), f.customerID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrorCodeComputerUnavailable), "got %v", err)
		assert.Empty(t, f.statuses)
		assert.Nil(t, f.service.Current())
	})

	t.Run("kiosk not registered", func(t *testing.T) {
		f := newSessionFixture(t, 100)
		f.service.kiosk = func() *model.Computer { return nil }

		_, err := f.service.StartSession(context.Background(), f.computerID, f.customerID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrorCodeComputerUnavailable), "got %v", err)
		assert.Empty(t, f.statuses)
	})
}

func TestSessionService_StartSession_AlreadyActive(t *testing.T) {
	f := newSessionFixture(t, 100)
	f.store.GetActiveSessionByCustomerFunc = func(_ context.Context, customerID uuid.UUID) (*model.Session, error) {
		return &model.Session{ID: uuid.New(), CustomerID: customerID, Status: model.SessionActive}, nil
	}

	_, err := f.service.StartSession(context.Background(), f.computerID, f.customerID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorCodeSessionAlreadyActive))
}

func TestSessionService_StartSession_CancelsWhenComputerUpdateFails(t *testing.T) {
	f := newSessionFixture(t, 100)

	var cancelled uuid.UUID
	f.store.SetComputerStatusFunc = func(context.Context, uuid.UUID, model.ComputerStatus, *uuid.UUID, time.Time) error {
		return errors.New("connection reset")
	}
	f.store.CancelSessionFunc = func(_ context.Context, id uuid.UUID, _ time.Time) error {
		cancelled = id
		return nil
	}

	_, err := f.service.StartSession(context.Background(), f.computerID, f.customerID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorCodeBackendRequest))
	assert.NotEqual(t, uuid.Nil, cancelled)
	assert.Nil(t, f.service.Current())
}

func TestSessionService_CostScenario(t *testing.T) {
	f := newSessionFixture(t, 100)
	_, err := f.service.StartSession(context.Background(), f.computerID, f.customerID)
	require.NoError(t, err)

	tests := []struct {
		elapsed time.Duration
		want    int64
	}{
		{20 * time.Minute, 30},
		{45 * time.Minute, 60},
		{61 * time.Minute, 90},
	}
	for _, tt := range tests {
		f.clock = sessionStart.Add(tt.elapsed)
		cost, _, err := f.service.CurrentCost(context.Background())
		require.NoError(t, err)
		assert.True(t, cost.Equal(decimal.NewFromInt(tt.want)), "at %s got %s", tt.elapsed, cost)
	}
}

func TestSessionService_EndSession(t *testing.T) {
	f := newSessionFixture(t, 100)
	started, err := f.service.StartSession(context.Background(), f.computerID, f.customerID)
	require.NoError(t, err)

	var completion model.Completion
	var paid uuid.UUID
	f.store.CompleteSessionFunc = func(_ context.Context, id uuid.UUID, c model.Completion) error {
		completion = c
		return nil
	}
	f.store.MarkSessionPaidFunc = func(_ context.Context, id uuid.UUID) error {
		paid = id
		return nil
	}

	f.clock = sessionStart.Add(44*time.Minute + 10*time.Second)
	ended, err := f.service.EndSession(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 45, completion.DurationMinutes)
	assert.True(t, completion.TotalCost.Equal(decimal.NewFromInt(60)))
	assert.Equal(t, model.SessionCompleted, ended.Status)
	assert.Equal(t, model.PaymentPaid, ended.PaymentStatus)
	assert.Equal(t, started.ID, paid)
	require.Len(t, f.subtracted, 1)
	assert.True(t, f.subtracted[0].Equal(decimal.NewFromInt(60)))
	assert.Equal(t, []model.ComputerStatus{model.ComputerInUse, model.ComputerAvailable}, f.statuses)
	assert.Equal(t, settlement.StatusDone, f.journal.entries[started.ID].Status)
	assert.Nil(t, f.service.Current())
}

func TestSessionService_EndSession_DeductionFailureStillCompletes(t *testing.T) {
	f := newSessionFixture(t, 100)
	started, err := f.service.StartSession(context.Background(), f.computerID, f.customerID)
	require.NoError(t, err)

	completed := false
	f.store.CompleteSessionFunc = func(context.Context, uuid.UUID, model.Completion) error {
		completed = true
		return nil
	}
	f.store.SubtractBalanceFunc = func(context.Context, uuid.UUID, decimal.Decimal) error {
		if !completed {
			t.Error("deduction attempted before the session was completed")
		}
		return errors.New("rpc timeout")
	}
	f.store.MarkSessionPaidFunc = func(context.Context, uuid.UUID) error {
		t.Error("session must not be marked paid")
		return nil
	}

	f.clock = sessionStart.Add(10 * time.Minute)
	ended, err := f.service.EndSession(context.Background())
	require.NoError(t, err)

	assert.True(t, completed)
	assert.Equal(t, model.SessionCompleted, ended.Status)
	assert.Equal(t, model.PaymentUnpaid, ended.PaymentStatus)
	assert.Equal(t, settlement.StatusFailed, f.journal.entries[started.ID].Status)
	assert.Contains(t, f.notifier.types(), NoticeSettlementFailed)
	assert.Equal(t, model.ComputerAvailable, f.statuses[len(f.statuses)-1])
	assert.Nil(t, f.service.Current())
}

func TestSessionService_EndSession_CapsDeductionAtBalance(t *testing.T) {
	f := newSessionFixture(t, 50)
	started, err := f.service.StartSession(context.Background(), f.computerID, f.customerID)
	require.NoError(t, err)

	f.store.MarkSessionPaidFunc = func(context.Context, uuid.UUID) error {
		t.Error("an undercovered session must stay unpaid")
		return nil
	}

	f.clock = sessionStart.Add(61 * time.Minute)
	ended, err := f.service.EndSession(context.Background())
	require.NoError(t, err)

	require.Len(t, f.subtracted, 1)
	assert.True(t, f.subtracted[0].Equal(decimal.NewFromInt(50)))
	entry := f.journal.entries[started.ID]
	assert.True(t, entry.Shortfall.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, model.PaymentUnpaid, ended.PaymentStatus)
}

func TestSessionService_EndSession_CompletionFailureKeepsSession(t *testing.T) {
	f := newSessionFixture(t, 100)
	_, err := f.service.StartSession(context.Background(), f.computerID, f.customerID)
	require.NoError(t, err)

	f.store.CompleteSessionFunc = func(context.Context, uuid.UUID, model.Completion) error {
		return errors.New("backend unavailable")
	}

	_, err = f.service.EndSession(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorCodeBackendRequest))
	assert.NotNil(t, f.service.Current())
	assert.Empty(t, f.subtracted)
}

func TestSessionService_EndSession_NoActiveSession(t *testing.T) {
	f := newSessionFixture(t, 100)

	_, err := f.service.EndSession(context.Background())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorCodeNoActiveSession))
}

func TestSessionService_CloseActiveSession(t *testing.T) {
	f := newSessionFixture(t, 100)
	require.NoError(t, f.service.CloseActiveSession(context.Background()))

	_, err := f.service.StartSession(context.Background(), f.computerID, f.customerID)
	require.NoError(t, err)
	f.clock = sessionStart.Add(5 * time.Minute)

	require.NoError(t, f.service.CloseActiveSession(context.Background()))
	assert.Nil(t, f.service.Current())
	require.Len(t, f.subtracted, 1)
}

func TestSessionService_FetchCurrentSession(t *testing.T) {
	f := newSessionFixture(t, 100)

	session, err := f.service.FetchCurrentSession(context.Background(), f.customerID)
	require.NoError(t, err)
	assert.Nil(t, session)

	active := &model.Session{ID: uuid.New(), CustomerID: f.customerID, ComputerID: f.computerID,
		StartTime: sessionStart, HourlyRate: decimal.NewFromInt(60), Status: model.SessionActive}
	f.store.GetActiveSessionByCustomerFunc = func(context.Context, uuid.UUID) (*model.Session, error) {
		return active, nil
	}

	session, err = f.service.FetchCurrentSession(context.Background(), f.customerID)
	require.NoError(t, err)
	assert.Equal(t, active.ID, session.ID)
	assert.Equal(t, active.ID, f.service.Current().ID)

	f.store.GetActiveSessionByCustomerFunc = func(context.Context, uuid.UUID) (*model.Session, error) {
		return nil, errors.New("boom")
	}
	_, err = f.service.FetchCurrentSession(context.Background(), f.customerID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorCodeBackendRequest))
}

func TestSessionService_FetchCurrentSession_OtherComputer(t *testing.T) {
	f := newSessionFixture(t, 100)
	otherComputer := uuid.New()

	foreign := &model.Session{ID: uuid.New(), CustomerID: f.customerID, ComputerID: otherComputer,
		StartTime: sessionStart, HourlyRate: decimal.NewFromInt(60), Status: model.SessionActive}
	f.store.GetActiveSessionByCustomerFunc = func(context.Context, uuid.UUID) (*model.Session, error) {
		return foreign, nil
	}

	var completed []uuid.UUID
	f.store.CompleteSessionFunc = func(_ context.Context, id uuid.UUID, _ model.Completion) error {
		completed = append(completed, id)
		return nil
	}

	session, err := f.service.FetchCurrentSession(context.Background(), f.customerID)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, foreign.ID, session.ID)
	assert.Nil(t, f.service.Current())

	f.clock = sessionStart.Add(time.Hour)
	require.NoError(t, f.service.CloseActiveSession(context.Background()))

	assert.Empty(t, completed)
	assert.Empty(t, f.subtracted)
	assert.Empty(t, f.statuses)
}

func TestSessionService_SessionHistory(t *testing.T) {
	f := newSessionFixture(t, 100)

	var gotLimit int
	f.store.ListSessionsByCustomerFunc = func(_ context.Context, _ uuid.UUID, limit int) ([]model.Session, error) {
		gotLimit = limit
		return []model.Session{{ID: uuid.New()}}, nil
	}

	sessions, err := f.service.SessionHistory(context.Background(), f.customerID)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
	assert.Equal(t, SessionHistoryLimit, gotLimit)
}

func TestSessionService_CalculateCurrentCostIsPure(t *testing.T) {
	f := newSessionFixture(t, 100)
	ctx := context.Background()

	for minutes := 0; minutes <= 240; minutes++ {
		first := f.service.CalculateCurrentCost(ctx, minutes)
		second := f.service.CalculateCurrentCost(ctx, minutes)
		assert.Equal(t, first.String(), second.String())
	}
}

func TestSessionService_RunCostMeterStops(t *testing.T) {
	f := newSessionFixture(t, 100)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.service.RunCostMeter(ctx, time.Millisecond)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cost meter did not stop")
	}
}
