package service

import (
	"context"
	"kiosk-agent/internal/auth"
	"kiosk-agent/internal/billing"
	"kiosk-agent/internal/model"
	"kiosk-agent/internal/repository"
	"kiosk-agent/internal/settlement"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MockStore is a function-field implementation of every repository.
type MockStore struct {
	GetComputerByIDFunc            func(ctx context.Context, id uuid.UUID) (*model.Computer, error)
	GetComputerByMachineIDFunc     func(ctx context.Context, machineID string) (*model.Computer, error)
	ListSlotNumbersFunc            func(ctx context.Context) ([]string, error)
	CreateComputerFunc             func(ctx context.Context, computer model.Computer) (*model.Computer, error)
	UpdateRegistrationFunc         func(ctx context.Context, id uuid.UUID, computer model.Computer) error
	UpdateHeartbeatFunc            func(ctx context.Context, id uuid.UUID, hb model.Heartbeat) error
	UpdateSpecsFunc                func(ctx context.Context, id uuid.UUID, specs model.Specs, lastSeen time.Time) error
	SetComputerStatusFunc          func(ctx context.Context, id uuid.UUID, status model.ComputerStatus, sessionID *uuid.UUID, lastSeen time.Time) error
	CreateSessionFunc              func(ctx context.Context, session model.Session) (*model.Session, error)
	GetActiveSessionByCustomerFunc func(ctx context.Context, customerID uuid.UUID) (*model.Session, error)
	GetActiveSessionByComputerFunc func(ctx context.Context, computerID uuid.UUID) (*model.Session, error)
	CompleteSessionFunc            func(ctx context.Context, id uuid.UUID, completion model.Completion) error
	CancelSessionFunc              func(ctx context.Context, id uuid.UUID, endTime time.Time) error
	MarkSessionPaidFunc            func(ctx context.Context, id uuid.UUID) error
	ListSessionsByCustomerFunc     func(ctx context.Context, customerID uuid.UUID, limit int) ([]model.Session, error)
	GetCustomerFunc                func(ctx context.Context, id uuid.UUID) (*model.Customer, error)
	GetCustomerByEmailFunc         func(ctx context.Context, email string) (*model.Customer, error)
	AddBalanceFunc                 func(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
	SubtractBalanceFunc            func(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
	GetSettingAmountFunc           func(ctx context.Context, key string) (decimal.Decimal, error)
}

var _ repository.Store = (*MockStore)(nil)

func (m *MockStore) GetComputerByID(ctx context.Context, id uuid.UUID) (*model.Computer, error) {
	if m.GetComputerByIDFunc != nil {
		return m.GetComputerByIDFunc(ctx, id)
	}
	return nil, repository.ErrComputerNotFound
}

func (m *MockStore) GetComputerByMachineID(ctx context.Context, machineID string) (*model.Computer, error) {
	if m.GetComputerByMachineIDFunc != nil {
		return m.GetComputerByMachineIDFunc(ctx, machineID)
	}
	return nil, repository.ErrComputerNotFound
}

func (m *MockStore) ListSlotNumbers(ctx context.Context) ([]string, error) {
	if m.ListSlotNumbersFunc != nil {
		return m.ListSlotNumbersFunc(ctx)
	}
	return []string{}, nil
}

func (m *MockStore) CreateComputer(ctx context.Context, computer model.Computer) (*model.Computer, error) {
	if m.CreateComputerFunc != nil {
		return m.CreateComputerFunc(ctx, computer)
	}
	return &computer, nil
}

func (m *MockStore) UpdateRegistration(ctx context.Context, id uuid.UUID, computer model.Computer) error {
	if m.UpdateRegistrationFunc != nil {
		return m.UpdateRegistrationFunc(ctx, id, computer)
	}
	return nil
}

func (m *MockStore) UpdateHeartbeat(ctx context.Context, id uuid.UUID, hb model.Heartbeat) error {
	if m.UpdateHeartbeatFunc != nil {
		return m.UpdateHeartbeatFunc(ctx, id, hb)
	}
	return nil
}

func (m *MockStore) UpdateSpecs(ctx context.Context, id uuid.UUID, specs model.Specs, lastSeen time.Time) error {
	if m.UpdateSpecsFunc != nil {
		return m.UpdateSpecsFunc(ctx, id, specs, lastSeen)
	}
	return nil
}

func (m *MockStore) SetComputerStatus(ctx context.Context, id uuid.UUID, status model.ComputerStatus, sessionID *uuid.UUID, lastSeen time.Time) error {
	if m.SetComputerStatusFunc != nil {
		return m.SetComputerStatusFunc(ctx, id, status, sessionID, lastSeen)
	}
	return nil
}

func (m *MockStore) CreateSession(ctx context.Context, session model.Session) (*model.Session, error) {
	if m.CreateSessionFunc != nil {
		return m.CreateSessionFunc(ctx, session)
	}
	return &session, nil
}

func (m *MockStore) GetActiveSessionByCustomer(ctx context.Context, customerID uuid.UUID) (*model.Session, error) {
	if m.GetActiveSessionByCustomerFunc != nil {
		return m.GetActiveSessionByCustomerFunc(ctx, customerID)
	}
	return nil, repository.ErrSessionNotFound
}

func (m *MockStore) GetActiveSessionByComputer(ctx context.Context, computerID uuid.UUID) (*model.Session, error) {
	if m.GetActiveSessionByComputerFunc != nil {
		return m.GetActiveSessionByComputerFunc(ctx, computerID)
	}
	return nil, repository.ErrSessionNotFound
}

func (m *MockStore) CompleteSession(ctx context.Context, id uuid.UUID, completion model.Completion) error {
	if m.CompleteSessionFunc != nil {
		return m.CompleteSessionFunc(ctx, id, completion)
	}
	return nil
}

func (m *MockStore) CancelSession(ctx context.Context, id uuid.UUID, endTime time.Time) error {
	if m.CancelSessionFunc != nil {
		return m.CancelSessionFunc(ctx, id, endTime)
	}
	return nil
}

func (m *MockStore) MarkSessionPaid(ctx context.Context, id uuid.UUID) error {
	if m.MarkSessionPaidFunc != nil {
		return m.MarkSessionPaidFunc(ctx, id)
	}
	return nil
}

func (m *MockStore) ListSessionsByCustomer(ctx context.Context, customerID uuid.UUID, limit int) ([]model.Session, error) {
	if m.ListSessionsByCustomerFunc != nil {
		return m.ListSessionsByCustomerFunc(ctx, customerID, limit)
	}
	return []model.Session{}, nil
}

func (m *MockStore) GetCustomer(ctx context.Context, id uuid.UUID) (*model.Customer, error) {
	if m.GetCustomerFunc != nil {
		return m.GetCustomerFunc(ctx, id)
	}
	return nil, repository.ErrCustomerNotFound
}

func (m *MockStore) GetCustomerByEmail(ctx context.Context, email string) (*model.Customer, error) {
	if m.GetCustomerByEmailFunc != nil {
		return m.GetCustomerByEmailFunc(ctx, email)
	}
	return nil, repository.ErrCustomerNotFound
}

func (m *MockStore) AddBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	if m.AddBalanceFunc != nil {
		return m.AddBalanceFunc(ctx, id, amount)
	}
	return nil
}

func (m *MockStore) SubtractBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	if m.SubtractBalanceFunc != nil {
		return m.SubtractBalanceFunc(ctx, id, amount)
	}
	return nil
}

func (m *MockStore) GetSettingAmount(ctx context.Context, key string) (decimal.Decimal, error) {
	if m.GetSettingAmountFunc != nil {
		return m.GetSettingAmountFunc(ctx, key)
	}
	return decimal.Zero, repository.ErrSettingNotFound
}

// MockProber is a function-field host facade.
type MockProber struct {
	MachineIDFunc func(ctx context.Context) (string, error)
	HostnameFunc  func(ctx context.Context) (string, error)
	SpecsFunc     func(ctx context.Context) (model.Specs, error)
	IP            string
	MAC           *string
}

func (m *MockProber) MachineID(ctx context.Context) (string, error) {
	if m.MachineIDFunc != nil {
		return m.MachineIDFunc(ctx)
	}
	return "4c4c4544-0042-3510-8051-b4c04f4e4d32", nil
}

func (m *MockProber) Hostname(ctx context.Context) (string, error) {
	if m.HostnameFunc != nil {
		return m.HostnameFunc(ctx)
	}
	return "kiosk-07", nil
}

func (m *MockProber) LocalIPv4(context.Context) string {
	if m.IP == "" {
		return "192.168.1.57"
	}
	return m.IP
}

func (m *MockProber) MACAddress(context.Context) *string {
	return m.MAC
}

func (m *MockProber) Specs(ctx context.Context) (model.Specs, error) {
	if m.SpecsFunc != nil {
		return m.SpecsFunc(ctx)
	}
	return model.Specs{Platform: "linux", Arch: "amd64", TotalMemory: 16 << 30, FreeMemory: 8 << 30}, nil
}

// recordingNotifier keeps every notice it receives.
type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recordingNotifier) Notify(_ context.Context, notice Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice)
	return nil
}

func (r *recordingNotifier) types() []NoticeType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]NoticeType, 0, len(r.notices))
	for _, n := range r.notices {
		types = append(types, n.Type)
	}
	return types
}

// fakeJournal records settlement transitions in memory.
type fakeJournal struct {
	entries map[uuid.UUID]settlement.Entry
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{entries: make(map[uuid.UUID]settlement.Entry)}
}

func (f *fakeJournal) Record(_ context.Context, e settlement.Entry) error {
	e.Status = settlement.StatusPending
	f.entries[e.SessionID] = e
	return nil
}

func (f *fakeJournal) MarkDone(_ context.Context, sessionID uuid.UUID) error {
	e := f.entries[sessionID]
	e.Status = settlement.StatusDone
	f.entries[sessionID] = e
	return nil
}

func (f *fakeJournal) MarkFailed(_ context.Context, sessionID uuid.UUID, cause error) error {
	e := f.entries[sessionID]
	e.Status = settlement.StatusFailed
	e.LastError = cause.Error()
	f.entries[sessionID] = e
	return nil
}

// staticRates always returns the same rates.
type staticRates billing.Rates

func (r staticRates) Rates(context.Context) billing.Rates { return billing.Rates(r) }

// MockAuthenticator is a function-field authenticator.
type MockAuthenticator struct {
	SignInFunc  func(ctx context.Context, email, password string) (*auth.Session, error)
	SignOutFunc func(ctx context.Context, accessToken string) error
	RestoreFunc func(ctx context.Context, accessToken string) (*auth.Session, error)
}

func (m *MockAuthenticator) SignIn(ctx context.Context, email, password string) (*auth.Session, error) {
	if m.SignInFunc != nil {
		return m.SignInFunc(ctx, email, password)
	}
	return nil, auth.ErrInvalidCredentials
}

func (m *MockAuthenticator) SignOut(ctx context.Context, accessToken string) error {
	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx, accessToken)
	}
	return nil
}

func (m *MockAuthenticator) Restore(ctx context.Context, accessToken string) (*auth.Session, error) {
	if m.RestoreFunc != nil {
		return m.RestoreFunc(ctx, accessToken)
	}
	return nil, auth.ErrInvalidToken
}
