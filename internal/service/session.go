package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kiosk-agent/internal/billing"
	"kiosk-agent/internal/metrics"
	"kiosk-agent/internal/model"
	"kiosk-agent/internal/repository"
	"kiosk-agent/internal/settlement"
	apperrors "kiosk-agent/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SessionHistoryLimit caps the sessions returned by SessionHistory.
const SessionHistoryLimit = 50

// SettlementJournal records balance deductions before they are attempted.
type SettlementJournal interface {
	Record(ctx context.Context, e settlement.Entry) error
	MarkDone(ctx context.Context, sessionID uuid.UUID) error
	MarkFailed(ctx context.Context, sessionID uuid.UUID, cause error) error
}

// SessionService is the session billing engine. It holds the one session
// active on this kiosk and settles it against the customer's balance.
type SessionService struct {
	sessions  repository.SessionRepository
	customers repository.CustomerRepository
	computers repository.ComputerRepository
	rates     RatesProvider
	policy    billing.Policy
	journal   SettlementJournal
	notifier  Notifier
	kiosk     func() *model.Computer
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	current *model.Session
}

// SessionServiceDeps groups the collaborators of a SessionService. Kiosk
// returns the computer this process registered, or nil before registration.
type SessionServiceDeps struct {
	Sessions  repository.SessionRepository
	Customers repository.CustomerRepository
	Computers repository.ComputerRepository
	Rates     RatesProvider
	Policy    billing.Policy
	Journal   SettlementJournal
	Notifier  Notifier
	Kiosk     func() *model.Computer
	Logger    *zap.Logger
}

// NewSessionService creates the session billing engine.
func NewSessionService(deps SessionServiceDeps) *SessionService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Policy == nil {
		deps.Policy = billing.TieredPolicy{}
	}
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	return &SessionService{
		sessions:  deps.Sessions,
		customers: deps.Customers,
		computers: deps.Computers,
		rates:     deps.Rates,
		policy:    deps.Policy,
		journal:   deps.Journal,
		notifier:  deps.Notifier,
		kiosk:     deps.Kiosk,
		logger:    deps.Logger,
		now:       time.Now,
	}
}

// StartSession opens a session for the customer on the given computer.
func (s *SessionService) StartSession(ctx context.Context, computerID, customerID uuid.UUID) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return nil, apperrors.SessionAlreadyActiveError("this kiosk")
	}

	kioskID, registered := s.kioskID()
	if !registered {
		return nil, s.computerUnavailable(ctx, "kiosk is not registered")
	}
	if computerID != kioskID {
		return nil, s.computerUnavailable(ctx, "sessions can only be started on this kiosk")
	}

	if err := s.ensureNoActiveSession(ctx, computerID, customerID); err != nil {
		return nil, err
	}

	rates := s.rates.Rates(ctx)

	customer, err := s.customers.GetCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, repository.ErrCustomerNotFound) {
			return nil, apperrors.NotFoundError("customer")
		}
		return nil, apperrors.BackendRequestError("load customer", err)
	}

	required := rates.RequiredBalance()
	if customer.Balance.LessThan(required) {
		notify(ctx, s.notifier, s.logger, Notice{
			Type:    NoticeInsufficientBalance,
			Title:   "Insufficient balance",
			Message: fmt.Sprintf("A balance of at least %s is required to start a session. Please top up.", required.StringFixed(2)),
			Metadata: map[string]string{
				"customer_id": customerID.String(),
				"balance":     customer.Balance.StringFixed(2),
			},
		})
		return nil, apperrors.InsufficientBalanceError(customer.Balance, required)
	}

	computer, err := s.computers.GetComputerByID(ctx, computerID)
	if err != nil {
		if errors.Is(err, repository.ErrComputerNotFound) {
			return nil, s.computerUnavailable(ctx, "computer is not registered")
		}
		return nil, apperrors.BackendRequestError("load computer", err)
	}
	if computer.Status != model.ComputerAvailable {
		return nil, s.computerUnavailable(ctx, fmt.Sprintf("computer %s is %s", computer.SlotNumber, computer.Status))
	}

	now := s.now().UTC()
	session, err := s.sessions.CreateSession(ctx, model.Session{
		ID:            uuid.New(),
		ComputerID:    computerID,
		CustomerID:    customerID,
		StartTime:     now,
		HourlyRate:    rates.HourlyRate,
		TotalCost:     decimal.NewNullDecimal(rates.MinimumFee),
		Status:        model.SessionActive,
		PaymentStatus: model.PaymentUnpaid,
	})
	if err != nil {
		if errors.Is(err, repository.ErrActiveSession) {
			return nil, apperrors.SessionAlreadyActiveError("customer or computer")
		}
		return nil, apperrors.BackendRequestError("create session", err)
	}

	if err := s.computers.SetComputerStatus(ctx, computerID, model.ComputerInUse, &session.ID, now); err != nil {
		s.logger.Error("failed to mark computer in use, cancelling session",
			zap.Stringer("session_id", session.ID), zap.Error(err))
		if cancelErr := s.sessions.CancelSession(ctx, session.ID, now); cancelErr != nil {
			s.logger.Error("failed to cancel session", zap.Stringer("session_id", session.ID), zap.Error(cancelErr))
		}
		metrics.ObserveSession("cancelled")
		return nil, apperrors.BackendRequestError("update computer status", err)
	}

	s.current = session
	metrics.ObserveSession("started")
	metrics.SetCurrentCost(rates.MinimumFee.InexactFloat64())

	s.logger.Info("session started",
		zap.Stringer("session_id", session.ID),
		zap.Stringer("customer_id", customerID),
		zap.Stringer("computer_id", computerID),
		zap.Stringer("hourly_rate", rates.HourlyRate))

	notify(ctx, s.notifier, s.logger, Notice{
		Type:    NoticeSessionStarted,
		Title:   "Session started",
		Message: fmt.Sprintf("Billing at %s per hour.", rates.HourlyRate.StringFixed(2)),
	})

	return session, nil
}

// CalculateCurrentCost prices an elapsed duration with the current rates.
func (s *SessionService) CalculateCurrentCost(ctx context.Context, elapsedMinutes int) decimal.Decimal {
	return s.policy.Cost(s.rates.Rates(ctx), elapsedMinutes)
}

// CurrentCost prices the active session at this instant.
func (s *SessionService) CurrentCost(ctx context.Context) (decimal.Decimal, int, error) {
	s.mu.Lock()
	session := s.current
	s.mu.Unlock()

	if session == nil {
		return decimal.Zero, 0, apperrors.NoActiveSessionError()
	}

	elapsed := billing.ElapsedMinutes(session.StartTime, s.now())
	return s.sessionCost(ctx, session, elapsed), elapsed, nil
}

// EndSession completes the active session and settles its cost. A failed
// deduction does not reopen the session: it is journaled and the completed
// session is returned without error.
func (s *SessionService) EndSession(ctx context.Context) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil, apperrors.NoActiveSessionError()
	}
	session := *s.current

	now := s.now().UTC()
	duration := billing.ElapsedMinutes(session.StartTime, now)
	cost := s.sessionCost(ctx, &session, duration)

	if err := s.sessions.CompleteSession(ctx, session.ID, model.Completion{
		EndTime:         now,
		DurationMinutes: duration,
		TotalCost:       cost,
	}); err != nil {
		return nil, apperrors.BackendRequestError("complete session", err)
	}

	s.current = nil
	session.EndTime = &now
	session.DurationMinutes = &duration
	session.TotalCost = decimal.NewNullDecimal(cost)
	session.Status = model.SessionCompleted
	metrics.ObserveSession("ended")
	metrics.SetCurrentCost(0)

	s.logger.Info("session completed",
		zap.Stringer("session_id", session.ID),
		zap.Int("duration_minutes", duration),
		zap.Stringer("total_cost", cost))

	if s.settle(ctx, &session, cost) {
		session.PaymentStatus = model.PaymentPaid
	}

	if err := s.computers.SetComputerStatus(ctx, session.ComputerID, model.ComputerAvailable, nil, now); err != nil {
		s.logger.Error("failed to release computer",
			zap.Stringer("computer_id", session.ComputerID), zap.Error(err))
	}

	notify(ctx, s.notifier, s.logger, Notice{
		Type:    NoticeSessionEnded,
		Title:   "Session ended",
		Message: fmt.Sprintf("%d minutes, total %s.", duration, cost.StringFixed(2)),
		Metadata: map[string]string{
			"session_id": session.ID.String(),
		},
	})

	return &session, nil
}

// settle deducts the session cost, capped at the customer's balance, and
// reports whether the deduction succeeded.
func (s *SessionService) settle(ctx context.Context, session *model.Session, cost decimal.Decimal) bool {
	amount := cost
	shortfall := decimal.Zero

	customer, err := s.customers.GetCustomer(ctx, session.CustomerID)
	if err != nil {
		s.logger.Warn("failed to read balance before settlement, charging full cost",
			zap.Stringer("customer_id", session.CustomerID), zap.Error(err))
	} else if customer.Balance.LessThan(cost) {
		amount = decimal.Max(customer.Balance, decimal.Zero)
		shortfall = cost.Sub(amount)
		s.logger.Warn("balance does not cover session cost",
			zap.Stringer("session_id", session.ID),
			zap.Stringer("cost", cost),
			zap.Stringer("shortfall", shortfall))
	}

	if s.journal != nil {
		if err := s.journal.Record(ctx, settlement.Entry{
			SessionID:  session.ID,
			CustomerID: session.CustomerID,
			Amount:     amount,
			Shortfall:  shortfall,
		}); err != nil {
			s.logger.Error("failed to journal settlement", zap.Stringer("session_id", session.ID), zap.Error(err))
		}
	}

	if amount.IsPositive() {
		if err := s.customers.SubtractBalance(ctx, session.CustomerID, amount); err != nil {
			metrics.ObserveSettlement(false)
			s.logger.Error("balance deduction failed, session left unpaid",
				zap.Stringer("session_id", session.ID),
				zap.Stringer("amount", amount),
				zap.Error(err))
			if s.journal != nil {
				if jerr := s.journal.MarkFailed(ctx, session.ID, err); jerr != nil {
					s.logger.Error("failed to journal settlement failure", zap.Stringer("session_id", session.ID), zap.Error(jerr))
				}
			}
			notify(ctx, s.notifier, s.logger, Notice{
				Type:    NoticeSettlementFailed,
				Title:   "Payment pending",
				Message: "The session was closed but the payment could not be processed. Staff will reconcile it.",
				Metadata: map[string]string{
					"session_id": session.ID.String(),
					"amount":     amount.StringFixed(2),
				},
			})
			return false
		}
	}

	metrics.ObserveSettlement(true)
	if s.journal != nil {
		if err := s.journal.MarkDone(ctx, session.ID); err != nil {
			s.logger.Error("failed to journal settlement", zap.Stringer("session_id", session.ID), zap.Error(err))
		}
	}
	if shortfall.IsPositive() {
		return false
	}
	if err := s.sessions.MarkSessionPaid(ctx, session.ID); err != nil {
		s.logger.Warn("failed to mark session paid", zap.Stringer("session_id", session.ID), zap.Error(err))
		return false
	}
	return true
}

// CloseActiveSession ends the active session on a shutdown path. Having no
// session is not an error.
func (s *SessionService) CloseActiveSession(ctx context.Context) error {
	_, err := s.EndSession(ctx)
	if apperrors.HasCode(err, apperrors.ErrorCodeNoActiveSession) {
		return nil
	}
	return err
}

// FetchCurrentSession loads the customer's active session. It returns nil when
// there is none. A session running on this kiosk is resumed as the current
// one; a session on any other computer is only returned.
func (s *SessionService) FetchCurrentSession(ctx context.Context, customerID uuid.UUID) (*model.Session, error) {
	session, err := s.sessions.GetActiveSessionByCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, nil
		}
		return nil, apperrors.BackendRequestError("load active session", err)
	}

	if kioskID, ok := s.kioskID(); ok && session.ComputerID == kioskID {
		s.mu.Lock()
		if s.current == nil || s.current.ID == session.ID {
			s.current = session
		}
		s.mu.Unlock()
	}

	return session, nil
}

// Current returns a copy of the active session, or nil.
func (s *SessionService) Current() *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	session := *s.current
	return &session
}

// SessionHistory lists the customer's most recent sessions.
func (s *SessionService) SessionHistory(ctx context.Context, customerID uuid.UUID) ([]model.Session, error) {
	sessions, err := s.sessions.ListSessionsByCustomer(ctx, customerID, SessionHistoryLimit)
	if err != nil {
		return nil, apperrors.BackendRequestError("list sessions", err)
	}
	return sessions, nil
}

// RunCostMeter republishes the running cost every interval until ctx is done.
func (s *SessionService) RunCostMeter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishCost(ctx)
		}
	}
}

func (s *SessionService) publishCost(ctx context.Context) {
	cost, elapsed, err := s.CurrentCost(ctx)
	if err != nil {
		metrics.SetCurrentCost(0)
		return
	}
	metrics.SetCurrentCost(cost.InexactFloat64())
	s.logger.Debug("session cost", zap.Int("elapsed_minutes", elapsed), zap.Stringer("cost", cost))
}

// sessionCost prices a session at the hourly rate it was opened with.
func (s *SessionService) sessionCost(ctx context.Context, session *model.Session, elapsed int) decimal.Decimal {
	rates := s.rates.Rates(ctx)
	if !session.HourlyRate.IsZero() {
		rates = rates.WithHourlyRate(session.HourlyRate)
	}
	return s.policy.Cost(rates, elapsed)
}

func (s *SessionService) kioskID() (uuid.UUID, bool) {
	if s.kiosk == nil {
		return uuid.Nil, false
	}
	computer := s.kiosk()
	if computer == nil {
		return uuid.Nil, false
	}
	return computer.ID, true
}

func (s *SessionService) ensureNoActiveSession(ctx context.Context, computerID, customerID uuid.UUID) error {
	if _, err := s.sessions.GetActiveSessionByCustomer(ctx, customerID); err == nil {
		return apperrors.SessionAlreadyActiveError("customer")
	} else if !errors.Is(err, repository.ErrSessionNotFound) {
		return apperrors.BackendRequestError("check active sessions", err)
	}

	if _, err := s.sessions.GetActiveSessionByComputer(ctx, computerID); err == nil {
		return apperrors.SessionAlreadyActiveError("computer")
	} else if !errors.Is(err, repository.ErrSessionNotFound) {
		return apperrors.BackendRequestError("check active sessions", err)
	}
	return nil
}

func (s *SessionService) computerUnavailable(ctx context.Context, reason string) error {
	notify(ctx, s.notifier, s.logger, Notice{
		Type:    NoticeComputerUnavailable,
		Title:   "Computer unavailable",
		Message: "This computer cannot start a session right now. Please ask staff for help.",
	})
	return apperrors.ComputerUnavailableError(reason)
}
