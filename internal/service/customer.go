package service

import (
	"context"
	"errors"
	"kiosk-agent/internal/auth"
	"kiosk-agent/internal/model"
	"kiosk-agent/internal/repository"
	apperrors "kiosk-agent/pkg/errors"
	"kiosk-agent/pkg/validation"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CustomerLogin is an authenticated customer with their account row.
type CustomerLogin struct {
	Session  *auth.Session   `json:"session"`
	Customer *model.Customer `json:"customer"`
}

// CustomerService signs customers in and manages their balance.
type CustomerService struct {
	auth      auth.Authenticator
	customers repository.CustomerRepository
	logger    *zap.Logger
}

// NewCustomerService creates a customer service.
func NewCustomerService(authenticator auth.Authenticator, customers repository.CustomerRepository, logger *zap.Logger) *CustomerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CustomerService{auth: authenticator, customers: customers, logger: logger}
}

// SignIn authenticates a customer and loads their account.
func (s *CustomerService) SignIn(ctx context.Context, email, password string) (*CustomerLogin, error) {
	email = strings.TrimSpace(email)
	if errs := validation.ValidateCredentials(email, password); len(errs) > 0 {
		return nil, apperrors.ValidationError(strings.Join(errs, "; "))
	}

	session, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, s.authError("sign in", err)
	}

	customer, err := s.customerForSession(ctx, session)
	if err != nil {
		return nil, err
	}

	s.logger.Info("customer signed in", zap.Stringer("customer_id", customer.ID))
	return &CustomerLogin{Session: session, Customer: customer}, nil
}

// SignOut invalidates the access token.
func (s *CustomerService) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return apperrors.UnauthorizedError("missing access token", nil)
	}
	if err := s.auth.SignOut(ctx, accessToken); err != nil {
		return s.authError("sign out", err)
	}
	return nil
}

// Restore resumes a login from its access token.
func (s *CustomerService) Restore(ctx context.Context, accessToken string) (*CustomerLogin, error) {
	if accessToken == "" {
		return nil, apperrors.UnauthorizedError("missing access token", nil)
	}
	session, err := s.auth.Restore(ctx, accessToken)
	if err != nil {
		return nil, s.authError("restore session", err)
	}

	customer, err := s.customerForSession(ctx, session)
	if err != nil {
		return nil, err
	}
	return &CustomerLogin{Session: session, Customer: customer}, nil
}

// Balance returns the customer's current balance.
func (s *CustomerService) Balance(ctx context.Context, customerID uuid.UUID) (decimal.Decimal, error) {
	customer, err := s.getCustomer(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	return customer.Balance, nil
}

// TopUp adds amount to the customer's balance and returns the updated account.
func (s *CustomerService) TopUp(ctx context.Context, customerID uuid.UUID, amount decimal.Decimal) (*model.Customer, error) {
	if err := validation.ValidateAmount(amount); err != nil {
		return nil, apperrors.ValidationError(err.Error())
	}

	if err := s.customers.AddBalance(ctx, customerID, amount); err != nil {
		if errors.Is(err, repository.ErrCustomerNotFound) {
			return nil, apperrors.NotFoundError("customer")
		}
		return nil, apperrors.BackendRequestError("add balance", err)
	}

	s.logger.Info("balance topped up",
		zap.Stringer("customer_id", customerID),
		zap.String("amount", amount.StringFixed(2)))

	return s.getCustomer(ctx, customerID)
}

func (s *CustomerService) getCustomer(ctx context.Context, customerID uuid.UUID) (*model.Customer, error) {
	customer, err := s.customers.GetCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, repository.ErrCustomerNotFound) {
			return nil, apperrors.NotFoundError("customer")
		}
		return nil, apperrors.BackendRequestError("load customer", err)
	}
	return customer, nil
}

func (s *CustomerService) customerForSession(ctx context.Context, session *auth.Session) (*model.Customer, error) {
	customer, err := s.customers.GetCustomerByEmail(ctx, session.Email)
	if err != nil {
		if errors.Is(err, repository.ErrCustomerNotFound) {
			return nil, apperrors.NotFoundError("customer account")
		}
		return nil, apperrors.BackendRequestError("load customer", err)
	}
	return customer, nil
}

func (s *CustomerService) authError(operation string, err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return apperrors.UnauthorizedError("invalid email or password", err)
	case errors.Is(err, auth.ErrInvalidToken):
		return apperrors.UnauthorizedError("session expired, please sign in again", err)
	default:
		return apperrors.BackendRequestError(operation, err)
	}
}
