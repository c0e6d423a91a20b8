package service

import (
	"context"
	"errors"
	"fmt"
	"kiosk-agent/internal/metrics"
	"kiosk-agent/internal/model"
	"kiosk-agent/internal/repository"
	"kiosk-agent/internal/sysinfo"
	apperrors "kiosk-agent/pkg/errors"
	"kiosk-agent/pkg/validation"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	// DefaultHeartbeatInterval is the liveness period of a registered kiosk.
	DefaultHeartbeatInterval = 30 * time.Second

	maxSlotAttempts = 3
)

// RegistrationService registers this kiosk with the backend and keeps its
// computer row alive.
type RegistrationService struct {
	repo     repository.ComputerRepository
	prober   sysinfo.Prober
	notifier Notifier
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	computer  *model.Computer
	machineID string
	scheduler *cron.Cron
}

// NewRegistrationService creates a registration service.
func NewRegistrationService(repo repository.ComputerRepository, prober sysinfo.Prober, notifier Notifier, interval time.Duration, logger *zap.Logger) *RegistrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &RegistrationService{
		repo:     repo,
		prober:   prober,
		notifier: notifier,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// MachineID resolves and remembers the host's machine identifier.
func (s *RegistrationService) MachineID(ctx context.Context) (string, error) {
	s.mu.Lock()
	cached := s.machineID
	s.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	id, err := s.prober.MachineID(ctx)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.machineID = id
	s.mu.Unlock()
	return id, nil
}

// RegisterComputer upserts this kiosk's computer row and starts the liveness
// schedule. Registering again updates the existing row.
func (s *RegistrationService) RegisterComputer(ctx context.Context) (*model.Computer, error) {
	computer, err := s.register(ctx)
	if err != nil {
		s.logger.Error("computer registration failed", zap.Error(err))
		notify(ctx, s.notifier, s.logger, Notice{
			Type:    NoticeRegistrationFailed,
			Title:   "Registration failed",
			Message: "This computer could not be registered with the café server.",
		})
		return nil, err
	}

	s.mu.Lock()
	s.computer = computer
	s.mu.Unlock()

	if err := s.startHeartbeat(); err != nil {
		return nil, err
	}

	s.logger.Info("computer registered",
		zap.Stringer("computer_id", computer.ID),
		zap.String("slot", computer.SlotNumber),
		zap.String("machine_id", computer.MachineID))
	return computer, nil
}

func (s *RegistrationService) register(ctx context.Context) (*model.Computer, error) {
	machineID, err := s.MachineID(ctx)
	if err != nil {
		return nil, err
	}

	hostname, err := s.prober.Hostname(ctx)
	if err != nil {
		return nil, apperrors.IdentityUnavailableError(err)
	}
	specs, err := s.prober.Specs(ctx)
	if err != nil {
		return nil, apperrors.IdentityUnavailableError(err)
	}

	now := s.now().UTC()
	candidate := model.Computer{
		MachineID:      machineID,
		Name:           hostname,
		IPAddress:      s.prober.LocalIPv4(ctx),
		MACAddress:     s.prober.MACAddress(ctx),
		Status:         model.ComputerAvailable,
		Specifications: specs,
		LastSeen:       now,
	}
	if errs := validation.ValidateComputerInput(&candidate); len(errs) > 0 {
		return nil, apperrors.ValidationError(strings.Join(errs, "; "))
	}

	existing, err := s.repo.GetComputerByMachineID(ctx, machineID)
	switch {
	case err == nil:
		return s.update(ctx, existing, candidate)
	case errors.Is(err, repository.ErrComputerNotFound):
		return s.create(ctx, candidate)
	default:
		return nil, apperrors.BackendRequestError("look up computer", err)
	}
}

func (s *RegistrationService) update(ctx context.Context, existing *model.Computer, candidate model.Computer) (*model.Computer, error) {
	if err := s.repo.UpdateRegistration(ctx, existing.ID, candidate); err != nil {
		return nil, apperrors.BackendRequestError("update computer", err)
	}

	updated := *existing
	updated.Name = candidate.Name
	updated.IPAddress = candidate.IPAddress
	updated.MACAddress = candidate.MACAddress
	updated.Specifications = candidate.Specifications
	updated.LastSeen = candidate.LastSeen
	updated.Status = model.ComputerAvailable
	updated.CurrentSessionID = nil
	return &updated, nil
}

func (s *RegistrationService) create(ctx context.Context, candidate model.Computer) (*model.Computer, error) {
	candidate.ID = uuid.New()

	for attempt := 1; attempt <= maxSlotAttempts; attempt++ {
		slots, err := s.repo.ListSlotNumbers(ctx)
		if err != nil {
			return nil, apperrors.BackendRequestError("list slot numbers", err)
		}
		candidate.SlotNumber = NextSlotNumber(slots)

		created, err := s.repo.CreateComputer(ctx, candidate)
		switch {
		case err == nil:
			return created, nil
		case errors.Is(err, repository.ErrDuplicateSlot):
			s.logger.Warn("slot number taken concurrently, retrying",
				zap.String("slot", candidate.SlotNumber), zap.Int("attempt", attempt))
		case errors.Is(err, repository.ErrDuplicateMachineID):
			existing, getErr := s.repo.GetComputerByMachineID(ctx, candidate.MachineID)
			if getErr != nil {
				return nil, apperrors.BackendRequestError("look up computer", getErr)
			}
			return s.update(ctx, existing, candidate)
		default:
			return nil, apperrors.BackendRequestError("create computer", err)
		}
	}

	return nil, apperrors.BackendRequestError("create computer",
		fmt.Errorf("no free slot number after %d attempts", maxSlotAttempts))
}

// NextSlotNumber returns the label of the smallest positive slot index not in
// use. Labels that do not parse are ignored.
func NextSlotNumber(existing []string) string {
	used := make([]int, 0, len(existing))
	for _, slot := range existing {
		n, err := validation.ParseSlotNumber(slot)
		if err != nil {
			continue
		}
		used = append(used, n)
	}
	sort.Ints(used)

	next := 1
	for _, n := range used {
		if n == next {
			next++
		} else if n > next {
			break
		}
	}
	return validation.FormatSlotNumber(next)
}

// Computer returns the registered computer, or nil before registration.
func (s *RegistrationService) Computer() *model.Computer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.computer == nil {
		return nil
	}
	c := *s.computer
	return &c
}

// Heartbeat refreshes last_seen, addresses and free memory for this kiosk.
func (s *RegistrationService) Heartbeat(ctx context.Context) error {
	computer := s.Computer()
	if computer == nil {
		return apperrors.NotFoundError("registered computer")
	}

	specs, err := s.prober.Specs(ctx)
	if err != nil {
		specs = computer.Specifications
		s.logger.Warn("failed to refresh specs for heartbeat", zap.Error(err))
	}

	hb := model.Heartbeat{
		IPAddress:      s.prober.LocalIPv4(ctx),
		MACAddress:     s.prober.MACAddress(ctx),
		Specifications: specs,
		LastSeen:       s.now().UTC(),
	}
	if err := s.repo.UpdateHeartbeat(ctx, computer.ID, hb); err != nil {
		metrics.ObserveHeartbeat(false)
		return apperrors.BackendRequestError("heartbeat", err)
	}
	metrics.ObserveHeartbeat(true)

	s.mu.Lock()
	if s.computer != nil {
		s.computer.IPAddress = hb.IPAddress
		s.computer.MACAddress = hb.MACAddress
		s.computer.Specifications = hb.Specifications
		s.computer.LastSeen = hb.LastSeen
	}
	s.mu.Unlock()
	return nil
}

// CurrentSpecs takes a fresh specs snapshot and stores it on the computer row.
func (s *RegistrationService) CurrentSpecs(ctx context.Context) (model.Specs, error) {
	specs, err := s.prober.Specs(ctx)
	if err != nil {
		return model.Specs{}, err
	}

	if computer := s.Computer(); computer != nil {
		if err := s.repo.UpdateSpecs(ctx, computer.ID, specs, s.now().UTC()); err != nil {
			s.logger.Warn("failed to store specs snapshot", zap.Error(err))
		}
	}
	return specs, nil
}

// SetComputerOffline marks this kiosk offline and stops the liveness schedule.
// It is a no-op before registration.
func (s *RegistrationService) SetComputerOffline(ctx context.Context) error {
	s.stopHeartbeat()

	computer := s.Computer()
	if computer == nil {
		return nil
	}

	if err := s.repo.SetComputerStatus(ctx, computer.ID, model.ComputerOffline, nil, s.now().UTC()); err != nil {
		return apperrors.BackendRequestError("set computer offline", err)
	}

	s.mu.Lock()
	if s.computer != nil {
		s.computer.Status = model.ComputerOffline
		s.computer.CurrentSessionID = nil
	}
	s.mu.Unlock()

	s.logger.Info("computer set offline", zap.Stringer("computer_id", computer.ID))
	return nil
}

func (s *RegistrationService) startHeartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler != nil {
		return nil
	}

	cronLogger := cron.PrintfLogger(zap.NewStdLog(s.logger.Named("heartbeat")))
	scheduler := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	_, err := scheduler.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.interval)
		defer cancel()
		if err := s.Heartbeat(ctx); err != nil {
			s.logger.Warn("heartbeat failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule heartbeat: %w", err)
	}

	scheduler.Start()
	s.scheduler = scheduler
	return nil
}

func (s *RegistrationService) stopHeartbeat() {
	s.mu.Lock()
	scheduler := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
}
