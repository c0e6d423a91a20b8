package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"kiosk-agent/internal/auth"
	"kiosk-agent/internal/backend"
	"kiosk-agent/internal/billing"
	"kiosk-agent/internal/config"
	"kiosk-agent/internal/controlchannel"
	"kiosk-agent/internal/database"
	"kiosk-agent/internal/handler"
	"kiosk-agent/internal/notification"
	"kiosk-agent/internal/osexec"
	"kiosk-agent/internal/repository"
	"kiosk-agent/internal/router"
	"kiosk-agent/internal/service"
	noticeadapter "kiosk-agent/internal/service/notification"
	"kiosk-agent/internal/settlement"
	"kiosk-agent/internal/sysinfo"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, authenticator, closeStore, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize backend", zap.String("driver", cfg.Backend.Driver), zap.Error(err))
	}
	defer closeStore()

	notifier := newNotifier(cfg, logger)

	journal, err := settlement.Open(cfg.Settlement.JournalPath, logger)
	if err != nil {
		logger.Fatal("failed to open settlement journal", zap.Error(err))
	}
	defer journal.Close()

	replayCtx, cancelReplay := context.WithTimeout(ctx, cfg.Backend.Timeout)
	result, err := journal.Replay(replayCtx, store)
	cancelReplay()
	if err != nil {
		logger.Error("settlement replay failed", zap.Error(err))
	} else if result.Settled+result.Failed+result.Unresolved > 0 {
		logger.Info("settlement replay finished",
			zap.Int("settled", result.Settled),
			zap.Int("failed", result.Failed),
			zap.Int("unresolved", result.Unresolved))
	}

	policy, err := billing.NewPolicy(cfg.Billing.Policy)
	if err != nil {
		logger.Fatal("invalid billing policy", zap.Error(err))
	}
	defaults := billing.Rates{
		MinimumFee:      cfg.Billing.MinimumFee,
		HourlyRate:      cfg.Billing.HourlyRate,
		BillingInterval: cfg.Billing.Interval,
		MinimumBalance:  cfg.Billing.MinimumFee,
	}

	registration := service.NewRegistrationService(store, sysinfo.NewHostProber(), notifier, cfg.Registration.HeartbeatInterval, logger)
	sessions := service.NewSessionService(service.SessionServiceDeps{
		Sessions:  store,
		Customers: store,
		Computers: store,
		Rates:     service.NewSettingsProvider(store, defaults, cfg.Backend.SettingsCacheTTL, logger),
		Policy:    policy,
		Journal:   journal,
		Notifier:  notifier,
		Kiosk:     registration.Computer,
		Logger:    logger,
	})
	customers := service.NewCustomerService(authenticator, store, logger)

	registerCtx, cancelRegister := context.WithTimeout(ctx, cfg.Backend.Timeout)
	if computer, err := registration.RegisterComputer(registerCtx); err != nil {
		logger.Error("computer registration failed", zap.Error(err))
	} else {
		logger.Info("computer registered",
			zap.Stringer("computer_id", computer.ID),
			zap.String("slot", computer.SlotNumber))
	}
	cancelRegister()

	exitRequested := make(chan struct{})
	var exitOnce sync.Once

	channelOpts := controlChannelOptions(cfg.ControlChannel)
	if err := channelOpts.Validate(); err != nil {
		logger.Fatal("invalid control channel options", zap.Error(err))
	}
	channel := controlchannel.New(channelOpts, controlchannel.Deps{
		Dialer:    controlchannel.WebsocketDialer{HandshakeTimeout: cfg.ControlChannel.ConnectTimeout},
		Registrar: registration,
		Sessions:  sessions,
		Host:      osexec.NewExecutor(cfg.ControlChannel.CommandTimeout, logger),
		Notifier:  notifier,
		Logger:    logger,
		Exit: func() {
			exitOnce.Do(func() { close(exitRequested) })
		},
	})
	if err := channel.Start(ctx); err != nil {
		logger.Fatal("failed to start control channel", zap.Error(err))
	}

	go sessions.RunCostMeter(ctx, cfg.Billing.CostMeterInterval)

	h := handler.NewKioskHandler(sessions, customers, registration, channel, logger)
	server := &http.Server{
		Addr:           cfg.Server.Addr,
		Handler:        router.NewRouter(h, cfg, logger),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting local API",
			zap.String("addr", cfg.Server.Addr),
			zap.Int("rate_limit_rps", cfg.Security.RateLimitRPS),
			zap.Bool("cors", cfg.Security.EnableCORS))

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case <-exitRequested:
		logger.Info("exiting after power command")
	case err := <-serverErr:
		logger.Error("local API failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Security.ShutdownTimeout)
	defer cancel()

	if err := sessions.CloseActiveSession(shutdownCtx); err != nil {
		logger.Error("failed to close active session", zap.Error(err))
	}
	if err := registration.SetComputerOffline(shutdownCtx); err != nil {
		logger.Error("failed to set computer offline", zap.Error(err))
	}
	if err := channel.Close(); err != nil {
		logger.Warn("control channel close failed", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	} else {
		logger.Info("kiosk agent exited gracefully")
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if strings.EqualFold(level, "debug") {
		return zap.NewDevelopment()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

// openBackend builds the store and authenticator for the configured driver.
func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, auth.Authenticator, func(), error) {
	switch cfg.Backend.Driver {
	case config.DriverPostgres:
		db, err := database.InitDB(cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		closeDB := func() {
			if err := db.Close(); err != nil {
				logger.Warn("failed to close database", zap.Error(err))
			}
		}
		return repository.NewPostgresStore(db), auth.NewPostgresAuthenticator(db, 0), closeDB, nil

	default:
		client, err := backend.New(backend.Config{
			URL:           cfg.Backend.URL,
			APIKey:        cfg.Backend.APIKey,
			Timeout:       cfg.Backend.Timeout,
			RateLimit:     cfg.Backend.RateLimit,
			Burst:         cfg.Backend.RateBurst,
			RetryAttempts: cfg.Backend.RetryAttempts,
			RetryDelay:    cfg.Backend.RetryDelay,
			Logger:        logger.Named("backend"),
		})
		if err != nil {
			return nil, nil, nil, err
		}

		readyCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Backend.ReadyAttempts+1)*(cfg.Backend.Timeout+cfg.Backend.ReadyDelay))
		defer cancel()
		if err := client.WaitReady(readyCtx, cfg.Backend.ReadyAttempts, cfg.Backend.ReadyDelay); err != nil {
			return nil, nil, nil, fmt.Errorf("backend not reachable: %w", err)
		}
		return repository.NewSupabaseStore(client), auth.NewSupabaseAuthenticator(client), func() {}, nil
	}
}

func newNotifier(cfg *config.Config, logger *zap.Logger) service.Notifier {
	if cfg.Notification.URL == "" {
		return noticeadapter.NewServiceAdapter(notification.NewLogNotifier(logger))
	}
	return noticeadapter.NewServiceAdapter(notification.NewNotifierWithConfig(notification.NotificationConfig{
		URL:            cfg.Notification.URL,
		Timeout:        cfg.Notification.Timeout,
		RetryAttempts:  cfg.Notification.RetryAttempts,
		RetryDelay:     cfg.Notification.RetryDelay,
		MaxPayloadSize: cfg.Notification.MaxPayloadSize,
	}, logger))
}

func controlChannelOptions(c config.ControlChannelConfig) controlchannel.Options {
	return controlchannel.Options{
		URL:                  c.URL,
		Reconnection:         c.Reconnection,
		ReconnectionAttempts: c.ReconnectionAttempts,
		ReconnectionDelay:    c.ReconnectionDelay,
		ReconnectionDelayMax: c.ReconnectionDelayMax,
		RetryDelay:           c.RetryDelay,
		ConnectTimeout:       c.ConnectTimeout,
		ExitDelay:            c.ExitDelay,
		CommandTimeout:       c.CommandTimeout,
	}
}
