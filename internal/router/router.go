package router

import (
	"net/http"

	"kiosk-agent/internal/config"
	"kiosk-agent/internal/handler"
	"kiosk-agent/internal/metrics"
	"kiosk-agent/internal/middleware"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// NewRouter creates a new router and sets up the routes with security middleware.
func NewRouter(h handler.KioskHandlerInterface, cfg *config.Config, logger *zap.Logger) *mux.Router {
	r := mux.NewRouter()

	securityMW := middleware.NewSecurityMiddleware(&cfg.Security)
	loggingMW := middleware.NewLoggingMiddleware(logger)

	// Apply global middleware in order
	r.Use(securityMW.TrustedProxy)
	r.Use(loggingMW.LogRequests)
	r.Use(metrics.InstrumentHandler)
	r.Use(securityMW.SecurityHeaders)
	r.Use(securityMW.CORS)
	r.Use(securityMW.RateLimit)
	r.Use(securityMW.RequestTimeout)

	if cfg.Server.EnableMetrics {
		r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()

	// Health and monitoring
	api.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
	api.HandleFunc("/status", h.StatusHandler).Methods(http.MethodGet)

	// Customer authentication
	api.HandleFunc("/auth/sign-in", h.SignInHandler).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/auth/sign-out", h.SignOutHandler).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/auth/session", h.RestoreSessionHandler).Methods(http.MethodGet)

	// Customer accounts
	api.HandleFunc("/customers/{id}/balance", h.GetBalanceHandler).Methods(http.MethodGet)
	api.HandleFunc("/customers/{id}/balance", h.TopUpHandler).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/customers/{id}/sessions", h.GetSessionHistoryHandler).Methods(http.MethodGet)
	api.HandleFunc("/customers/{id}/sessions/current", h.GetCurrentSessionHandler).Methods(http.MethodGet)

	// Billing sessions
	api.HandleFunc("/sessions", h.StartSessionHandler).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/current", h.EndSessionHandler).Methods(http.MethodDelete, http.MethodOptions)
	api.HandleFunc("/sessions/current/cost", h.CurrentCostHandler).Methods(http.MethodGet)
	api.HandleFunc("/billing/cost", h.QuoteCostHandler).Methods(http.MethodGet)

	return r
}
