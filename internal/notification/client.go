package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// NotificationLevel selects how the UI renders a toast
type NotificationLevel string

const (
	LevelSuccess NotificationLevel = "success"
	LevelInfo    NotificationLevel = "info"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

const (
	defaultSource     = "kiosk-agent"
	maxMessageLength  = 1000
	maxTitleLength    = 120
	userAgentHeader   = "kiosk-agent/1.0"
	defaultRetryDelay = 500 * time.Millisecond
)

// Notifier is an interface for delivering toasts and banners to the kiosk UI
type Notifier interface {
	SendNotification(notification Notification) error
	SendNotificationWithContext(ctx context.Context, notification Notification) error
	IsHealthy(ctx context.Context) bool
}

// NotificationConfig holds configuration for the notification client
type NotificationConfig struct {
	URL            string
	Timeout        time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	MaxPayloadSize int64
}

// DefaultConfig returns a default configuration for the notification client
func DefaultConfig(url string) NotificationConfig {
	return NotificationConfig{
		URL:            url,
		Timeout:        5 * time.Second,
		RetryAttempts:  2,
		RetryDelay:     defaultRetryDelay,
		MaxPayloadSize: 64 * 1024,
	}
}

// Notification represents the payload posted to the UI process
type Notification struct {
	Level     NotificationLevel `json:"level"`
	Title     string            `json:"title,omitempty"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp,omitempty"`
	Source    string            `json:"source,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Validate checks if the notification is valid
func (n *Notification) Validate() error {
	if n.Level == "" {
		return fmt.Errorf("notification level is required")
	}
	if n.Message == "" {
		return fmt.Errorf("notification message is required")
	}
	if len(n.Message) > maxMessageLength {
		return fmt.Errorf("notification message too long (max %d characters)", maxMessageLength)
	}
	if len(n.Title) > maxTitleLength {
		return fmt.Errorf("notification title too long (max %d characters)", maxTitleLength)
	}

	switch n.Level {
	case LevelSuccess, LevelInfo, LevelWarning, LevelError:
		return nil
	}
	return fmt.Errorf("invalid notification level: %s", n.Level)
}

// permanentError marks failures that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// notificationClient posts notifications to the UI process over HTTP
type notificationClient struct {
	config NotificationConfig
	client *http.Client
	logger *zap.Logger
}

// NewNotifier creates a new Notifier with default configuration
func NewNotifier(url string, logger *zap.Logger) Notifier {
	return NewNotifierWithConfig(DefaultConfig(url), logger)
}

// NewNotifierWithConfig creates a new Notifier with custom configuration
func NewNotifierWithConfig(config NotificationConfig, logger *zap.Logger) Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaultRetryDelay
	}
	return &notificationClient{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}
}

// SendNotification sends a notification using the configured timeout
func (c *notificationClient) SendNotification(notification Notification) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()
	return c.SendNotificationWithContext(ctx, notification)
}

// SendNotificationWithContext sends a notification with context support
func (c *notificationClient) SendNotificationWithContext(ctx context.Context, notification Notification) error {
	if err := notification.Validate(); err != nil {
		return fmt.Errorf("invalid notification: %w", err)
	}

	if notification.Timestamp.IsZero() {
		notification.Timestamp = time.Now()
	}
	if notification.Source == "" {
		notification.Source = defaultSource
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
			c.logger.Debug("retrying notification send",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", c.config.RetryAttempts+1))
		}

		err := c.sendNotificationAttempt(ctx, notification)
		if err == nil {
			return nil
		}

		lastErr = err
		c.logger.Warn("notification send attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))

		var perm *permanentError
		if errors.As(err, &perm) {
			return err
		}
	}

	return fmt.Errorf("failed to send notification after %d attempts: %w", c.config.RetryAttempts+1, lastErr)
}

// sendNotificationAttempt performs a single notification send attempt
func (c *notificationClient) sendNotificationAttempt(ctx context.Context, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return &permanentError{fmt.Errorf("failed to marshal notification: %w", err)}
	}

	if c.config.MaxPayloadSize > 0 && int64(len(payload)) > c.config.MaxPayloadSize {
		return &permanentError{fmt.Errorf("notification payload too large: %d bytes (max %d)", len(payload), c.config.MaxPayloadSize)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(payload))
	if err != nil {
		return &permanentError{fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgentHeader)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("notification endpoint returned error status %d: %s", resp.StatusCode, string(body))
	}
	if resp.StatusCode >= 400 {
		return &permanentError{fmt.Errorf("notification endpoint rejected request with status %d: %s", resp.StatusCode, string(body))}
	}

	return nil
}

// IsHealthy checks if the UI notification endpoint is reachable
func (c *notificationClient) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.config.URL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", userAgentHeader)

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < 500
}

// LogNotifier writes notifications to the log when no UI endpoint is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only Notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) SendNotification(notification Notification) error {
	return l.SendNotificationWithContext(context.Background(), notification)
}

func (l *LogNotifier) SendNotificationWithContext(_ context.Context, notification Notification) error {
	if err := notification.Validate(); err != nil {
		return fmt.Errorf("invalid notification: %w", err)
	}

	fields := []zap.Field{
		zap.String("level", string(notification.Level)),
		zap.String("title", notification.Title),
	}
	for k, v := range notification.Metadata {
		fields = append(fields, zap.String(k, v))
	}

	switch notification.Level {
	case LevelError:
		l.logger.Error(notification.Message, fields...)
	case LevelWarning:
		l.logger.Warn(notification.Message, fields...)
	default:
		l.logger.Info(notification.Message, fields...)
	}
	return nil
}

func (l *LogNotifier) IsHealthy(context.Context) bool { return true }
