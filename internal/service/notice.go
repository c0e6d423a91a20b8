package service

import (
	"context"

	"go.uber.org/zap"
)

// NoticeType identifies a user-visible state transition.
type NoticeType string

const (
	NoticeConnecting            NoticeType = "connecting"
	NoticeConnected             NoticeType = "connection_established"
	NoticeConnectionLost        NoticeType = "connection_lost"
	NoticeReconnecting          NoticeType = "reconnecting"
	NoticeReconnectExhausted    NoticeType = "reconnect_exhausted"
	NoticeRegistrationSucceeded NoticeType = "registration_succeeded"
	NoticeRegistrationFailed    NoticeType = "registration_failed"
	NoticeCommandFailed         NoticeType = "command_failed"
	NoticeInsufficientBalance   NoticeType = "insufficient_balance"
	NoticeComputerUnavailable   NoticeType = "computer_unavailable"
	NoticeSessionStarted        NoticeType = "session_started"
	NoticeSessionEnded          NoticeType = "session_ended"
	NoticeSettlementFailed      NoticeType = "settlement_failed"
)

// Notice is a toast or banner for the kiosk UI.
type Notice struct {
	Type     NoticeType
	Title    string
	Message  string
	Metadata map[string]string
}

// Notifier delivers notices to the UI.
type Notifier interface {
	Notify(ctx context.Context, notice Notice) error
}

// NopNotifier discards notices.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notice) error { return nil }

// notify delivers a notice and only logs delivery failures.
func notify(ctx context.Context, n Notifier, logger *zap.Logger, notice Notice) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, notice); err != nil {
		logger.Warn("failed to deliver notice",
			zap.String("type", string(notice.Type)),
			zap.Error(err))
	}
}
