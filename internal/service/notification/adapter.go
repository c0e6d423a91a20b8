package notification

import (
	"context"
	"kiosk-agent/internal/notification"
	"kiosk-agent/internal/service"
)

// ServiceAdapter adapts the notification client to the service layer interface
type ServiceAdapter struct {
	client notification.Notifier
}

var _ service.Notifier = (*ServiceAdapter)(nil)

// NewServiceAdapter creates a new notification service adapter
func NewServiceAdapter(client notification.Notifier) *ServiceAdapter {
	return &ServiceAdapter{
		client: client,
	}
}

// Notify converts a service notice into a UI notification and sends it
func (a *ServiceAdapter) Notify(ctx context.Context, notice service.Notice) error {
	clientNotification := notification.Notification{
		Level:    mapNotificationLevel(notice.Type),
		Title:    notice.Title,
		Message:  notice.Message,
		Metadata: make(map[string]string, len(notice.Metadata)+1),
	}
	for k, v := range notice.Metadata {
		clientNotification.Metadata[k] = v
	}

	clientNotification.Metadata["notification_type"] = string(notice.Type)

	return a.client.SendNotificationWithContext(ctx, clientNotification)
}

// mapNotificationLevel maps service notice types to client notification levels
func mapNotificationLevel(noticeType service.NoticeType) notification.NotificationLevel {
	switch noticeType {
	case service.NoticeConnected, service.NoticeRegistrationSucceeded, service.NoticeSessionStarted:
		return notification.LevelSuccess
	case service.NoticeConnectionLost, service.NoticeReconnecting, service.NoticeSettlementFailed:
		return notification.LevelWarning
	case service.NoticeReconnectExhausted, service.NoticeRegistrationFailed, service.NoticeCommandFailed,
		service.NoticeInsufficientBalance, service.NoticeComputerUnavailable:
		return notification.LevelError
	default:
		return notification.LevelInfo
	}
}
