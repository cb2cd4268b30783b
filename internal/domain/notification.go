package domain

import "context"

// NotificationCategory is a per-organization toggle for a family of notifications.
type NotificationCategory string

const (
	CategoryTimerAutoStopped NotificationCategory = "timer_auto_stopped"
	CategoryApprovalNeeded   NotificationCategory = "time_entry_approval"
)

// Notification mirrors the payload accepted by the external notification service.
type Notification struct {
	UserID         string
	OrganizationID string
	Type           NotificationCategory
	Title          string
	Message        string
	Data           map[string]any
	SendEmail      bool
	SendPush       bool
}

// Notifier delivers notifications. Delivery is fire-and-forget from the timer subsystem.
type Notifier interface {
	CreateNotification(ctx context.Context, n Notification) error
}

// NotificationPreferences reports whether a category is enabled. Project settings take precedence
// over organization settings; a category with no stored setting is enabled.
type NotificationPreferences interface {
	CategoryEnabled(ctx context.Context, organizationID, projectID string, category NotificationCategory) (bool, error)
}

// NopNotifier discards every notification.
type NopNotifier struct{}

// CreateNotification implements Notifier.
func (NopNotifier) CreateNotification(context.Context, Notification) error { return nil }
