// Package events defines the payloads the time-tracking service publishes to Kafka.
package events

import "time"

const (
	TypeTimeEntryCreated      = "time_entry.created"
	TypeNotificationRequested = "notification.requested"
)

// TimeEntryCreated is emitted when a timer is materialized into a time entry, whether stopped by
// the user or by the session sweep.
type TimeEntryCreated struct {
	EntryID        string    `json:"entry_id"`
	TimerID        string    `json:"timer_id"`
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	ProjectID      string    `json:"project_id,omitempty"`
	TaskID         string    `json:"task_id,omitempty"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	DurationMin    int       `json:"duration_min"`
	IsBillable     bool      `json:"is_billable"`
	IsApproved     bool      `json:"is_approved"`
	Source         string    `json:"source"`
}

// NotificationRequested asks the notification service to notify a user.
type NotificationRequested struct {
	NotificationID string         `json:"notification_id"`
	OrganizationID string         `json:"organization_id"`
	UserID         string         `json:"user_id"`
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Data           map[string]any `json:"data,omitempty"`
	SendEmail      bool           `json:"send_email"`
	SendPush       bool           `json:"send_push"`
	RequestedAt    time.Time      `json:"requested_at"`
}
