package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"example.com/timetracking/pkg/events"
)

// Sender delivers a notification to the external notification service.
type Sender interface {
	Send(context.Context, events.NotificationRequested) error
}

// DeliveryHandler forwards notification.requested events to a Sender. Other event types are
// ignored.
type DeliveryHandler struct {
	sender Sender
}

// NewDeliveryHandler constructs a DeliveryHandler.
func NewDeliveryHandler(sender Sender) *DeliveryHandler {
	return &DeliveryHandler{sender: sender}
}

// Handle implements Handler.
func (h *DeliveryHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != events.TypeNotificationRequested {
		return nil
	}

	var req events.NotificationRequested
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return &PermanentError{Err: fmt.Errorf("decode notification: %w", err)}
	}
	if req.UserID == "" {
		return &PermanentError{Err: errors.New("notification has no user id")}
	}
	if req.OrganizationID == "" {
		req.OrganizationID = msg.TenantID
	}

	err := h.sender.Send(ctx, req)
	var classified interface{ Retryable() bool }
	if errors.As(err, &classified) && !classified.Retryable() {
		return &PermanentError{Err: err}
	}
	return err
}
