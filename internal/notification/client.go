// Package notification delivers user notifications raised by the timer subsystem.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"example.com/timetracking/pkg/events"
)

// Client calls the external notification service.
type Client struct {
	client *http.Client
	url    string
	token  string
}

// NewClient constructs a Client posting to endpoint. A non-empty token is sent as a bearer token.
func NewClient(endpoint, token string, timeout time.Duration) *Client {
	return &Client{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(endpoint, "/") + "/v1/notifications",
		token:  token,
	}
}

type createRequest struct {
	UserID         string         `json:"userId"`
	OrganizationID string         `json:"organizationId"`
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Data           map[string]any `json:"data,omitempty"`
	SendEmail      bool           `json:"sendEmail"`
	SendPush       bool           `json:"sendPush"`
}

// Send posts a notification request. The notification id doubles as the idempotency key.
func (c *Client) Send(ctx context.Context, n events.NotificationRequested) error {
	body, err := json.Marshal(createRequest{
		UserID:         n.UserID,
		OrganizationID: n.OrganizationID,
		Type:           n.Type,
		Title:          n.Title,
		Message:        n.Message,
		Data:           n.Data,
		SendEmail:      n.SendEmail,
		SendPush:       n.SendPush,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.NotificationID != "" {
		req.Header.Set("Idempotency-Key", n.NotificationID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &DeliveryError{Status: resp.StatusCode}
	}
	return nil
}

// DeliveryError represents a non-successful notification service response.
type DeliveryError struct {
	Status int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notification service responded %d %s", e.Status, http.StatusText(e.Status))
}

// Retryable reports whether the request may succeed if repeated.
func (e *DeliveryError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout
}
