package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/timetracking/internal/domain"
	"example.com/timetracking/pkg/events"
)

func TestClientSendPostsNotification(t *testing.T) {
	var (
		got     createRequest
		headers http.Header
		path    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "secret", time.Second)
	err := client.Send(context.Background(), events.NotificationRequested{
		NotificationID: "n-1",
		OrganizationID: "org-1",
		UserID:         "user-1",
		Type:           string(domain.CategoryTimerAutoStopped),
		Title:          "Timer automatically stopped",
		Message:        "stopped",
		Data:           map[string]any{"timeEntryId": "e-1"},
		SendEmail:      true,
		SendPush:       true,
	})
	require.NoError(t, err)
	require.Equal(t, "/v1/notifications", path)
	require.Equal(t, "Bearer secret", headers.Get("Authorization"))
	require.Equal(t, "n-1", headers.Get("Idempotency-Key"))
	require.Equal(t, "user-1", got.UserID)
	require.Equal(t, "timer_auto_stopped", got.Type)
	require.True(t, got.SendEmail)
	require.Equal(t, "e-1", got.Data["timeEntryId"])
}

func TestClientSendReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "", time.Second).Send(context.Background(), events.NotificationRequested{UserID: "user-1"})
	var delivery *DeliveryError
	require.True(t, errors.As(err, &delivery))
	require.Equal(t, http.StatusServiceUnavailable, delivery.Status)
	require.True(t, delivery.Retryable())
	require.False(t, (&DeliveryError{Status: http.StatusBadRequest}).Retryable())
	require.True(t, (&DeliveryError{Status: http.StatusRequestTimeout}).Retryable())
}

func TestToEventAndDedupeKey(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	n := domain.Notification{
		UserID:         "user-1",
		OrganizationID: "org-1",
		Type:           domain.CategoryApprovalNeeded,
		Data:           map[string]any{"timeEntryId": "e-9"},
	}

	event := ToEvent(n, "n-1", now)
	require.Equal(t, "time_entry_approval", event.Type)
	require.Equal(t, now.UTC(), event.RequestedAt)
	require.Equal(t, "notification:time_entry_approval:e-9", dedupeKey(n))
	require.Equal(t, "", dedupeKey(domain.Notification{}))
}
