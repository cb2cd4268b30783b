package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/timetracking/internal/domain"
	"example.com/timetracking/internal/outbox"
	"example.com/timetracking/pkg/events"
)

// OutboxNotifier implements domain.Notifier by enqueueing notification.requested events. Each
// notification commits in its own transaction, independent of the stop that raised it.
type OutboxNotifier struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewOutboxNotifier constructs an OutboxNotifier.
func NewOutboxNotifier(pool *pgxpool.Pool) *OutboxNotifier {
	return &OutboxNotifier{pool: pool, now: time.Now}
}

// CreateNotification implements domain.Notifier.
func (o *OutboxNotifier) CreateNotification(ctx context.Context, n domain.Notification) error {
	payload := ToEvent(n, uuid.NewString(), o.now())
	return pgx.BeginFunc(ctx, o.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", n.OrganizationID); err != nil {
			return err
		}
		return outbox.Insert(ctx, tx, outbox.Record{
			TenantID:      n.OrganizationID,
			AggregateType: "notification",
			AggregateID:   payload.NotificationID,
			EventType:     events.TypeNotificationRequested,
			PartitionKey:  n.OrganizationID + ":" + n.UserID,
			DedupeKey:     dedupeKey(n),
			Payload:       payload,
		})
	})
}

// ToEvent converts a domain notification into its wire payload.
func ToEvent(n domain.Notification, id string, now time.Time) events.NotificationRequested {
	return events.NotificationRequested{
		NotificationID: id,
		OrganizationID: n.OrganizationID,
		UserID:         n.UserID,
		Type:           string(n.Type),
		Title:          n.Title,
		Message:        n.Message,
		Data:           n.Data,
		SendEmail:      n.SendEmail,
		SendPush:       n.SendPush,
		RequestedAt:    now.UTC(),
	}
}

// dedupeKey ties a notification to the entry that raised it so a repeated enqueue is ignored.
func dedupeKey(n domain.Notification) string {
	entryID, _ := n.Data["timeEntryId"].(string)
	if entryID == "" {
		return ""
	}
	return fmt.Sprintf("notification:%s:%s", n.Type, entryID)
}
