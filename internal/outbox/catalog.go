package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/timetracking/pkg/events"
)

const (
	TopicTimeEntries   = "time_entries"
	TopicNotifications = "timer_notifications"
)

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
	Schema        string
}

var eventCatalog = map[string]EventMetadata{
	events.TypeTimeEntryCreated: {
		Topic:         TopicTimeEntries,
		SchemaSubject: TopicTimeEntries + "-value",
		Schema:        timeEntryCreatedSchema,
	},
	events.TypeNotificationRequested: {
		Topic:         TopicNotifications,
		SchemaSubject: TopicNotifications + "-value",
		Schema:        notificationRequestedSchema,
	},
}

// Record is an event to be appended to the outbox inside the caller's transaction.
type Record struct {
	TenantID      string
	AggregateType string
	AggregateID   string
	EventType     string
	// PartitionKey keeps events for one key ordered on their topic.
	PartitionKey string
	// DedupeKey prevents the same logical event from being enqueued twice.
	DedupeKey string
	Payload   any
}

// Insert appends rec to the outbox using tx. The event type must be known to the catalog.
func Insert(ctx context.Context, tx pgx.Tx, rec Record) error {
	meta, ok := eventCatalog[rec.EventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", rec.EventType)
	}
	body, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", rec.EventType, err)
	}

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		rec.TenantID,
		rec.AggregateType,
		rec.AggregateID,
		rec.EventType,
		meta.Topic,
		meta.SchemaSubject,
		rec.PartitionKey,
		body,
		nullIfEmpty(rec.DedupeKey),
	)
	return err
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
