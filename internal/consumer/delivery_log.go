package consumer

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeliveryLog wraps a Handler so each event id is handled at most once per log. The log row and the
// handler outcome commit together: a failed handle leaves no row behind and may be retried.
type DeliveryLog struct {
	pool *pgxpool.Pool
	next Handler
}

// NewDeliveryLog constructs a DeliveryLog backed by the provided pool.
func NewDeliveryLog(pool *pgxpool.Pool, next Handler) *DeliveryLog {
	return &DeliveryLog{pool: pool, next: next}
}

// Handle implements Handler. Messages without an event id pass straight through.
func (l *DeliveryLog) Handle(ctx context.Context, msg Message) error {
	if msg.EventID == "" {
		return l.next.Handle(ctx, msg)
	}

	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", msg.TenantID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO notification_deliveries (event_id, tenant_id, event_type, topic, partition, record_offset, delivered_at)
             VALUES ($1,$2,$3,$4,$5,$6,NOW())
             ON CONFLICT (event_id) DO NOTHING`,
			msg.EventID, msg.TenantID, msg.EventType, msg.Topic, msg.Partition, msg.Offset,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			recordDuplicate(msg)
			return nil
		}
		return l.next.Handle(ctx, msg)
	})
}
