//go:build integration

package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"example.com/timetracking/internal/testsupport"
	"example.com/timetracking/pkg/events"
)

func TestDispatcherPublishesMessages(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)

	seedRecord(t, ctx, pool, "org-1", "dedupe-1")

	producer := &stubProducer{}
	dispatcher := NewDispatcher(pool, producer, 10*time.Millisecond, 5, WithSchemaRegistry(&stubRegistry{id: 42}))

	beforeDelivered := testutil.ToFloat64(deliveredCounter)
	beforeHistogram := histogramSampleCount(t)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 1)
	require.Equal(t, TopicNotifications, producer.writes[0].topic)
	require.InDelta(t, beforeDelivered+1, testutil.ToFloat64(deliveredCounter), 0.0001)
	require.Greater(t, histogramSampleCount(t), beforeHistogram)
	require.Equal(t, 1, countRows(t, ctx, pool, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`))

	require.NoError(t, dispatcher.processBatch(ctx))
	require.Len(t, producer.writes, 1, "published rows are not redelivered")
}

func TestInsertIgnoresDuplicateDedupeKey(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)

	seedRecord(t, ctx, pool, "org-1", "dedupe-1")
	seedRecord(t, ctx, pool, "org-1", "dedupe-1")

	require.Equal(t, 1, countRows(t, ctx, pool, `SELECT COUNT(*) FROM outbox`))
}

func TestDispatcherRoutesFailuresThroughDLQ(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)

	seedRecord(t, ctx, pool, "org-1", "dedupe-1")

	dispatcher := NewDispatcher(pool, &stubProducer{err: errors.New("kafka write failed")}, 10*time.Millisecond, 5)
	beforeDLQ := testutil.ToFloat64(dlqCounter.WithLabelValues(TopicNotifications))

	require.NoError(t, dispatcher.processBatch(ctx))
	require.InDelta(t, beforeDLQ+1, testutil.ToFloat64(dlqCounter.WithLabelValues(TopicNotifications)), 0.0001)
	require.Equal(t, 1, countRows(t, ctx, pool, `SELECT COUNT(*) FROM outbox_dlq`))

	manager := NewDLQManager(pool, 3, time.Millisecond, nil)
	requeued, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, requeued)
	require.Equal(t, 0, countRows(t, ctx, pool, `SELECT COUNT(*) FROM outbox_dlq`))
	require.Equal(t, 1, countRows(t, ctx, pool, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`))

	producer := &stubProducer{}
	replay := NewDispatcher(pool, producer, 10*time.Millisecond, 5)
	require.NoError(t, replay.processBatch(ctx))
	require.Len(t, producer.writes, 1)
}

func TestBatchDurationCoversDelivery(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)
	seedRecord(t, ctx, pool, "org-1", "dedupe-slow")

	countBefore, sumBefore := histogramSampleCount(t), histogramSampleSum(t)
	dispatcher := NewDispatcher(pool, &stubProducer{delay: 200 * time.Millisecond}, 10*time.Millisecond, 5)
	require.NoError(t, dispatcher.processBatch(ctx))

	require.Equal(t, countBefore+1, histogramSampleCount(t))
	require.GreaterOrEqual(t, histogramSampleSum(t)-sumBefore, 0.2, "observed duration includes the Kafka write")
}

func TestDLQManagerQuarantinesExhaustedEntries(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)

	seedRecord(t, ctx, pool, "org-1", "dedupe-1")
	dispatcher := NewDispatcher(pool, &stubProducer{err: errors.New("down")}, 10*time.Millisecond, 5)
	require.NoError(t, dispatcher.processBatch(ctx))

	_, err := pool.Exec(ctx, `UPDATE outbox_dlq SET retry_count = 5`)
	require.NoError(t, err)

	manager := NewDLQManager(pool, 5, time.Millisecond, nil)
	requeued, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, requeued)
	require.Equal(t, 1, countRows(t, ctx, pool, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NOT NULL`))
}

func seedRecord(t *testing.T, ctx context.Context, pool *pgxpool.Pool, tenantID, dedupeKey string) {
	t.Helper()

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
			return err
		}
		return Insert(ctx, tx, Record{
			TenantID:      tenantID,
			AggregateType: "notification",
			AggregateID:   "n-1",
			EventType:     events.TypeNotificationRequested,
			PartitionKey:  tenantID + ":user-1",
			DedupeKey:     dedupeKey,
			Payload:       events.NotificationRequested{NotificationID: "n-1", OrganizationID: tenantID, UserID: "user-1"},
		})
	})
	require.NoError(t, err)
}

func countRows(t *testing.T, ctx context.Context, pool *pgxpool.Pool, query string) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(ctx, query).Scan(&n))
	return n
}

func histogramSampleCount(t *testing.T) uint64 {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, batchDuration.Write(metric))
	hist := metric.GetHistogram()
	require.NotNil(t, hist)
	return hist.GetSampleCount()
}

func histogramSampleSum(t *testing.T) float64 {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, batchDuration.Write(metric))
	return metric.GetHistogram().GetSampleSum()
}
