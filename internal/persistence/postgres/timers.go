// Package postgres implements the time-tracking stores on Postgres via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/timetracking/internal/domain"
	"example.com/timetracking/internal/outbox"
	"example.com/timetracking/pkg/events"
)

const uniqueViolation = "23505"

// Repository provides Postgres-backed persistence for timers, time entries and settings.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const timerColumns = `timer_id, organization_id, user_id, project_id, task_id, description, category, tags, is_billable, hourly_rate,
        start_time, total_paused_minutes, is_paused, paused_at, version, created_at, updated_at`

func scanTimer(row pgx.Row) (domain.ActiveTimer, error) {
	var t domain.ActiveTimer
	err := row.Scan(&t.ID, &t.OrganizationID, &t.UserID, &t.ProjectID, &t.TaskID, &t.Description, &t.Category, &t.Tags, &t.IsBillable, &t.HourlyRate,
		&t.StartTime, &t.TotalPausedMinutes, &t.IsPaused, &t.PausedAt, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// FindActive implements domain.TimerRepository.
func (r *Repository) FindActive(ctx context.Context, organizationID, userID string) (*domain.ActiveTimer, error) {
	var found *domain.ActiveTimer
	err := inTenant(ctx, r.pool, organizationID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+timerColumns+` FROM active_timers WHERE organization_id=$1 AND user_id=$2`, organizationID, userID)
		timer, err := scanTimer(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = &timer
		return nil
	})
	return found, err
}

// Insert implements domain.TimerRepository.
func (r *Repository) Insert(ctx context.Context, timer domain.ActiveTimer) error {
	err := inTenant(ctx, r.pool, timer.OrganizationID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO active_timers (`+timerColumns+`)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
			timer.ID, timer.OrganizationID, timer.UserID, timer.ProjectID, timer.TaskID, timer.Description, timer.Category, tagsOrEmpty(timer.Tags),
			timer.IsBillable, timer.HourlyRate, timer.StartTime, timer.TotalPausedMinutes, timer.IsPaused, timer.PausedAt, timer.Version,
			timer.CreatedAt, timer.UpdatedAt,
		)
		return err
	})
	if isUniqueViolation(err) {
		return domain.ErrTimerExists
	}
	return err
}

// Save implements domain.TimerRepository.
func (r *Repository) Save(ctx context.Context, timer domain.ActiveTimer, expectedVersion int64) (bool, error) {
	var saved bool
	err := inTenant(ctx, r.pool, timer.OrganizationID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE active_timers
            SET project_id=$3, task_id=$4, description=$5, category=$6, tags=$7, is_billable=$8, hourly_rate=$9,
                total_paused_minutes=$10, is_paused=$11, paused_at=$12, version=$13, updated_at=$14
            WHERE timer_id=$1 AND version=$2`,
			timer.ID, expectedVersion, timer.ProjectID, timer.TaskID, timer.Description, timer.Category, tagsOrEmpty(timer.Tags),
			timer.IsBillable, timer.HourlyRate, timer.TotalPausedMinutes, timer.IsPaused, timer.PausedAt, timer.Version, timer.UpdatedAt,
		)
		if err != nil {
			return err
		}
		saved = tag.RowsAffected() == 1
		return nil
	})
	return saved, err
}

// ListAll implements domain.TimerRepository.
func (r *Repository) ListAll(ctx context.Context) ([]domain.ActiveTimer, error) {
	var timers []domain.ActiveTimer
	err := acrossTenants(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+timerColumns+` FROM active_timers ORDER BY start_time`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			timer, err := scanTimer(rows)
			if err != nil {
				return err
			}
			timers = append(timers, timer)
		}
		return rows.Err()
	})
	return timers, err
}

// Complete implements domain.TimerRepository. The timer delete, entry insert and the
// time_entry.created outbox event commit together.
func (r *Repository) Complete(ctx context.Context, timer domain.ActiveTimer, entry domain.TimeEntry) (bool, error) {
	var deleted bool
	run := func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM active_timers WHERE timer_id=$1 AND version=$2`, timer.ID, timer.Version)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		_, err = tx.Exec(ctx, `INSERT INTO time_entries (entry_id, timer_id, organization_id, user_id, project_id, task_id, description, category, tags,
                is_billable, hourly_rate, start_time, end_time, duration_min, status, is_approved, source, created_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
			entry.ID, entry.TimerID, entry.OrganizationID, entry.UserID, entry.ProjectID, entry.TaskID, entry.Description, entry.Category,
			tagsOrEmpty(entry.Tags), entry.IsBillable, entry.HourlyRate, entry.StartTime, entry.EndTime, entry.DurationMin, string(entry.Status),
			entry.IsApproved, string(entry.Source), entry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert time entry: %w", err)
		}

		if err := outbox.Insert(ctx, tx, outbox.Record{
			TenantID:      entry.OrganizationID,
			AggregateType: "time_entry",
			AggregateID:   entry.ID,
			EventType:     events.TypeTimeEntryCreated,
			PartitionKey:  entry.OrganizationID + ":" + entry.UserID,
			DedupeKey:     "time_entry.created:" + entry.TimerID,
			Payload: events.TimeEntryCreated{
				EntryID:        entry.ID,
				TimerID:        entry.TimerID,
				OrganizationID: entry.OrganizationID,
				UserID:         entry.UserID,
				ProjectID:      entry.ProjectID,
				TaskID:         entry.TaskID,
				StartTime:      entry.StartTime,
				EndTime:        entry.EndTime,
				DurationMin:    entry.DurationMin,
				IsBillable:     entry.IsBillable,
				IsApproved:     entry.IsApproved,
				Source:         string(entry.Source),
			},
		}); err != nil {
			return fmt.Errorf("enqueue time entry event: %w", err)
		}
		deleted = true
		return nil
	}

	var err error
	if timer.OrganizationID == "" || timer.OrganizationID != entry.OrganizationID {
		err = acrossTenants(ctx, r.pool, run)
	} else {
		err = inTenant(ctx, r.pool, timer.OrganizationID, run)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return deleted, nil
}

// ListEntries implements domain.TimerRepository.
func (r *Repository) ListEntries(ctx context.Context, organizationID, userID string, cursor *domain.Cursor, limit int) ([]domain.TimeEntry, *domain.Cursor, error) {
	if limit <= 0 {
		limit = 50
	}
	args := []any{organizationID, userID, limit + 1}
	query := `SELECT entry_id, timer_id, organization_id, user_id, project_id, task_id, description, category, tags, is_billable, hourly_rate,
            start_time, end_time, duration_min, status, is_approved, source, created_at
        FROM time_entries WHERE organization_id=$1 AND user_id=$2`
	if cursor != nil {
		query += ` AND (start_time, entry_id) < ($4, $5)`
		args = append(args, cursor.StartTime, cursor.ID)
	}
	query += ` ORDER BY start_time DESC, entry_id DESC LIMIT $3`

	entries := make([]domain.TimeEntry, 0, limit)
	err := inTenant(ctx, r.pool, organizationID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var e domain.TimeEntry
			var status, source string
			if err := rows.Scan(&e.ID, &e.TimerID, &e.OrganizationID, &e.UserID, &e.ProjectID, &e.TaskID, &e.Description, &e.Category, &e.Tags,
				&e.IsBillable, &e.HourlyRate, &e.StartTime, &e.EndTime, &e.DurationMin, &status, &e.IsApproved, &source, &e.CreatedAt); err != nil {
				return err
			}
			e.Status = domain.EntryStatus(status)
			e.Source = domain.EntrySource(source)
			entries = append(entries, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(entries) > limit {
		entries = entries[:limit]
		last := entries[limit-1]
		next = &domain.Cursor{StartTime: last.StartTime, ID: last.ID}
	}
	return entries, next, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
