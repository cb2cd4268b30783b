package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/timetracking/internal/domain"
)

// GetOrganization implements domain.SettingsStore.
func (r *Repository) GetOrganization(ctx context.Context, organizationID string) (*domain.Organization, error) {
	var (
		org      = domain.Organization{ID: organizationID}
		settings []byte
	)
	err := r.pool.QueryRow(ctx, `SELECT name, settings FROM organizations WHERE organization_id=$1`, organizationID).Scan(&org.Name, &settings)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &org.Settings); err != nil {
			return nil, fmt.Errorf("decode organization %s settings: %w", organizationID, err)
		}
	}
	return &org, nil
}

// GetProject implements domain.SettingsStore.
func (r *Repository) GetProject(ctx context.Context, organizationID, projectID string) (*domain.Project, error) {
	query := `SELECT project_id, organization_id, settings FROM projects WHERE project_id=$1`
	args := []any{projectID}
	if organizationID != "" {
		query += ` AND organization_id=$2`
		args = append(args, organizationID)
	}

	var (
		project  domain.Project
		settings []byte
	)
	err := r.pool.QueryRow(ctx, query, args...).Scan(&project.ID, &project.OrganizationID, &settings)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &project.Settings); err != nil {
			return nil, fmt.Errorf("decode project %s settings: %w", projectID, err)
		}
	}
	return &project, nil
}

// GetProjectSettings implements domain.SettingsStore.
func (r *Repository) GetProjectSettings(ctx context.Context, organizationID, projectID string) (*domain.TimeTrackingSettings, error) {
	return r.timeTrackingSettings(ctx, organizationID, projectID)
}

// GetOrganizationSettings implements domain.SettingsStore.
func (r *Repository) GetOrganizationSettings(ctx context.Context, organizationID string) (*domain.TimeTrackingSettings, error) {
	return r.timeTrackingSettings(ctx, organizationID, "")
}

func (r *Repository) timeTrackingSettings(ctx context.Context, organizationID, projectID string) (*domain.TimeTrackingSettings, error) {
	var found *domain.TimeTrackingSettings
	err := inTenant(ctx, r.pool, organizationID, func(tx pgx.Tx) error {
		settings := domain.TimeTrackingSettings{OrganizationID: organizationID, ProjectID: projectID}
		var rounding []byte
		err := tx.QueryRow(ctx, `SELECT max_session_hours, allow_overtime, require_approval, rounding
            FROM time_tracking_settings WHERE organization_id=$1 AND project_id=$2`, organizationID, projectID).
			Scan(&settings.MaxSessionHours, &settings.AllowOvertime, &settings.RequireApproval, &rounding)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(rounding) > 0 {
			var rules domain.RoundingRules
			if err := json.Unmarshal(rounding, &rules); err != nil {
				return fmt.Errorf("decode rounding rules: %w", err)
			}
			settings.Rounding = &rules
		}
		found = &settings
		return nil
	})
	return found, err
}

// CategoryEnabled implements domain.NotificationPreferences. A project row wins over the
// organization row; no row means enabled.
func (r *Repository) CategoryEnabled(ctx context.Context, organizationID, projectID string, category domain.NotificationCategory) (bool, error) {
	enabled := true
	err := inTenant(ctx, r.pool, organizationID, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT enabled FROM notification_settings
            WHERE organization_id=$1 AND category=$3 AND project_id IN ($2, '')
            ORDER BY project_id = '' LIMIT 1`, organizationID, projectID, string(category)).Scan(&enabled)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	})
	return enabled, err
}

// UpsertOrganization creates or replaces an organization and its settings document.
func (r *Repository) UpsertOrganization(ctx context.Context, org domain.Organization) error {
	settings, err := json.Marshal(org.Settings)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO organizations (organization_id, name, settings) VALUES ($1,$2,$3)
        ON CONFLICT (organization_id) DO UPDATE SET name=EXCLUDED.name, settings=EXCLUDED.settings`, org.ID, org.Name, settings)
	return err
}

// UpsertProject creates or replaces a project.
func (r *Repository) UpsertProject(ctx context.Context, project domain.Project) error {
	settings, err := json.Marshal(project.Settings)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO projects (project_id, organization_id, settings) VALUES ($1,$2,$3)
        ON CONFLICT (project_id) DO UPDATE SET organization_id=EXCLUDED.organization_id, settings=EXCLUDED.settings`,
		project.ID, project.OrganizationID, settings)
	return err
}

// UpsertSettings stores a time tracking settings record. An empty ProjectID targets the organization.
func (r *Repository) UpsertSettings(ctx context.Context, settings domain.TimeTrackingSettings) error {
	var rounding []byte
	if settings.Rounding != nil {
		encoded, err := json.Marshal(settings.Rounding)
		if err != nil {
			return err
		}
		rounding = encoded
	}
	return inTenant(ctx, r.pool, settings.OrganizationID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO time_tracking_settings (organization_id, project_id, max_session_hours, allow_overtime, require_approval, rounding, updated_at)
            VALUES ($1,$2,$3,$4,$5,$6,NOW())
            ON CONFLICT (organization_id, project_id) DO UPDATE SET
                max_session_hours=EXCLUDED.max_session_hours,
                allow_overtime=EXCLUDED.allow_overtime,
                require_approval=EXCLUDED.require_approval,
                rounding=EXCLUDED.rounding,
                updated_at=NOW()`,
			settings.OrganizationID, settings.ProjectID, settings.MaxSessionHours, settings.AllowOvertime, settings.RequireApproval, rounding)
		return err
	})
}

// SetNotificationEnabled toggles a notification category. An empty projectID targets the organization.
func (r *Repository) SetNotificationEnabled(ctx context.Context, organizationID, projectID string, category domain.NotificationCategory, enabled bool) error {
	return inTenant(ctx, r.pool, organizationID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO notification_settings (organization_id, project_id, category, enabled, updated_at)
            VALUES ($1,$2,$3,$4,NOW())
            ON CONFLICT (organization_id, project_id, category) DO UPDATE SET enabled=EXCLUDED.enabled, updated_at=NOW()`,
			organizationID, projectID, string(category), enabled)
		return err
	})
}
