package domain

import (
	"context"
	"fmt"
)

// RoundingRules governs how a raw duration is quantized.
type RoundingRules struct {
	Enabled          bool `json:"enabled"`
	IncrementMinutes int  `json:"incrementMinutes"`
	RoundUp          bool `json:"roundUp"`
}

// TimeTrackingSettings is a stored policy record. ProjectID is empty for organization-scoped records.
// Every field is optional so that partially filled records can fall through to other sources.
type TimeTrackingSettings struct {
	OrganizationID  string
	ProjectID       string
	MaxSessionHours *float64
	AllowOvertime   *bool
	RequireApproval *bool
	Rounding        *RoundingRules
}

// LegacyTimeTrackingSettings is the blob embedded on older organization documents.
type LegacyTimeTrackingSettings struct {
	MaxSessionHours *float64       `json:"maxSessionHours,omitempty"`
	AllowOvertime   *bool          `json:"allowOvertime,omitempty"`
	RequireApproval *bool          `json:"requireApproval,omitempty"`
	Rounding        *RoundingRules `json:"roundingRules,omitempty"`
}

// OrganizationSettings is the settings document stored on an organization.
type OrganizationSettings struct {
	TimeTracking *LegacyTimeTrackingSettings `json:"timeTracking,omitempty"`
}

// Organization is the read-only view of a tenant needed for policy resolution.
type Organization struct {
	ID       string
	Name     string
	Settings OrganizationSettings
}

// ProjectSettings is the settings document stored on a project.
type ProjectSettings struct {
	RequireApproval *bool `json:"requireApproval,omitempty"`
}

// Project is the read-only view of a project needed for policy resolution.
type Project struct {
	ID             string
	OrganizationID string
	Settings       ProjectSettings
}

// SettingsStore provides read-only lookups. Each getter returns nil, nil when the record is absent.
// GetProject accepts an empty organizationID and then looks the project up by id alone.
type SettingsStore interface {
	GetOrganization(ctx context.Context, organizationID string) (*Organization, error)
	GetProject(ctx context.Context, organizationID, projectID string) (*Project, error)
	GetProjectSettings(ctx context.Context, organizationID, projectID string) (*TimeTrackingSettings, error)
	GetOrganizationSettings(ctx context.Context, organizationID string) (*TimeTrackingSettings, error)
}

// PolicySource names the tier that supplied an effective policy.
type PolicySource string

const (
	PolicySourceProject      PolicySource = "project"
	PolicySourceOrganization PolicySource = "organization"
	PolicySourceLegacy       PolicySource = "legacy"
	PolicySourceDefault      PolicySource = "default"
)

// EffectiveTimePolicy is the resolved rule set for an (organization, project) pair.
type EffectiveTimePolicy struct {
	OrganizationID  string
	ProjectID       string
	Source          PolicySource
	MaxSessionHours *float64
	AllowOvertime   bool
	Rounding        RoundingRules

	// OrganizationRequireApproval and ProjectRequireApproval are resolved independently; a project
	// can be stricter than its organization.
	OrganizationRequireApproval bool
	ProjectRequireApproval      bool
}

// RequiresApproval reports whether entries produced under this policy need approval.
func (p EffectiveTimePolicy) RequiresApproval() bool {
	return p.OrganizationRequireApproval || p.ProjectRequireApproval
}

// SessionCapMinutes returns the enforced session cap. ok is false when there is no cap or overtime
// is allowed.
func (p EffectiveTimePolicy) SessionCapMinutes() (minutes float64, ok bool) {
	if p.MaxSessionHours == nil || *p.MaxSessionHours <= 0 || p.AllowOvertime {
		return 0, false
	}
	return *p.MaxSessionHours * 60, true
}

// PolicyResolver merges the project, organization, legacy and default tiers into one policy.
// It never writes.
type PolicyResolver struct {
	store SettingsStore
}

// NewPolicyResolver constructs a PolicyResolver.
func NewPolicyResolver(store SettingsStore) *PolicyResolver {
	return &PolicyResolver{store: store}
}

// Resolve returns the effective policy. A nil policy with a nil error means the organization does
// not exist and callers must skip enforcement.
func (r *PolicyResolver) Resolve(ctx context.Context, organizationID, projectID string) (*EffectiveTimePolicy, error) {
	org, err := r.store.GetOrganization(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("load organization %s: %w", organizationID, err)
	}
	if org == nil {
		return nil, nil
	}

	policy := &EffectiveTimePolicy{
		OrganizationID: organizationID,
		ProjectID:      projectID,
		Source:         PolicySourceDefault,
	}

	var chosen *TimeTrackingSettings
	if projectID != "" {
		projectSettings, err := r.store.GetProjectSettings(ctx, organizationID, projectID)
		if err != nil {
			return nil, fmt.Errorf("load project settings %s: %w", projectID, err)
		}
		if projectSettings != nil {
			chosen = projectSettings
			policy.Source = PolicySourceProject
		}
		if projectSettings != nil && projectSettings.RequireApproval != nil {
			policy.ProjectRequireApproval = *projectSettings.RequireApproval
		} else {
			project, err := r.store.GetProject(ctx, organizationID, projectID)
			if err != nil {
				return nil, fmt.Errorf("load project %s: %w", projectID, err)
			}
			if project != nil && project.Settings.RequireApproval != nil {
				policy.ProjectRequireApproval = *project.Settings.RequireApproval
			}
		}
	}

	orgSettings, err := r.store.GetOrganizationSettings(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("load organization settings %s: %w", organizationID, err)
	}
	legacy := org.Settings.TimeTracking

	if chosen == nil && orgSettings != nil {
		chosen = orgSettings
		policy.Source = PolicySourceOrganization
	}
	if chosen == nil && legacy != nil {
		chosen = &TimeTrackingSettings{
			OrganizationID:  organizationID,
			MaxSessionHours: legacy.MaxSessionHours,
			AllowOvertime:   legacy.AllowOvertime,
			RequireApproval: legacy.RequireApproval,
			Rounding:        legacy.Rounding,
		}
		policy.Source = PolicySourceLegacy
	}

	if chosen != nil {
		policy.MaxSessionHours = chosen.MaxSessionHours
		if chosen.AllowOvertime != nil {
			policy.AllowOvertime = *chosen.AllowOvertime
		}
		if chosen.Rounding != nil {
			policy.Rounding = *chosen.Rounding
		}
	}

	switch {
	case orgSettings != nil && orgSettings.RequireApproval != nil:
		policy.OrganizationRequireApproval = *orgSettings.RequireApproval
	case legacy != nil && legacy.RequireApproval != nil:
		policy.OrganizationRequireApproval = *legacy.RequireApproval
	}

	return policy, nil
}
