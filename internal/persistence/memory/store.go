// Package memory provides an in-process store for local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"example.com/timetracking/internal/domain"
	"example.com/timetracking/internal/persistence"
)

// Store keeps timers, entries and settings in memory. It implements domain.TimerRepository,
// domain.SettingsStore and domain.NotificationPreferences.
type Store struct {
	mu sync.RWMutex

	timers  map[string]domain.ActiveTimer // by timer id
	slots   map[slotKey]string            // (organization, user) to timer id
	entries map[string]domain.TimeEntry   // by entry id
	byTimer map[string]string             // timer id to entry id

	organizations   map[string]domain.Organization
	projects        map[string]domain.Project
	orgSettings     map[string]domain.TimeTrackingSettings
	projectSettings map[slotKey]domain.TimeTrackingSettings
	notifications   map[notificationKey]bool

	completeErr error
	beforeSave  func(domain.ActiveTimer)
}

type slotKey struct {
	scope string
	id    string
}

type notificationKey struct {
	organizationID string
	projectID      string
	category       domain.NotificationCategory
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		timers:          make(map[string]domain.ActiveTimer),
		slots:           make(map[slotKey]string),
		entries:         make(map[string]domain.TimeEntry),
		byTimer:         make(map[string]string),
		organizations:   make(map[string]domain.Organization),
		projects:        make(map[string]domain.Project),
		orgSettings:     make(map[string]domain.TimeTrackingSettings),
		projectSettings: make(map[slotKey]domain.TimeTrackingSettings),
		notifications:   make(map[notificationKey]bool),
	}
}

// FindActive implements domain.TimerRepository.
func (s *Store) FindActive(ctx context.Context, organizationID, userID string) (*domain.ActiveTimer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.slots[slotKey{organizationID, userID}]
	if !ok {
		return nil, nil
	}
	timer := s.timers[id].Clone()
	return &timer, nil
}

// Insert implements domain.TimerRepository.
func (s *Store) Insert(ctx context.Context, timer domain.ActiveTimer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := slotKey{timer.OrganizationID, timer.UserID}
	if _, taken := s.slots[key]; taken {
		return domain.ErrTimerExists
	}
	s.timers[timer.ID] = timer.Clone()
	s.slots[key] = timer.ID
	return nil
}

// Save implements domain.TimerRepository.
func (s *Store) Save(ctx context.Context, timer domain.ActiveTimer, expectedVersion int64) (bool, error) {
	s.mu.RLock()
	hook := s.beforeSave
	s.mu.RUnlock()
	if hook != nil {
		hook(timer)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.timers[timer.ID]
	if !ok || stored.Version != expectedVersion {
		return false, nil
	}
	s.timers[timer.ID] = timer.Clone()
	return true, nil
}

// ListAll implements domain.TimerRepository.
func (s *Store) ListAll(ctx context.Context) ([]domain.ActiveTimer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ActiveTimer, 0, len(s.timers))
	for _, timer := range s.timers {
		out = append(out, timer.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

// Complete implements domain.TimerRepository.
func (s *Store) Complete(ctx context.Context, timer domain.ActiveTimer, entry domain.TimeEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.timers[timer.ID]
	if !ok || stored.Version != timer.Version {
		return false, nil
	}
	// Tenant scoping: a Postgres delete under row level security cannot see the row either.
	if stored.OrganizationID != timer.OrganizationID {
		return false, nil
	}
	if s.completeErr != nil {
		return false, s.completeErr
	}
	if _, dup := s.byTimer[timer.ID]; dup {
		return false, nil
	}

	delete(s.timers, timer.ID)
	delete(s.slots, slotKey{stored.OrganizationID, stored.UserID})
	entry.Tags = append([]string(nil), entry.Tags...)
	s.entries[entry.ID] = entry
	s.byTimer[timer.ID] = entry.ID
	return true, nil
}

// ListEntries implements domain.TimerRepository.
func (s *Store) ListEntries(ctx context.Context, organizationID, userID string, cursor *domain.Cursor, limit int) ([]domain.TimeEntry, *domain.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.TimeEntry, 0)
	for _, entry := range s.entries {
		if entry.OrganizationID != organizationID || entry.UserID != userID {
			continue
		}
		if !persistence.After(cursor, entry.StartTime, entry.ID) {
			continue
		}
		matched = append(matched, entry)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StartTime.Equal(matched[j].StartTime) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].StartTime.After(matched[j].StartTime)
	})

	var next *domain.Cursor
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
		last := matched[limit-1]
		next = &domain.Cursor{StartTime: last.StartTime, ID: last.ID}
	}
	return matched, next, nil
}

// GetOrganization implements domain.SettingsStore.
func (s *Store) GetOrganization(ctx context.Context, organizationID string) (*domain.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, ok := s.organizations[organizationID]
	if !ok {
		return nil, nil
	}
	return &org, nil
}

// GetProject implements domain.SettingsStore.
func (s *Store) GetProject(ctx context.Context, organizationID, projectID string) (*domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	project, ok := s.projects[projectID]
	if !ok {
		return nil, nil
	}
	if organizationID != "" && project.OrganizationID != organizationID {
		return nil, nil
	}
	return &project, nil
}

// GetProjectSettings implements domain.SettingsStore.
func (s *Store) GetProjectSettings(ctx context.Context, organizationID, projectID string) (*domain.TimeTrackingSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, ok := s.projectSettings[slotKey{organizationID, projectID}]
	if !ok {
		return nil, nil
	}
	return &settings, nil
}

// GetOrganizationSettings implements domain.SettingsStore.
func (s *Store) GetOrganizationSettings(ctx context.Context, organizationID string) (*domain.TimeTrackingSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, ok := s.orgSettings[organizationID]
	if !ok {
		return nil, nil
	}
	return &settings, nil
}

// CategoryEnabled implements domain.NotificationPreferences.
func (s *Store) CategoryEnabled(ctx context.Context, organizationID, projectID string, category domain.NotificationCategory) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if projectID != "" {
		if enabled, ok := s.notifications[notificationKey{organizationID, projectID, category}]; ok {
			return enabled, nil
		}
	}
	if enabled, ok := s.notifications[notificationKey{organizationID, "", category}]; ok {
		return enabled, nil
	}
	return true, nil
}

// PutTimer stores timer as-is, replacing any timer in the same slot.
func (s *Store) PutTimer(timer domain.ActiveTimer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := slotKey{timer.OrganizationID, timer.UserID}
	if previous, ok := s.slots[key]; ok {
		delete(s.timers, previous)
	}
	s.timers[timer.ID] = timer.Clone()
	s.slots[key] = timer.ID
}

// PutOrganization registers an organization.
func (s *Store) PutOrganization(org domain.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.organizations[org.ID] = org
}

// PutProject registers a project.
func (s *Store) PutProject(project domain.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[project.ID] = project
}

// PutSettings stores a time tracking settings record. Records with a ProjectID are project scoped.
func (s *Store) PutSettings(settings domain.TimeTrackingSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if settings.ProjectID != "" {
		s.projectSettings[slotKey{settings.OrganizationID, settings.ProjectID}] = settings
		return
	}
	s.orgSettings[settings.OrganizationID] = settings
}

// SetNotificationEnabled toggles a category. An empty projectID targets the organization.
func (s *Store) SetNotificationEnabled(organizationID, projectID string, category domain.NotificationCategory, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[notificationKey{organizationID, projectID, category}] = enabled
}

// FailCompleteWith makes Complete fail with err, leaving the timer in place. A nil err clears it.
func (s *Store) FailCompleteWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completeErr = err
}

// BeforeSave installs a hook invoked before every conditional save.
func (s *Store) BeforeSave(fn func(domain.ActiveTimer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeSave = fn
}

// Entries returns every stored time entry.
func (s *Store) Entries() []domain.TimeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TimeEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
