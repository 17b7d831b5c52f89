package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"gorm.io/gorm"
)

type incidentRepository struct {
	db *gorm.DB
}

// NewIncidentRepository creates a new IncidentRepository.
func NewIncidentRepository(db *gorm.DB) IncidentRepository {
	return &incidentRepository{db: db}
}

// SaveIncident inserts or updates an incident row. The timeline is not
// written here; use AddTimelineEvent.
func (r *incidentRepository) SaveIncident(ctx context.Context, incident *entities.Incident) error {
	if incident.ID == "" {
		return fmt.Errorf("failed to save incident: missing incident ID")
	}
	if err := r.db.WithContext(ctx).Omit("Timeline").Save(incident).Error; err != nil {
		return fmt.Errorf("failed to save incident %s: %w", incident.ID, err)
	}
	return nil
}

// GetIncident returns an incident with its timeline in chronological order.
func (r *incidentRepository) GetIncident(ctx context.Context, id string) (*entities.Incident, error) {
	var incident entities.Incident
	err := r.db.WithContext(ctx).
		Preload("Timeline", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Where("id = ?", id).First(&incident).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIncidentNotFound
		}
		return nil, fmt.Errorf("failed to get incident %s: %w", id, err)
	}
	return &incident, nil
}

// UpdateStatus sets an incident's status, stamping resolved_at on resolve.
func (r *incidentRepository) UpdateStatus(ctx context.Context, id, status string) error {
	updates := map[string]any{"status": status}
	if status == entities.IncidentResolved {
		updates["resolved_at"] = time.Now()
	}
	result := r.db.WithContext(ctx).Model(&entities.Incident{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update incident %s status: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrIncidentNotFound
	}
	return nil
}

// ListOpen returns unresolved incidents. An empty tenantID lists all tenants.
func (r *incidentRepository) ListOpen(ctx context.Context, tenantID string) ([]entities.Incident, error) {
	var incidents []entities.Incident
	query := r.db.WithContext(ctx).Where("status <> ?", entities.IncidentResolved)
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	if err := query.Order("created_at ASC").Find(&incidents).Error; err != nil {
		return nil, fmt.Errorf("failed to list open incidents: %w", err)
	}
	return incidents, nil
}

// AddTimelineEvent appends an event to an incident's audit trail.
func (r *incidentRepository) AddTimelineEvent(ctx context.Context, event *entities.IncidentTimelineEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to add timeline event to incident %s: %w", event.IncidentID, err)
	}
	return nil
}

// ListTimeline returns an incident's events in chronological order.
func (r *incidentRepository) ListTimeline(ctx context.Context, incidentID string) ([]entities.IncidentTimelineEvent, error) {
	var events []entities.IncidentTimelineEvent
	if err := r.db.WithContext(ctx).Where("incident_id = ?", incidentID).
		Order("created_at ASC, id ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list timeline of incident %s: %w", incidentID, err)
	}
	return events, nil
}
