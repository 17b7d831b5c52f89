package repository

import (
	"context"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
)

// IncidentRepository persists incidents and their timelines.
type IncidentRepository interface {
	SaveIncident(ctx context.Context, incident *entities.Incident) error
	GetIncident(ctx context.Context, id string) (*entities.Incident, error)
	UpdateStatus(ctx context.Context, id, status string) error
	ListOpen(ctx context.Context, tenantID string) ([]entities.Incident, error)
	AddTimelineEvent(ctx context.Context, event *entities.IncidentTimelineEvent) error
	ListTimeline(ctx context.Context, incidentID string) ([]entities.IncidentTimelineEvent, error)
}
