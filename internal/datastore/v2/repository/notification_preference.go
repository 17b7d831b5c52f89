package repository

import (
	"context"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
)

// NotificationPreferenceRepository stores per-user notification settings.
type NotificationPreferenceRepository interface {
	GetPreference(ctx context.Context, userID string) (*entities.NotificationPreference, error)
	SavePreference(ctx context.Context, pref *entities.NotificationPreference) error
}
