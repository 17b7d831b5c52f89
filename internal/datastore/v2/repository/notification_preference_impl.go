package repository

import (
	"context"
	"fmt"

	"github.com/aquasentinel/aquasentinel/internal/datastore/v2/entities"
	"github.com/aquasentinel/aquasentinel/internal/errors"
	"gorm.io/gorm"
)

type notificationPreferenceRepository struct {
	db *gorm.DB
}

// NewNotificationPreferenceRepository creates a new NotificationPreferenceRepository.
func NewNotificationPreferenceRepository(db *gorm.DB) NotificationPreferenceRepository {
	return &notificationPreferenceRepository{db: db}
}

// GetPreference returns a user's preferences or ErrPreferenceNotFound.
func (r *notificationPreferenceRepository) GetPreference(ctx context.Context, userID string) (*entities.NotificationPreference, error) {
	var pref entities.NotificationPreference
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&pref).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPreferenceNotFound
		}
		return nil, fmt.Errorf("failed to get notification preference for %s: %w", userID, err)
	}
	return &pref, nil
}

// SavePreference upserts a user's preferences.
func (r *notificationPreferenceRepository) SavePreference(ctx context.Context, pref *entities.NotificationPreference) error {
	if pref.UserID == "" {
		return fmt.Errorf("failed to save notification preference: missing user ID")
	}
	if err := r.db.WithContext(ctx).Save(pref).Error; err != nil {
		return fmt.Errorf("failed to save notification preference for %s: %w", pref.UserID, err)
	}
	return nil
}
