package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"policypal/internal/models"
)

var ErrPreferencesNotFound = errors.New("notification preferences not found")

type PreferenceRepository interface {
	FindByUser(ctx context.Context, userID string) (*models.NotificationPreferences, error)
	Create(ctx context.Context, preferences *models.NotificationPreferences) error
	Save(ctx context.Context, preferences *models.NotificationPreferences) error
}

type preferenceRepository struct {
	db *gorm.DB
}

func NewPreferenceRepository(db *gorm.DB) PreferenceRepository {
	return &preferenceRepository{db: db}
}

func (r *preferenceRepository) FindByUser(ctx context.Context, userID string) (*models.NotificationPreferences, error) {
	var preferences models.NotificationPreferences
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&preferences).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPreferencesNotFound
	}
	if err != nil {
		return nil, err
	}
	return &preferences, nil
}

func (r *preferenceRepository) Create(ctx context.Context, preferences *models.NotificationPreferences) error {
	return r.db.WithContext(ctx).Create(preferences).Error
}

func (r *preferenceRepository) Save(ctx context.Context, preferences *models.NotificationPreferences) error {
	return r.db.WithContext(ctx).Save(preferences).Error
}
