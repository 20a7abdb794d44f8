package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"policypal/internal/models"
)

type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	FindByID(ctx context.Context, id string) (*models.Notification, error)
	Save(ctx context.Context, notification *models.Notification) error
	ListByUser(ctx context.Context, userID string, limit, offset int, unreadOnly bool) ([]models.Notification, error)
	FindDue(ctx context.Context, now time.Time) ([]models.Notification, error)
	FindRetryable(ctx context.Context, maxRetryCount int) ([]models.Notification, error)
	MarkAsRead(ctx context.Context, id, userID string, readAt time.Time) (bool, error)
	MarkAllAsRead(ctx context.Context, userID string, readAt time.Time) (int64, error)
	Delete(ctx context.Context, id, userID string) (bool, error)
	DeleteAll(ctx context.Context, userID string) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *notificationRepository) FindByID(ctx context.Context, id string) (*models.Notification, error) {
	var notification models.Notification
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&notification).Error
	if err != nil {
		return nil, err
	}
	return &notification, nil
}

func (r *notificationRepository) Save(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Save(notification).Error
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID string, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("is_read = false")
	}

	var notifications []models.Notification
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&notifications).Error
	return notifications, err
}

// FindDue returns pending notifications that are unscheduled or whose
// scheduled time has passed.
func (r *notificationRepository) FindDue(ctx context.Context, now time.Time) ([]models.Notification, error) {
	var notifications []models.Notification
	err := r.db.WithContext(ctx).
		Where("status = ?", models.StatusPending).
		Where("scheduled_at IS NULL OR scheduled_at <= ?", now).
		Find(&notifications).Error
	return notifications, err
}

// FindRetryable returns failed notifications still below the retry cap.
func (r *notificationRepository) FindRetryable(ctx context.Context, maxRetryCount int) ([]models.Notification, error) {
	var notifications []models.Notification
	err := r.db.WithContext(ctx).
		Where("status = ?", models.StatusFailed).
		Where("retry_count < ?", maxRetryCount).
		Find(&notifications).Error
	return notifications, err
}

func (r *notificationRepository) MarkAsRead(ctx context.Context, id, userID string, readAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND is_read = false", id, userID).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": readAt,
			"status":  models.StatusRead,
		})
	return result.RowsAffected > 0, result.Error
}

func (r *notificationRepository) MarkAllAsRead(ctx context.Context, userID string, readAt time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND is_read = false", userID).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": readAt,
			"status":  models.StatusRead,
		})
	return result.RowsAffected, result.Error
}

func (r *notificationRepository) Delete(ctx context.Context, id, userID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.Notification{})
	return result.RowsAffected > 0, result.Error
}

func (r *notificationRepository) DeleteAll(ctx context.Context, userID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.Notification{})
	return result.RowsAffected, result.Error
}
