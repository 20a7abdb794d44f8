package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"policypal/internal/config"
	"policypal/internal/gateway"
	"policypal/internal/models"
	"policypal/internal/repository"
)

// Pusher delivers a payload to every live connection in a room. The in-process
// hub and the redis-backed bridge both satisfy it.
type Pusher interface {
	PushToRoom(ctx context.Context, room string, payload interface{}) error
}

// Emailer is the slice of the email dispatcher the orchestrator needs.
type Emailer interface {
	SendNotificationEmail(ctx context.Context, to string, notification *models.Notification, user *models.User) bool
}

// CreateNotificationInput is the producer contract. Policy, compliance and AI
// chat modules call CreateNotification with this and consume nothing back
// except the created record (or nil on a preference-driven skip).
type CreateNotificationInput struct {
	UserID             string                      `json:"user_id"`
	Type               models.NotificationType     `json:"type" binding:"required"`
	Title              string                      `json:"title" binding:"required"`
	Message            string                      `json:"message" binding:"required"`
	Priority           models.NotificationPriority `json:"priority"`
	Channel            models.NotificationChannel  `json:"channel"`
	Metadata           models.Metadata             `json:"metadata"`
	ScheduledAt        *time.Time                  `json:"scheduled_at"`
	PolicyID           string                      `json:"policy_id"`
	ChatSessionID      string                      `json:"chat_session_id"`
	ComplianceReportID string                      `json:"compliance_report_id"`
}

type NotificationService struct {
	notifications repository.NotificationRepository
	preferences   repository.PreferenceRepository
	users         repository.UserRepository
	pusher        Pusher
	emailer       Emailer
	logger        *zap.Logger

	sweepInterval time.Duration
	maxRetryCount int
}

func NewNotificationService(
	cfg *config.Config,
	notifications repository.NotificationRepository,
	preferences repository.PreferenceRepository,
	users repository.UserRepository,
	pusher Pusher,
	emailer Emailer,
	logger *zap.Logger,
) *NotificationService {
	return &NotificationService{
		notifications: notifications,
		preferences:   preferences,
		users:         users,
		pusher:        pusher,
		emailer:       emailer,
		logger:        logger,
		sweepInterval: cfg.SweepInterval,
		maxRetryCount: cfg.MaxRetryCount,
	}
}

// CreateNotification persists a pending record and, unless it is scheduled for
// the future, processes it before returning. A nil record with a nil error
// means the user's preferences disabled every channel for this type and
// nothing was persisted. Delivery failures are absorbed here: the caller only
// learns about them through the stored status.
func (s *NotificationService) CreateNotification(ctx context.Context, input *CreateNotificationInput) (*models.Notification, error) {
	preferences, err := s.GetPreferences(ctx, input.UserID)
	if err != nil {
		return nil, err
	}

	if !shouldCreate(input.Type, preferences) {
		s.logger.Info("Skipping notification, preferences disabled",
			zap.String("user_id", input.UserID),
			zap.String("type", string(input.Type)),
		)
		return nil, nil
	}

	notification := &models.Notification{
		ID:                 uuid.NewString(),
		UserID:             input.UserID,
		Type:               input.Type,
		Title:              input.Title,
		Message:            input.Message,
		Priority:           input.Priority,
		Channel:            input.Channel,
		Status:             models.StatusPending,
		Metadata:           input.Metadata,
		ScheduledAt:        input.ScheduledAt,
		PolicyID:           input.PolicyID,
		ChatSessionID:      input.ChatSessionID,
		ComplianceReportID: input.ComplianceReportID,
		CreatedAt:          time.Now(),
	}
	if notification.Priority == "" {
		notification.Priority = models.PriorityMedium
	}
	if notification.Channel == "" {
		notification.Channel = models.ChannelBoth
	}
	if notification.Metadata == nil {
		notification.Metadata = models.Metadata{}
	}

	if err := s.notifications.Create(ctx, notification); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	s.logger.Info("Created notification",
		zap.String("notification_id", notification.ID),
		zap.String("user_id", notification.UserID),
	)

	if notification.ScheduledAt != nil && notification.ScheduledAt.After(time.Now()) {
		s.logger.Info("Notification scheduled for later",
			zap.String("notification_id", notification.ID),
			zap.Time("scheduled_at", *notification.ScheduledAt),
		)
		return notification, nil
	}

	s.ProcessNotification(ctx, notification)
	return notification, nil
}

// ProcessNotification attempts delivery on every channel the user's
// preferences permit and records the outcome on the notification. Channel
// failures never propagate: the record moves to failed with an error message
// and an incremented retry count, and the sweep may pick it up again.
func (s *NotificationService) ProcessNotification(ctx context.Context, notification *models.Notification) {
	preferences, err := s.GetPreferences(ctx, notification.UserID)
	if err != nil {
		s.recordFailure(ctx, notification, err)
		return
	}

	if shouldSendInApp(notification.Type, preferences) {
		if err := s.sendInApp(ctx, notification); err != nil {
			s.recordFailure(ctx, notification, err)
			return
		}
	}

	if shouldSendEmail(notification.Type, preferences) {
		if err := s.sendEmail(ctx, notification); err != nil {
			s.recordFailure(ctx, notification, err)
			return
		}
	}

	if !notification.Status.CanTransitionTo(models.StatusSent) {
		// A concurrent sweep already moved the record forward.
		s.logger.Warn("Skipping status update, transition not allowed",
			zap.String("notification_id", notification.ID),
			zap.String("status", string(notification.Status)),
		)
		return
	}

	now := time.Now()
	notification.Status = models.StatusSent
	notification.SentAt = &now
	if err := s.notifications.Save(ctx, notification); err != nil {
		s.logger.Error("Failed to persist sent status",
			zap.String("notification_id", notification.ID),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("Processed notification",
		zap.String("notification_id", notification.ID),
		zap.String("user_id", notification.UserID),
	)
}

func (s *NotificationService) sendInApp(ctx context.Context, notification *models.Notification) error {
	payload := map[string]interface{}{
		"id":        notification.ID,
		"type":      notification.Type,
		"title":     notification.Title,
		"message":   notification.Message,
		"priority":  notification.Priority,
		"metadata":  notification.Metadata,
		"createdAt": notification.CreatedAt,
		"isRead":    false,
	}

	if err := s.pusher.PushToRoom(ctx, gateway.UserRoom(notification.UserID), payload); err != nil {
		return fmt.Errorf("in-app push: %w", err)
	}

	s.logger.Info("Sent in-app notification",
		zap.String("notification_id", notification.ID),
		zap.String("user_id", notification.UserID),
	)
	return nil
}

func (s *NotificationService) sendEmail(ctx context.Context, notification *models.Notification) error {
	user := s.userFor(ctx, notification.UserID)

	if !s.emailer.SendNotificationEmail(ctx, user.Email, notification, user) {
		return errors.New("email delivery failed")
	}

	now := time.Now()
	notification.DeliveredAt = &now
	s.logger.Info("Sent email notification",
		zap.String("notification_id", notification.ID),
		zap.String("user_id", notification.UserID),
	)
	return nil
}

// userFor resolves the recipient's profile for email templating, falling back
// to a placeholder when the user record cannot be read.
func (s *NotificationService) userFor(ctx context.Context, userID string) *models.User {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		s.logger.Warn("Failed to resolve user, using placeholder",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return &models.User{
			ID:        userID,
			Email:     fmt.Sprintf("user%s@example.com", userID),
			FirstName: "User",
			LastName:  "Name",
		}
	}
	return user
}

func (s *NotificationService) recordFailure(ctx context.Context, notification *models.Notification, cause error) {
	s.logger.Error("Failed to process notification",
		zap.String("notification_id", notification.ID),
		zap.Error(cause),
	)

	if !notification.Status.CanTransitionTo(models.StatusFailed) {
		return
	}

	notification.Status = models.StatusFailed
	notification.ErrorMessage = cause.Error()
	notification.RetryCount++
	if err := s.notifications.Save(ctx, notification); err != nil {
		s.logger.Error("Failed to persist failed status",
			zap.String("notification_id", notification.ID),
			zap.Error(err),
		)
	}
}

func (s *NotificationService) GetUserNotifications(ctx context.Context, userID string, limit, offset int, unreadOnly bool) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.notifications.ListByUser(ctx, userID, limit, offset, unreadOnly)
}

// MarkAsRead reports true iff a matching unread record existed and was
// updated; a second call for the same id reports false.
func (s *NotificationService) MarkAsRead(ctx context.Context, id, userID string) (bool, error) {
	updated, err := s.notifications.MarkAsRead(ctx, id, userID, time.Now())
	if err != nil {
		return false, err
	}
	if updated {
		s.logger.Info("Marked notification as read",
			zap.String("notification_id", id),
			zap.String("user_id", userID),
		)
	}
	return updated, nil
}

func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	count, err := s.notifications.MarkAllAsRead(ctx, userID, time.Now())
	if err != nil {
		return 0, err
	}
	s.logger.Info("Marked notifications as read",
		zap.String("user_id", userID),
		zap.Int64("count", count),
	)
	return count, nil
}

func (s *NotificationService) DeleteNotification(ctx context.Context, id, userID string) (bool, error) {
	deleted, err := s.notifications.Delete(ctx, id, userID)
	if err != nil {
		return false, err
	}
	if !deleted {
		s.logger.Warn("Notification not found for delete",
			zap.String("notification_id", id),
			zap.String("user_id", userID),
		)
	}
	return deleted, nil
}

func (s *NotificationService) DeleteAllNotifications(ctx context.Context, userID string) (int64, error) {
	return s.notifications.DeleteAll(ctx, userID)
}

// GetPreferences returns the user's preference record, creating one with
// defaults on first access.
func (s *NotificationService) GetPreferences(ctx context.Context, userID string) (*models.NotificationPreferences, error) {
	preferences, err := s.preferences.FindByUser(ctx, userID)
	if err == nil {
		return preferences, nil
	}
	if !errors.Is(err, repository.ErrPreferencesNotFound) {
		return nil, err
	}

	preferences = models.DefaultPreferences(userID)
	preferences.ID = uuid.NewString()
	if err := s.preferences.Create(ctx, preferences); err != nil {
		return nil, fmt.Errorf("create default preferences: %w", err)
	}
	s.logger.Info("Created default preferences", zap.String("user_id", userID))
	return preferences, nil
}

// UpdatePreferencesInput carries a partial update: nil fields leave the stored
// value untouched.
type UpdatePreferencesInput struct {
	EmailEnabled      *bool                  `json:"email_enabled"`
	InAppEnabled      *bool                  `json:"in_app_enabled"`
	PushEnabled       *bool                  `json:"push_enabled"`
	TypePreferences   models.TypePreferences `json:"type_preferences"`
	EmailFrequency    *models.EmailFrequency `json:"email_frequency"`
	EmailTime         *string                `json:"email_time"`
	Timezone          *string                `json:"timezone"`
	QuietHoursEnabled *bool                  `json:"quiet_hours_enabled"`
	QuietHoursStart   *string                `json:"quiet_hours_start"`
	QuietHoursEnd     *string                `json:"quiet_hours_end"`
	Language          *string                `json:"language"`
}

func (s *NotificationService) UpdatePreferences(ctx context.Context, userID string, input *UpdatePreferencesInput) (*models.NotificationPreferences, error) {
	preferences, err := s.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}

	if input.EmailEnabled != nil {
		preferences.EmailEnabled = *input.EmailEnabled
	}
	if input.InAppEnabled != nil {
		preferences.InAppEnabled = *input.InAppEnabled
	}
	if input.PushEnabled != nil {
		preferences.PushEnabled = *input.PushEnabled
	}
	if input.TypePreferences != nil {
		if preferences.TypePreferences == nil {
			preferences.TypePreferences = models.TypePreferences{}
		}
		for notificationType, toggles := range input.TypePreferences {
			preferences.TypePreferences[notificationType] = toggles
		}
	}
	if input.EmailFrequency != nil {
		preferences.EmailFrequency = *input.EmailFrequency
	}
	if input.EmailTime != nil {
		preferences.EmailTime = *input.EmailTime
	}
	if input.Timezone != nil {
		preferences.Timezone = *input.Timezone
	}
	if input.QuietHoursEnabled != nil {
		preferences.QuietHoursEnabled = *input.QuietHoursEnabled
	}
	if input.QuietHoursStart != nil {
		preferences.QuietHoursStart = *input.QuietHoursStart
	}
	if input.QuietHoursEnd != nil {
		preferences.QuietHoursEnd = *input.QuietHoursEnd
	}
	if input.Language != nil {
		preferences.Language = *input.Language
	}

	if err := s.preferences.Save(ctx, preferences); err != nil {
		return nil, fmt.Errorf("update preferences: %w", err)
	}
	s.logger.Info("Updated preferences", zap.String("user_id", userID))
	return preferences, nil
}

// Channel selection rules, shared by create and process. A per-type override,
// when present, wins over the "allow" default; the global toggle always gates
// its channel.

func shouldCreate(notificationType models.NotificationType, preferences *models.NotificationPreferences) bool {
	if toggles, ok := preferences.TypePreferences[notificationType]; ok {
		return toggles.AnyEnabled()
	}
	return true
}

func shouldSendInApp(notificationType models.NotificationType, preferences *models.NotificationPreferences) bool {
	if !preferences.InAppEnabled {
		return false
	}
	if toggles, ok := preferences.TypePreferences[notificationType]; ok {
		return toggles.InApp
	}
	return true
}

func shouldSendEmail(notificationType models.NotificationType, preferences *models.NotificationPreferences) bool {
	if !preferences.EmailEnabled {
		return false
	}
	if toggles, ok := preferences.TypePreferences[notificationType]; ok {
		return toggles.Email
	}
	return true
}
