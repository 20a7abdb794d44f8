package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type NotificationType string

const (
	TypePolicyCreated            NotificationType = "policy_created"
	TypePolicyUpdated            NotificationType = "policy_updated"
	TypePolicyPublished          NotificationType = "policy_published"
	TypePolicyExpiring           NotificationType = "policy_expiring"
	TypePolicyExpired            NotificationType = "policy_expired"
	TypeComplianceCheckCompleted NotificationType = "compliance_check_completed"
	TypeAIChatSessionStarted     NotificationType = "ai_chat_session_started"
	TypeSystemMaintenance        NotificationType = "system_maintenance"
	TypeSecurityAlert            NotificationType = "security_alert"
	TypeWelcome                  NotificationType = "welcome"
)

type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityMedium NotificationPriority = "medium"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

type NotificationChannel string

const (
	ChannelInApp NotificationChannel = "in_app"
	ChannelEmail NotificationChannel = "email"
	ChannelBoth  NotificationChannel = "both"
)

type NotificationStatus string

const (
	StatusPending   NotificationStatus = "pending"
	StatusSent      NotificationStatus = "sent"
	StatusDelivered NotificationStatus = "delivered"
	StatusFailed    NotificationStatus = "failed"
	StatusRead      NotificationStatus = "read"
)

// CanTransitionTo reports whether moving from s to next keeps the lifecycle
// moving forward. A transition that would move backward (e.g. sent -> pending)
// is never allowed; failed -> failed is allowed so a retry that fails again can
// update retryCount and errorMessage in place.
func (s NotificationStatus) CanTransitionTo(next NotificationStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusSent || next == StatusFailed
	case StatusFailed:
		return next == StatusSent || next == StatusFailed
	case StatusSent:
		return next == StatusDelivered || next == StatusRead
	case StatusDelivered:
		return next == StatusRead
	default:
		return false
	}
}

// Metadata is an open string-keyed map persisted as JSONB. It carries entity
// references (policyId, complianceScore, actionUrl, ...) for deep-linking.
type Metadata map[string]string

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("metadata: unsupported scan type")
	}
}

type Notification struct {
	ID       string               `gorm:"type:uuid;primaryKey" json:"id"`
	UserID   string               `gorm:"type:uuid;not null;index:idx_notifications_user_status" json:"user_id"`
	Type     NotificationType     `gorm:"not null;index:idx_notifications_type_priority" json:"type"`
	Title    string               `gorm:"not null" json:"title"`
	Message  string               `gorm:"not null" json:"message"`
	Priority NotificationPriority `gorm:"not null;index:idx_notifications_type_priority" json:"priority"`
	Channel  NotificationChannel  `gorm:"not null" json:"channel"`
	Status   NotificationStatus   `gorm:"not null;index:idx_notifications_user_status" json:"status"`
	Metadata Metadata             `gorm:"type:jsonb" json:"metadata"`

	ScheduledAt  *time.Time `gorm:"index" json:"scheduled_at,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	ReadAt       *time.Time `json:"read_at,omitempty"`
	IsRead       bool       `gorm:"default:false" json:"is_read"`
	RetryCount   int        `gorm:"default:0" json:"retry_count"`
	ErrorMessage string     `json:"error_message,omitempty"`

	// Back-references to the entities that produced the notification.
	PolicyID           string `json:"policy_id,omitempty"`
	ChatSessionID      string `json:"chat_session_id,omitempty"`
	ComplianceReportID string `json:"compliance_report_id,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP;index:idx_notifications_created_at,sort:desc" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
