package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type EmailFrequency string

const (
	FrequencyImmediate EmailFrequency = "immediate"
	FrequencyDaily     EmailFrequency = "daily"
	FrequencyWeekly    EmailFrequency = "weekly"
	FrequencyNever     EmailFrequency = "never"
)

// ChannelToggles is one per-type preference entry. Absence of an entry for a
// type means "allow on every globally enabled channel".
type ChannelToggles struct {
	Email bool `json:"email"`
	InApp bool `json:"inApp"`
	Push  bool `json:"push"`
}

// AnyEnabled reports whether at least one channel is still allowed.
func (t ChannelToggles) AnyEnabled() bool {
	return t.Email || t.InApp || t.Push
}

// TypePreferences maps notification type -> per-channel overrides, persisted as
// a JSONB document.
type TypePreferences map[NotificationType]ChannelToggles

func (p TypePreferences) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (p *TypePreferences) Scan(value interface{}) error {
	if value == nil {
		*p = TypePreferences{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return errors.New("type preferences: unsupported scan type")
	}
}

type NotificationPreferences struct {
	ID     string `gorm:"type:uuid;primaryKey" json:"id"`
	UserID string `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`

	EmailEnabled bool `json:"email_enabled"`
	InAppEnabled bool `json:"in_app_enabled"`
	PushEnabled  bool `json:"push_enabled"`

	TypePreferences TypePreferences `gorm:"type:jsonb" json:"type_preferences"`

	EmailFrequency EmailFrequency `json:"email_frequency"`
	EmailTime      string         `json:"email_time"`
	Timezone       string         `json:"timezone"`

	// Quiet hours are stored and updatable but are not consulted on the send
	// path; see DESIGN.md.
	QuietHoursEnabled bool   `json:"quiet_hours_enabled"`
	QuietHoursStart   string `json:"quiet_hours_start"`
	QuietHoursEnd     string `json:"quiet_hours_end"`

	Language string `json:"language"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (NotificationPreferences) TableName() string {
	return "notification_preferences"
}

// DefaultPreferences returns the record created on first read for a user.
func DefaultPreferences(userID string) *NotificationPreferences {
	return &NotificationPreferences{
		UserID:            userID,
		EmailEnabled:      true,
		InAppEnabled:      true,
		PushEnabled:       true,
		TypePreferences:   TypePreferences{},
		EmailFrequency:    FrequencyImmediate,
		EmailTime:         "09:00",
		Timezone:          "UTC",
		QuietHoursEnabled: false,
		QuietHoursStart:   "22:00",
		QuietHoursEnd:     "08:00",
		Language:          "en",
	}
}
