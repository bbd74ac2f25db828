package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NotificationType identifies what triggered a notification.
type NotificationType string

const (
	NotifyNewContent   NotificationType = "new_content"
	NotifyCourseUpdate NotificationType = "course_update"
	NotifyEnrollment   NotificationType = "enrollment"
	NotifyAnnouncement NotificationType = "announcement"
	NotifyMessage      NotificationType = "message"
	NotifySystem       NotificationType = "system"
)

// NotificationPriority orders notifications for display and email urgency.
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityMedium NotificationPriority = "medium"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

// Notification is one in-app notification for a user.
type Notification struct {
	ID          uuid.UUID            `json:"id"`
	RecipientID uuid.UUID            `json:"recipient_id"`
	SenderID    *uuid.UUID           `json:"sender_id,omitempty"`
	Type        NotificationType     `json:"type"`
	Title       string               `json:"title"`
	Message     string               `json:"message"`
	ActionURL   string               `json:"action_url,omitempty"`
	Metadata    json.RawMessage      `json:"metadata,omitempty"`
	Priority    NotificationPriority `json:"priority"`
	IsRead      bool                 `json:"is_read"`
	IsEmailSent bool                 `json:"is_email_sent"`
	CreatedAt   time.Time            `json:"created_at"`
}

// NotificationPreference holds per-user delivery settings.
type NotificationPreference struct {
	UserID            uuid.UUID `json:"user_id"`
	EmailNewContent   bool      `json:"email_new_content"`
	EmailCourseUpdate bool      `json:"email_course_update"`
	EmailEnrollment   bool      `json:"email_enrollment"`
	EmailAnnouncement bool      `json:"email_announcement"`
	EmailMessage      bool      `json:"email_message"`
	QuietHoursEnabled bool      `json:"quiet_hours_enabled"`
	QuietHoursStart   string    `json:"quiet_hours_start"` // "22:00"
	QuietHoursEnd     string    `json:"quiet_hours_end"`   // "08:00"
	UpdatedAt         time.Time `json:"updated_at"`
}

// DefaultPreferences returns the preferences applied when a user has never saved any.
func DefaultPreferences(userID uuid.UUID) *NotificationPreference {
	return &NotificationPreference{
		UserID:            userID,
		EmailNewContent:   true,
		EmailCourseUpdate: true,
		EmailEnrollment:   true,
		EmailAnnouncement: true,
		EmailMessage:      true,
		QuietHoursStart:   "22:00",
		QuietHoursEnd:     "08:00",
	}
}

// EmailWanted reports whether the user accepts email for the given type.
func (p *NotificationPreference) EmailWanted(t NotificationType) bool {
	switch t {
	case NotifyNewContent:
		return p.EmailNewContent
	case NotifyCourseUpdate:
		return p.EmailCourseUpdate
	case NotifyEnrollment:
		return p.EmailEnrollment
	case NotifyAnnouncement:
		return p.EmailAnnouncement
	case NotifyMessage:
		return p.EmailMessage
	default:
		return true
	}
}

// InQuietHours reports whether now falls inside the user's quiet window.
// The window may wrap midnight ("22:00" to "08:00").
func (p *NotificationPreference) InQuietHours(now time.Time) bool {
	if !p.QuietHoursEnabled {
		return false
	}
	cur := now.Format("15:04")
	if p.QuietHoursStart <= p.QuietHoursEnd {
		return cur >= p.QuietHoursStart && cur <= p.QuietHoursEnd
	}
	return cur >= p.QuietHoursStart || cur <= p.QuietHoursEnd
}
