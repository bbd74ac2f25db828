package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordingStatus tracks the lifecycle of a live-class recording.
type RecordingStatus string

const (
	RecordingNone       RecordingStatus = "not_recorded"
	RecordingInProgress RecordingStatus = "recording"
	RecordingProcessing RecordingStatus = "processing"
	RecordingAvailable  RecordingStatus = "available"
	RecordingFailed     RecordingStatus = "failed"
)

// LiveClass is a scheduled live session belonging to a course.
// StreamKey is the opaque token viewers and the host use on the signaling relay.
type LiveClass struct {
	ID                   uuid.UUID       `json:"id"`
	CourseID             uuid.UUID       `json:"course_id"`
	Title                string          `json:"title"`
	Description          string          `json:"description,omitempty"`
	ScheduledAt          time.Time       `json:"scheduled_at"`
	DurationMin          int             `json:"duration_min"`
	StreamKey            string          `json:"stream_key"`
	IsLive               bool            `json:"is_live"`
	IsCompleted          bool            `json:"is_completed"`
	CurrentViewerCount   int             `json:"current_viewer_count"`
	PeakViewerCount      int             `json:"peak_viewer_count"`
	RecordingURL         string          `json:"recording_url,omitempty"`
	RecordingStatus      RecordingStatus `json:"recording_status"`
	RecordingDurationSec int             `json:"recording_duration_sec,omitempty"`
	RecordingStartedAt   *time.Time      `json:"recording_started_at,omitempty"`
	RecordingCompletedAt *time.Time      `json:"recording_completed_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// ChatMessage is one persisted chat line from a live class.
type ChatMessage struct {
	ID          uuid.UUID `json:"id"`
	LiveClassID uuid.UUID `json:"live_class_id"`
	UserID      uuid.UUID `json:"user_id"`
	UserName    string    `json:"user_name"`
	Message     string    `json:"message"`
	SentAt      time.Time `json:"sent_at"`
}
