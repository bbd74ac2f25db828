package notifications

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/brightboard/backend/internal/middleware"
	"github.com/brightboard/backend/pkg/response"
)

// PreferencesRequest is the body for PUT /notifications/preferences.
type PreferencesRequest struct {
	EmailNewContent   *bool  `json:"email_new_content"`
	EmailCourseUpdate *bool  `json:"email_course_update"`
	EmailEnrollment   *bool  `json:"email_enrollment"`
	EmailAnnouncement *bool  `json:"email_announcement"`
	EmailMessage      *bool  `json:"email_message"`
	QuietHoursEnabled *bool  `json:"quiet_hours_enabled"`
	QuietHoursStart   string `json:"quiet_hours_start"`
	QuietHoursEnd     string `json:"quiet_hours_end"`
}

// Handler handles notification HTTP endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a notification handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

func userID(c *gin.Context) uuid.UUID {
	return c.MustGet(middleware.ContextUserID).(uuid.UUID)
}

// List handles GET /notifications.
func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	unreadOnly := c.Query("unread") == "true"

	list, err := h.repo.ListForUser(c.Request.Context(), userID(c), unreadOnly, limit, offset)
	if err != nil {
		response.Internal(c, "failed to list notifications")
		return
	}
	response.OK(c, list)
}

// UnreadCount handles GET /notifications/unread-count.
func (h *Handler) UnreadCount(c *gin.Context) {
	count, err := h.repo.UnreadCount(c.Request.Context(), userID(c))
	if err != nil {
		response.Internal(c, "failed to count notifications")
		return
	}
	response.OK(c, gin.H{"count": count})
}

// MarkRead handles PUT /notifications/:id/read.
func (h *Handler) MarkRead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid notification id")
		return
	}
	if err := h.repo.MarkRead(c.Request.Context(), userID(c), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "notification not found")
			return
		}
		response.Internal(c, "failed to mark read")
		return
	}
	response.OK(c, gin.H{"message": "marked read"})
}

// MarkAllRead handles PUT /notifications/read-all.
func (h *Handler) MarkAllRead(c *gin.Context) {
	if err := h.repo.MarkAllRead(c.Request.Context(), userID(c)); err != nil {
		response.Internal(c, "failed to mark all read")
		return
	}
	response.OK(c, gin.H{"message": "all marked read"})
}

// Delete handles DELETE /notifications/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid notification id")
		return
	}
	if err := h.repo.Delete(c.Request.Context(), userID(c), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "notification not found")
			return
		}
		response.Internal(c, "failed to delete notification")
		return
	}
	response.NoContent(c)
}

// GetPreferences handles GET /notifications/preferences.
func (h *Handler) GetPreferences(c *gin.Context) {
	prefs, err := h.repo.GetPreferences(c.Request.Context(), userID(c))
	if err != nil {
		response.Internal(c, "failed to load preferences")
		return
	}
	response.OK(c, prefs)
}

func validClock(s string) bool {
	if len(s) != 5 || s[2] != ':' {
		return false
	}
	h, err := strconv.Atoi(s[:2])
	if err != nil || h < 0 || h > 23 {
		return false
	}
	m, err := strconv.Atoi(s[3:])
	return err == nil && m >= 0 && m <= 59
}

// UpdatePreferences handles PUT /notifications/preferences. Omitted fields keep
// their current value.
func (h *Handler) UpdatePreferences(c *gin.Context) {
	var req PreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	prefs, err := h.repo.GetPreferences(c.Request.Context(), userID(c))
	if err != nil {
		response.Internal(c, "failed to load preferences")
		return
	}

	apply := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&prefs.EmailNewContent, req.EmailNewContent)
	apply(&prefs.EmailCourseUpdate, req.EmailCourseUpdate)
	apply(&prefs.EmailEnrollment, req.EmailEnrollment)
	apply(&prefs.EmailAnnouncement, req.EmailAnnouncement)
	apply(&prefs.EmailMessage, req.EmailMessage)
	apply(&prefs.QuietHoursEnabled, req.QuietHoursEnabled)
	if req.QuietHoursStart != "" {
		if !validClock(req.QuietHoursStart) {
			response.BadRequest(c, "invalid quiet_hours_start, expected HH:MM")
			return
		}
		prefs.QuietHoursStart = req.QuietHoursStart
	}
	if req.QuietHoursEnd != "" {
		if !validClock(req.QuietHoursEnd) {
			response.BadRequest(c, "invalid quiet_hours_end, expected HH:MM")
			return
		}
		prefs.QuietHoursEnd = req.QuietHoursEnd
	}

	if err := h.repo.SavePreferences(c.Request.Context(), prefs); err != nil {
		response.Internal(c, "failed to save preferences")
		return
	}
	response.OK(c, prefs)
}
