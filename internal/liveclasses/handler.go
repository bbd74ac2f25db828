package liveclasses

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/brightboard/backend/internal/courses"
	"github.com/brightboard/backend/internal/middleware"
	"github.com/brightboard/backend/internal/models"
	"github.com/brightboard/backend/internal/notifications"
	"github.com/brightboard/backend/internal/realtime"
	"github.com/brightboard/backend/pkg/response"
	"github.com/brightboard/backend/pkg/storage"
	"github.com/brightboard/backend/pkg/utils"
)

// ScheduleRequest is the body for POST /courses/:id/live-classes.
type ScheduleRequest struct {
	Title       string    `json:"title" binding:"required"`
	Description string    `json:"description"`
	ScheduledAt time.Time `json:"scheduled_at" binding:"required"`
	DurationMin int       `json:"duration_min" binding:"required,min=5,max=480"`
}

// TicketResponse is the reply to a join-ticket request.
type TicketResponse struct {
	StreamKey string `json:"stream_key"`
	Ticket    string `json:"ticket"`
}

// RecordingCompleteRequest reports a finished recording upload.
type RecordingCompleteRequest struct {
	DurationSec int `json:"duration_sec" binding:"required,min=1"`
}

// Handler handles live-class HTTP endpoints.
type Handler struct {
	repo     *Repository
	courses  *courses.Repository
	registry *realtime.Registry
	tickets  realtime.TicketStore
	store    *storage.S3
	notifier *notifications.Service
	logger   *zap.Logger
}

// NewHandler creates a live-class handler.
func NewHandler(repo *Repository, courseRepo *courses.Repository, registry *realtime.Registry,
	tickets realtime.TicketStore, store *storage.S3, notifier *notifications.Service, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, courses: courseRepo, registry: registry, tickets: tickets,
		store: store, notifier: notifier, logger: logger}
}

func currentUser(c *gin.Context) (uuid.UUID, string) {
	return c.MustGet(middleware.ContextUserID).(uuid.UUID), c.GetString(middleware.ContextUserRole)
}

// classAccess loads the class and its course, and reports whether the user
// manages it (owner/admin) and whether they may watch it (manager or enrolled).
func (h *Handler) classAccess(c *gin.Context) (*models.LiveClass, *models.Course, bool, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid class id")
		return nil, nil, false, false
	}
	class, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.NotFound(c, "live class not found")
		return nil, nil, false, false
	}
	course, err := h.courses.GetByID(c.Request.Context(), class.CourseID)
	if err != nil {
		response.NotFound(c, "course not found")
		return nil, nil, false, false
	}
	userID, role := currentUser(c)
	manages := role == string(models.RoleAdmin) || course.TeacherID == userID
	watches := manages
	if !watches {
		enrolled, err := h.courses.IsEnrolled(c.Request.Context(), userID, course.ID)
		if err != nil {
			response.Internal(c, "failed to check enrollment")
			return nil, nil, false, false
		}
		watches = enrolled
	}
	return class, course, manages, watches
}

// bindSchedule parses and validates a schedule body. Classes cannot be
// scheduled in the past.
func bindSchedule(c *gin.Context) (*ScheduleRequest, bool) {
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return nil, false
	}
	if req.ScheduledAt.Before(time.Now()) {
		response.BadRequest(c, "scheduled_at must be in the future")
		return nil, false
	}
	return &req, true
}

// Schedule handles POST /courses/:id/live-classes (course owner or admin).
func (h *Handler) Schedule(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	req, ok := bindSchedule(c)
	if !ok {
		return
	}
	course, err := h.courses.GetByID(c.Request.Context(), courseID)
	if err != nil {
		response.NotFound(c, "course not found")
		return
	}
	userID, role := currentUser(c)
	if role != string(models.RoleAdmin) && course.TeacherID != userID {
		response.Forbidden(c, "not your course")
		return
	}
	streamKey, err := utils.NewStreamKey()
	if err != nil {
		response.Internal(c, "failed to generate stream key")
		return
	}
	class, err := h.repo.Create(c.Request.Context(), &models.LiveClass{
		CourseID:    courseID,
		Title:       req.Title,
		Description: req.Description,
		ScheduledAt: req.ScheduledAt,
		DurationMin: req.DurationMin,
		StreamKey:   streamKey,
	})
	if err != nil {
		h.logger.Error("schedule class failed", zap.Error(err))
		response.Internal(c, "failed to schedule class")
		return
	}
	if h.notifier != nil {
		h.notifier.NotifyClassScheduled(c.Request.Context(), course, class.Title, class.ScheduledAt)
	}
	response.Created(c, class)
}

// Update handles PUT /live-classes/:id (course owner or admin). Rescheduling
// is blocked while the class is live; enrollees are re-notified like Schedule.
func (h *Handler) Update(c *gin.Context) {
	req, ok := bindSchedule(c)
	if !ok {
		return
	}
	class, course, manages, _ := h.classAccess(c)
	if class == nil {
		return
	}
	if !manages {
		response.Forbidden(c, "not your course")
		return
	}
	if h.registry.IsLive(class.StreamKey) {
		response.Conflict(c, "class is live, stop the stream first")
		return
	}
	class.Title = req.Title
	class.Description = req.Description
	class.ScheduledAt = req.ScheduledAt
	class.DurationMin = req.DurationMin
	updated, err := h.repo.Update(c.Request.Context(), class)
	if err != nil {
		h.logger.Error("update class failed", zap.Error(err))
		response.Internal(c, "failed to update class")
		return
	}
	if h.notifier != nil {
		h.notifier.NotifyClassScheduled(c.Request.Context(), course, updated.Title, updated.ScheduledAt)
	}
	response.OK(c, updated)
}

// ListForCourse handles GET /courses/:id/live-classes (enrolled or owner).
// The stream key is only revealed to the course owner.
func (h *Handler) ListForCourse(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	course, err := h.courses.GetByID(c.Request.Context(), courseID)
	if err != nil {
		response.NotFound(c, "course not found")
		return
	}
	userID, role := currentUser(c)
	manages := role == string(models.RoleAdmin) || course.TeacherID == userID
	if !manages {
		enrolled, err := h.courses.IsEnrolled(c.Request.Context(), userID, courseID)
		if err != nil {
			response.Internal(c, "failed to check enrollment")
			return
		}
		if !enrolled {
			response.Forbidden(c, "enroll to access live classes")
			return
		}
	}
	list, err := h.repo.ListForCourse(c.Request.Context(), courseID)
	if err != nil {
		response.Internal(c, "failed to list classes")
		return
	}
	// live state is authoritative in the registry, not the stored flag
	for i := range list {
		list[i].IsLive = h.registry.IsLive(list[i].StreamKey)
		if !manages {
			list[i].StreamKey = ""
		}
	}
	response.OK(c, list)
}

// Get handles GET /live-classes/:id.
func (h *Handler) Get(c *gin.Context) {
	class, _, manages, watches := h.classAccess(c)
	if class == nil {
		return
	}
	if !watches {
		response.Forbidden(c, "enroll to access this class")
		return
	}
	class.IsLive = h.registry.IsLive(class.StreamKey)
	class.CurrentViewerCount = h.registry.ViewerCount(class.StreamKey)
	if !manages {
		class.StreamKey = ""
	}
	response.OK(c, class)
}

// Delete handles DELETE /live-classes/:id. A class cannot be deleted while live.
func (h *Handler) Delete(c *gin.Context) {
	class, _, manages, _ := h.classAccess(c)
	if class == nil {
		return
	}
	if !manages {
		response.Forbidden(c, "not your course")
		return
	}
	if h.registry.IsLive(class.StreamKey) {
		response.Conflict(c, "class is live, stop the stream first")
		return
	}
	if err := h.repo.Delete(c.Request.Context(), class.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "live class not found")
			return
		}
		response.Internal(c, "failed to delete class")
		return
	}
	response.NoContent(c)
}

// JoinTicket handles POST /live-classes/:id/ticket. It runs the enrollment
// check and mints a short-lived single-use ticket the socket layer will
// consume on join-stream.
func (h *Handler) JoinTicket(c *gin.Context) {
	class, _, _, watches := h.classAccess(c)
	if class == nil {
		return
	}
	if !watches {
		response.Forbidden(c, "enroll to join this class")
		return
	}
	if !h.registry.IsLive(class.StreamKey) {
		response.Conflict(c, "class is not live")
		return
	}
	userID, _ := currentUser(c)
	ticket, err := h.tickets.Mint(c.Request.Context(), class.StreamKey, userID)
	if err != nil {
		h.logger.Error("mint ticket failed", zap.Error(err))
		response.Internal(c, "failed to mint ticket")
		return
	}
	response.OK(c, TicketResponse{StreamKey: class.StreamKey, Ticket: ticket})
}

// Stop handles POST /live-classes/:id/stop: a REST force-end for the owner,
// routed through the registry so every participant gets stream-ended.
func (h *Handler) Stop(c *gin.Context) {
	class, _, manages, _ := h.classAccess(c)
	if class == nil {
		return
	}
	if !manages {
		response.Forbidden(c, "not your course")
		return
	}
	if err := h.registry.Stop(c.Request.Context(), class.StreamKey, ""); err != nil {
		if errors.Is(err, realtime.ErrStreamNotFound) {
			response.Conflict(c, "class is not live")
			return
		}
		response.Internal(c, "failed to stop stream")
		return
	}
	response.OK(c, gin.H{"message": "stream stopped"})
}

// ChatHistory handles GET /live-classes/:id/chat.
func (h *Handler) ChatHistory(c *gin.Context) {
	class, _, _, watches := h.classAccess(c)
	if class == nil {
		return
	}
	if !watches {
		response.Forbidden(c, "enroll to access this class")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	history, err := h.repo.ChatHistory(c.Request.Context(), class.ID, limit)
	if err != nil {
		response.Internal(c, "failed to load chat history")
		return
	}
	response.OK(c, history)
}

// RecordingUploadURL handles POST /live-classes/:id/recording/upload-url.
// Returns a presigned PUT for the host to upload the recording.
func (h *Handler) RecordingUploadURL(c *gin.Context) {
	if h.store == nil {
		response.Internal(c, "recording storage is not configured")
		return
	}
	class, course, manages, _ := h.classAccess(c)
	if class == nil {
		return
	}
	if !manages {
		response.Forbidden(c, "not your course")
		return
	}
	key := storage.RecordingKey(course.ID.String(), class.ID.String())
	url, err := h.store.GeneratePresignedUploadURL(c.Request.Context(),
		h.store.RecordingsBucket(), key, "video/mp4", h.store.PresignExpire())
	if err != nil {
		h.logger.Error("presign recording upload failed", zap.Error(err))
		response.Internal(c, "failed to create upload url")
		return
	}
	if err := h.repo.SetRecordingStatus(c.Request.Context(), class.ID,
		models.RecordingProcessing, h.store.ObjectURL(h.store.RecordingsBucket(), key), 0); err != nil {
		response.Internal(c, "failed to update recording status")
		return
	}
	response.OK(c, gin.H{"upload_url": url, "key": key})
}

// RecordingComplete handles POST /live-classes/:id/recording/complete.
func (h *Handler) RecordingComplete(c *gin.Context) {
	if h.store == nil {
		response.Internal(c, "recording storage is not configured")
		return
	}
	class, course, manages, _ := h.classAccess(c)
	if class == nil {
		return
	}
	if !manages {
		response.Forbidden(c, "not your course")
		return
	}
	var req RecordingCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	key := storage.RecordingKey(course.ID.String(), class.ID.String())
	if _, err := h.store.HeadObject(c.Request.Context(), h.store.RecordingsBucket(), key); err != nil {
		response.BadRequest(c, "recording object not found, upload it first")
		return
	}
	if err := h.repo.SetRecordingStatus(c.Request.Context(), class.ID,
		models.RecordingAvailable, "", req.DurationSec); err != nil {
		response.Internal(c, "failed to update recording status")
		return
	}
	response.OK(c, gin.H{"message": "recording available"})
}

// Recording handles GET /live-classes/:id/recording: a presigned download for
// anyone allowed to watch the class.
func (h *Handler) Recording(c *gin.Context) {
	if h.store == nil {
		response.Internal(c, "recording storage is not configured")
		return
	}
	class, course, _, watches := h.classAccess(c)
	if class == nil {
		return
	}
	if !watches {
		response.Forbidden(c, "enroll to access this class")
		return
	}
	if class.RecordingStatus != models.RecordingAvailable {
		response.NotFound(c, "recording not available")
		return
	}
	key := storage.RecordingKey(course.ID.String(), class.ID.String())
	url, err := h.store.GeneratePresignedDownloadURL(c.Request.Context(),
		h.store.RecordingsBucket(), key, h.store.PresignExpire())
	if err != nil {
		response.Internal(c, "failed to create download url")
		return
	}
	response.OK(c, gin.H{"download_url": url, "duration_sec": class.RecordingDurationSec})
}
