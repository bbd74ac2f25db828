package enrollments

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/brightboard/backend/internal/courses"
	"github.com/brightboard/backend/internal/middleware"
	"github.com/brightboard/backend/internal/models"
	"github.com/brightboard/backend/internal/notifications"
	"github.com/brightboard/backend/pkg/response"
)

// Handler handles enrollment HTTP endpoints.
type Handler struct {
	repo     *Repository
	courses  *courses.Repository
	notifier *notifications.Service
	logger   *zap.Logger
}

// NewHandler creates an enrollment handler.
func NewHandler(repo *Repository, courseRepo *courses.Repository, notifier *notifications.Service, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, courses: courseRepo, notifier: notifier, logger: logger}
}

// Enroll handles POST /courses/:id/enroll (student).
func (h *Handler) Enroll(c *gin.Context) {
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
	if !course.IsPublished {
		response.NotFound(c, "course not found")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if course.TeacherID == userID {
		response.BadRequest(c, "cannot enroll in your own course")
		return
	}

	enrollment, err := h.repo.Create(c.Request.Context(), userID, courseID)
	if err != nil {
		if errors.Is(err, ErrAlreadyEnrolled) {
			response.Conflict(c, "already enrolled")
			return
		}
		h.logger.Error("enroll failed", zap.Error(err))
		response.Internal(c, "failed to enroll")
		return
	}

	if h.notifier != nil {
		studentName := c.GetString(middleware.ContextUserName)
		if studentName == "" {
			studentName = "A student"
		}
		h.notifier.NotifyEnrollment(c.Request.Context(), course, studentName)
	}
	response.Created(c, enrollment)
}

// MyCourses handles GET /enrollments: the student's courses.
func (h *Handler) MyCourses(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.repo.ListForStudent(c.Request.Context(), userID)
	if err != nil {
		response.Internal(c, "failed to list enrollments")
		return
	}
	response.OK(c, list)
}

// Roster handles GET /courses/:id/students (owner or admin).
func (h *Handler) Roster(c *gin.Context) {
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
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role := c.GetString(middleware.ContextUserRole)
	if role != string(models.RoleAdmin) && course.TeacherID != userID {
		response.Forbidden(c, "not your course")
		return
	}
	list, err := h.repo.ListForCourse(c.Request.Context(), courseID)
	if err != nil {
		response.Internal(c, "failed to list students")
		return
	}
	response.OK(c, list)
}

// Complete handles PUT /courses/:id/complete: the student marks the course done.
func (h *Handler) Complete(c *gin.Context) {
	h.setStatus(c, models.EnrollmentCompleted)
}

// Drop handles DELETE /courses/:id/enroll.
func (h *Handler) Drop(c *gin.Context) {
	h.setStatus(c, models.EnrollmentDropped)
}

func (h *Handler) setStatus(c *gin.Context, status models.EnrollmentStatus) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.repo.SetStatus(c.Request.Context(), userID, courseID, status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "enrollment not found")
			return
		}
		response.Internal(c, "failed to update enrollment")
		return
	}
	response.OK(c, gin.H{"status": status})
}
