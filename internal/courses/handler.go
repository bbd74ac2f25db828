package courses

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/brightboard/backend/internal/middleware"
	"github.com/brightboard/backend/internal/models"
	"github.com/brightboard/backend/pkg/response"
)

// ContentNotifier fans out "new content" notifications to enrolled students.
type ContentNotifier interface {
	NotifyNewContent(ctx context.Context, course *models.Course, contentTitle string)
}

// CreateCourseRequest is the body for POST /courses.
type CreateCourseRequest struct {
	Title            string   `json:"title" binding:"required"`
	Description      string   `json:"description" binding:"required"`
	Category         string   `json:"category" binding:"required"`
	ClassLevel       string   `json:"class_level" binding:"required"`
	Subject          string   `json:"subject" binding:"required"`
	Difficulty       string   `json:"difficulty"`
	PriceCents       int      `json:"price_cents"`
	Thumbnail        string   `json:"thumbnail"`
	DurationHours    int      `json:"duration_hours"`
	Requirements     string   `json:"requirements"`
	WhatYouWillLearn []string `json:"what_you_will_learn"`
	Tags             []string `json:"tags"`
	IsPublished      *bool    `json:"is_published"`
}

// AddContentRequest is the body for POST /courses/:id/content.
type AddContentRequest struct {
	Title       string `json:"title" binding:"required"`
	Type        string `json:"type" binding:"required,oneof=video pdf assignment text"`
	URL         string `json:"url"`
	Description string `json:"description"`
	DurationMin int    `json:"duration_min"`
}

// RateRequest is the body for POST /courses/:id/rate.
type RateRequest struct {
	Rating int `json:"rating" binding:"required,min=1,max=5"`
}

// Handler handles course HTTP endpoints.
type Handler struct {
	repo     *Repository
	notifier ContentNotifier
	logger   *zap.Logger
}

// NewHandler creates a course handler.
func NewHandler(repo *Repository, notifier ContentNotifier, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, notifier: notifier, logger: logger}
}

func validDifficulty(d string) bool {
	for _, v := range models.CourseDifficulties {
		if v == d {
			return true
		}
	}
	return false
}

func currentUser(c *gin.Context) (uuid.UUID, string) {
	return c.MustGet(middleware.ContextUserID).(uuid.UUID), c.GetString(middleware.ContextUserRole)
}

// canManage reports whether the user may edit the course.
func canManage(course *models.Course, userID uuid.UUID, role string) bool {
	return role == string(models.RoleAdmin) || course.TeacherID == userID
}

// Create handles POST /courses (teacher or admin).
func (h *Handler) Create(c *gin.Context) {
	var req CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.Difficulty == "" {
		req.Difficulty = "Beginner"
	}
	if !validDifficulty(req.Difficulty) {
		response.BadRequest(c, "invalid difficulty")
		return
	}
	userID, _ := currentUser(c)
	published := true
	if req.IsPublished != nil {
		published = *req.IsPublished
	}
	course, err := h.repo.Create(c.Request.Context(), &models.Course{
		Title:            req.Title,
		Description:      req.Description,
		TeacherID:        userID,
		Category:         req.Category,
		ClassLevel:       req.ClassLevel,
		Subject:          req.Subject,
		Difficulty:       req.Difficulty,
		PriceCents:       req.PriceCents,
		Thumbnail:        req.Thumbnail,
		DurationHours:    req.DurationHours,
		Requirements:     req.Requirements,
		WhatYouWillLearn: req.WhatYouWillLearn,
		Tags:             req.Tags,
		IsPublished:      published,
	})
	if err != nil {
		h.logger.Error("create course failed", zap.Error(err))
		response.Internal(c, "failed to create course")
		return
	}
	response.Created(c, course)
}

// List handles GET /courses with optional filters.
func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	f := ListFilter{
		Category:   c.Query("category"),
		ClassLevel: c.Query("class_level"),
		Subject:    c.Query("subject"),
		Difficulty: c.Query("difficulty"),
		Search:     c.Query("search"),
		Limit:      limit,
		Offset:     offset,
	}
	if teacherIDStr := c.Query("teacher_id"); teacherIDStr != "" {
		teacherID, err := uuid.Parse(teacherIDStr)
		if err != nil {
			response.BadRequest(c, "invalid teacher_id")
			return
		}
		f.TeacherID = &teacherID
	}
	list, err := h.repo.List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("list courses failed", zap.Error(err))
		response.Internal(c, "failed to list courses")
		return
	}
	response.OK(c, list)
}

// Mine handles GET /courses/mine: the teacher's own catalog, drafts included.
func (h *Handler) Mine(c *gin.Context) {
	userID, _ := currentUser(c)
	list, err := h.repo.List(c.Request.Context(), ListFilter{
		TeacherID:          &userID,
		IncludeUnpublished: true,
	})
	if err != nil {
		response.Internal(c, "failed to list courses")
		return
	}
	response.OK(c, list)
}

func (h *Handler) courseFromPath(c *gin.Context) (*models.Course, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return nil, false
	}
	course, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.NotFound(c, "course not found")
		return nil, false
	}
	return course, true
}

// Get handles GET /courses/:id.
func (h *Handler) Get(c *gin.Context) {
	course, ok := h.courseFromPath(c)
	if !ok {
		return
	}
	response.OK(c, course)
}

// Update handles PUT /courses/:id.
func (h *Handler) Update(c *gin.Context) {
	course, ok := h.courseFromPath(c)
	if !ok {
		return
	}
	userID, role := currentUser(c)
	if !canManage(course, userID, role) {
		response.Forbidden(c, "not your course")
		return
	}
	var req CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.Difficulty != "" && !validDifficulty(req.Difficulty) {
		response.BadRequest(c, "invalid difficulty")
		return
	}
	course.Title = req.Title
	course.Description = req.Description
	course.Category = req.Category
	course.ClassLevel = req.ClassLevel
	course.Subject = req.Subject
	if req.Difficulty != "" {
		course.Difficulty = req.Difficulty
	}
	course.PriceCents = req.PriceCents
	course.Thumbnail = req.Thumbnail
	course.DurationHours = req.DurationHours
	course.Requirements = req.Requirements
	course.WhatYouWillLearn = req.WhatYouWillLearn
	course.Tags = req.Tags
	if req.IsPublished != nil {
		course.IsPublished = *req.IsPublished
	}
	updated, err := h.repo.Update(c.Request.Context(), course)
	if err != nil {
		response.Internal(c, "failed to update course")
		return
	}
	response.OK(c, updated)
}

// Delete handles DELETE /courses/:id.
func (h *Handler) Delete(c *gin.Context) {
	course, ok := h.courseFromPath(c)
	if !ok {
		return
	}
	userID, role := currentUser(c)
	if !canManage(course, userID, role) {
		response.Forbidden(c, "not your course")
		return
	}
	if err := h.repo.Delete(c.Request.Context(), course.ID); err != nil {
		response.Internal(c, "failed to delete course")
		return
	}
	response.NoContent(c)
}

// Stats handles GET /courses/:id/stats (owner or admin).
func (h *Handler) Stats(c *gin.Context) {
	course, ok := h.courseFromPath(c)
	if !ok {
		return
	}
	userID, role := currentUser(c)
	if !canManage(course, userID, role) {
		response.Forbidden(c, "not your course")
		return
	}
	stats, err := h.repo.Stats(c.Request.Context(), course.ID)
	if err != nil {
		response.Internal(c, "failed to load stats")
		return
	}
	response.OK(c, stats)
}

// Rate handles POST /courses/:id/rate (enrolled students only).
func (h *Handler) Rate(c *gin.Context) {
	course, ok := h.courseFromPath(c)
	if !ok {
		return
	}
	var req RateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID, _ := currentUser(c)
	enrolled, err := h.repo.IsEnrolled(c.Request.Context(), userID, course.ID)
	if err != nil {
		response.Internal(c, "failed to check enrollment")
		return
	}
	if !enrolled {
		response.Forbidden(c, "enroll before rating")
		return
	}
	updated, err := h.repo.AddRating(c.Request.Context(), course.ID, req.Rating)
	if err != nil {
		response.Internal(c, "failed to save rating")
		return
	}
	response.OK(c, updated)
}

// AddContent handles POST /courses/:id/content (owner or admin).
func (h *Handler) AddContent(c *gin.Context) {
	course, ok := h.courseFromPath(c)
	if !ok {
		return
	}
	userID, role := currentUser(c)
	if !canManage(course, userID, role) {
		response.Forbidden(c, "not your course")
		return
	}
	var req AddContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	item, err := h.repo.AddContent(c.Request.Context(), &models.CourseContent{
		CourseID:    course.ID,
		Title:       req.Title,
		Type:        models.ContentType(req.Type),
		URL:         req.URL,
		Description: req.Description,
		DurationMin: req.DurationMin,
	})
	if err != nil {
		response.Internal(c, "failed to add content")
		return
	}
	if h.notifier != nil {
		h.notifier.NotifyNewContent(c.Request.Context(), course, item.Title)
	}
	response.Created(c, item)
}

// ListContent handles GET /courses/:id/content (owner, admin or enrolled student).
func (h *Handler) ListContent(c *gin.Context) {
	course, ok := h.courseFromPath(c)
	if !ok {
		return
	}
	userID, role := currentUser(c)
	if !canManage(course, userID, role) {
		enrolled, err := h.repo.IsEnrolled(c.Request.Context(), userID, course.ID)
		if err != nil {
			response.Internal(c, "failed to check enrollment")
			return
		}
		if !enrolled {
			response.Forbidden(c, "enroll to access course content")
			return
		}
	}
	list, err := h.repo.ListContent(c.Request.Context(), course.ID)
	if err != nil {
		response.Internal(c, "failed to list content")
		return
	}
	response.OK(c, list)
}

// DeleteContent handles DELETE /courses/:id/content/:contentID.
func (h *Handler) DeleteContent(c *gin.Context) {
	course, ok := h.courseFromPath(c)
	if !ok {
		return
	}
	userID, role := currentUser(c)
	if !canManage(course, userID, role) {
		response.Forbidden(c, "not your course")
		return
	}
	contentID, err := uuid.Parse(c.Param("contentID"))
	if err != nil {
		response.BadRequest(c, "invalid content id")
		return
	}
	if err := h.repo.DeleteContent(c.Request.Context(), course.ID, contentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "content not found")
			return
		}
		response.Internal(c, "failed to delete content")
		return
	}
	response.NoContent(c)
}
