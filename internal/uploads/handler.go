package uploads

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightboard/backend/internal/courses"
	"github.com/brightboard/backend/internal/middleware"
	"github.com/brightboard/backend/internal/models"
	"github.com/brightboard/backend/pkg/response"
	"github.com/brightboard/backend/pkg/storage"
)

// UploadURLRequest asks for a presigned PUT for a course asset.
type UploadURLRequest struct {
	CourseID    string `json:"course_id" binding:"required,uuid"`
	Folder      string `json:"folder" binding:"required,oneof=videos documents images"`
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

// UploadURLResponse carries the presigned URL and the object's final location.
type UploadURLResponse struct {
	UploadURL string `json:"upload_url"`
	Key       string `json:"key"`
	ObjectURL string `json:"object_url"`
}

// Handler handles upload HTTP endpoints.
type Handler struct {
	store   *storage.S3
	courses *courses.Repository
	logger  *zap.Logger
}

// NewHandler creates an upload handler.
func NewHandler(store *storage.S3, courseRepo *courses.Repository, logger *zap.Logger) *Handler {
	return &Handler{store: store, courses: courseRepo, logger: logger}
}

func (h *Handler) storageReady(c *gin.Context) bool {
	if h.store == nil {
		response.Internal(c, "file storage is not configured")
		return false
	}
	return true
}

// CreateUploadURL handles POST /uploads/url (course owner or admin). The
// client PUTs the file to the returned URL, then registers it as course
// content with the object URL.
func (h *Handler) CreateUploadURL(c *gin.Context) {
	if !h.storageReady(c) {
		return
	}
	var req UploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	courseID, err := uuid.Parse(req.CourseID)
	if err != nil {
		response.BadRequest(c, "invalid course_id")
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
	if !storage.AllowedContentType(req.Folder, req.ContentType) {
		response.BadRequest(c, "content type not allowed for this folder")
		return
	}

	key := storage.ContentKey(req.Folder, course.ID.String(), uuid.New().String(), req.Filename)
	url, err := h.store.GeneratePresignedUploadURL(c.Request.Context(),
		h.store.ContentBucket(), key, req.ContentType, h.store.PresignExpire())
	if err != nil {
		h.logger.Error("presign upload failed", zap.Error(err))
		response.Internal(c, "failed to create upload url")
		return
	}
	response.OK(c, UploadURLResponse{
		UploadURL: url,
		Key:       key,
		ObjectURL: h.store.ObjectURL(h.store.ContentBucket(), key),
	})
}

// Upload handles POST /uploads: a multipart form with course_id, folder and
// file fields, streamed straight to S3. Presigned PUTs are preferred for large
// videos; this path exists for small documents and thumbnails where a
// browser-side PUT is overkill.
func (h *Handler) Upload(c *gin.Context) {
	if !h.storageReady(c) {
		return
	}
	courseID, err := uuid.Parse(c.PostForm("course_id"))
	if err != nil {
		response.BadRequest(c, "invalid course_id")
		return
	}
	folder := c.PostForm("folder")
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
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}
	if fileHeader.Size > storage.MaxUploadSize {
		response.BadRequest(c, "file too large")
		return
	}
	contentType := fileHeader.Header.Get("Content-Type")
	if !storage.AllowedContentType(folder, contentType) {
		response.BadRequest(c, "content type not allowed for this folder")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Internal(c, "failed to read file")
		return
	}
	defer file.Close()

	key := storage.ContentKey(folder, course.ID.String(), uuid.New().String(), fileHeader.Filename)
	objectURL, err := h.store.Upload(c.Request.Context(),
		h.store.ContentBucket(), key, contentType, file, fileHeader.Size)
	if err != nil {
		h.logger.Error("upload failed", zap.String("key", key), zap.Error(err))
		response.Internal(c, "upload failed")
		return
	}
	response.OK(c, UploadURLResponse{Key: key, ObjectURL: objectURL})
}

// Delete handles DELETE /uploads?key=... (course owner or admin).
func (h *Handler) Delete(c *gin.Context) {
	if !h.storageReady(c) {
		return
	}
	key := c.Query("key")
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 {
		response.BadRequest(c, "invalid key")
		return
	}
	courseID, err := uuid.Parse(parts[1])
	if err != nil {
		response.BadRequest(c, "invalid key")
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
	if err := h.store.DeleteObject(c.Request.Context(), h.store.ContentBucket(), key); err != nil {
		h.logger.Error("delete object failed", zap.String("key", key), zap.Error(err))
		response.Internal(c, "delete failed")
		return
	}
	response.OK(c, gin.H{"deleted": key})
}

// DownloadURL handles GET /uploads/url?key=... for private objects. The
// course id embedded in the object key gates access: owner, admin or an
// enrolled student.
func (h *Handler) DownloadURL(c *gin.Context) {
	if !h.storageReady(c) {
		return
	}
	key := c.Query("key")
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 {
		response.BadRequest(c, "invalid key")
		return
	}
	courseID, err := uuid.Parse(parts[1])
	if err != nil {
		response.BadRequest(c, "invalid key")
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
		enrolled, err := h.courses.IsEnrolled(c.Request.Context(), userID, courseID)
		if err != nil {
			response.Internal(c, "failed to check enrollment")
			return
		}
		if !enrolled {
			response.Forbidden(c, "enroll to access course files")
			return
		}
	}
	url, err := h.store.GeneratePresignedDownloadURL(c.Request.Context(),
		h.store.ContentBucket(), key, h.store.PresignExpire())
	if err != nil {
		response.Internal(c, "failed to create download url")
		return
	}
	response.OK(c, gin.H{"download_url": url})
}
