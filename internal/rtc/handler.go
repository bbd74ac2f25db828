package rtc

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/brightboard/backend/config"
	"github.com/brightboard/backend/internal/courses"
	"github.com/brightboard/backend/internal/liveclasses"
	"github.com/brightboard/backend/internal/middleware"
	"github.com/brightboard/backend/internal/models"
	"github.com/brightboard/backend/pkg/response"
)

const tokenValidSec = 3600 * 4 // token lives for one class session

// Handler serves WebRTC client configuration and hosted-RTC room tokens.
type Handler struct {
	classes *liveclasses.Repository
	courses *courses.Repository
	webrtc  config.WebRTCConfig
	zego    config.ZegoConfig
	logger  *zap.Logger
}

// NewHandler creates an RTC handler.
func NewHandler(classes *liveclasses.Repository, courseRepo *courses.Repository,
	webrtcCfg config.WebRTCConfig, zegoCfg config.ZegoConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{classes: classes, courses: courseRepo, webrtc: webrtcCfg, zego: zegoCfg, logger: logger}
}

// ICEConfig handles GET /rtc/ice-config: the ICE servers clients should put in
// their RTCPeerConnection configuration.
func (h *Handler) ICEConfig(c *gin.Context) {
	servers := []webrtc.ICEServer{{URLs: h.webrtc.ICEUrls}}
	response.OK(c, gin.H{"ice_servers": servers})
}

// RoomToken handles GET /live-classes/:id/rtc-token. The course owner gets a
// publish-capable token; enrolled students get a pull-only one.
func (h *Handler) RoomToken(c *gin.Context) {
	if h.zego.AppID == 0 || h.zego.ServerSecret == "" {
		response.ServiceUnavailable(c, "hosted RTC not configured (ZEGO_APP_ID, ZEGO_SERVER_SECRET)")
		return
	}
	classID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid class id")
		return
	}
	class, err := h.classes.GetByID(c.Request.Context(), classID)
	if err != nil {
		response.NotFound(c, "live class not found")
		return
	}
	course, err := h.courses.GetByID(c.Request.Context(), class.CourseID)
	if err != nil {
		response.NotFound(c, "course not found")
		return
	}

	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role := c.GetString(middleware.ContextUserRole)
	host := role == string(models.RoleAdmin) || course.TeacherID == userID
	if !host {
		enrolled, err := h.courses.IsEnrolled(c.Request.Context(), userID, course.ID)
		if err != nil {
			response.Internal(c, "failed to check enrollment")
			return
		}
		if !enrolled {
			response.Forbidden(c, "enroll to join this class")
			return
		}
	}

	token, err := GenerateRoomToken(h.zego.AppID, h.zego.ServerSecret,
		class.ID.String(), userID.String(), host, tokenValidSec)
	if err != nil {
		h.logger.Error("rtc token generation failed", zap.Error(err),
			zap.String("class_id", class.ID.String()))
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, gin.H{"token": token, "app_id": h.zego.AppID, "room_id": class.ID.String()})
}
