package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightboard/backend/internal/models"
	"github.com/brightboard/backend/pkg/queue"
	"github.com/brightboard/backend/pkg/response"
	"github.com/brightboard/backend/pkg/utils"
)

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Role     string `json:"role"` // optional, defaults to student
	Mobile   string `json:"mobile"`
	DOB      string `json:"dob"` // YYYY-MM-DD
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// OTPRequest asks for a one-time code to be mailed.
type OTPRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// VerifyOTPRequest exchanges a code for a session token.
type VerifyOTPRequest struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code" binding:"required,len=6"`
}

// ResetPasswordRequest completes a password reset with the mailed code.
type ResetPasswordRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Code        string `json:"code" binding:"required,len=6"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

// UpdateProfileRequest is the body for PUT /auth/profile.
type UpdateProfileRequest struct {
	Name   string `json:"name" binding:"required"`
	Mobile string `json:"mobile"`
	DOB    string `json:"dob"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string            `json:"token"`
	User  models.UserPublic `json:"user"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	repo   *Repository
	jwt    *JWTService
	otp    *OTPStore
	queue  *queue.Queue
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(repo *Repository, jwt *JWTService, otp *OTPStore, q *queue.Queue, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, jwt: jwt, otp: otp, queue: q, logger: logger}
}

func parseDOB(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	role := models.RoleStudent
	switch req.Role {
	case "", "student":
	case "teacher":
		role = models.RoleTeacher
	default:
		// admin accounts are provisioned out of band
		response.BadRequest(c, "invalid role")
		return
	}

	dob, err := parseDOB(req.DOB)
	if err != nil {
		response.BadRequest(c, "invalid dob, expected YYYY-MM-DD")
		return
	}

	if _, err := h.repo.GetByEmail(c.Request.Context(), req.Email); err == nil {
		response.Conflict(c, "email already registered")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}

	user, err := h.repo.Create(c.Request.Context(), req.Name, req.Email, hash, role, req.Mobile, dob)
	if err != nil {
		h.logger.Error("create user failed", zap.Error(err))
		response.Internal(c, "failed to create user")
		return
	}

	token, err := h.jwt.Generate(user.ID, user.Email, user.Name, string(user.Role))
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.Created(c, TokenResponse{Token: token, User: user.ToPublic()})
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	user, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil || !utils.CheckPassword(req.Password, user.Password) {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	token, err := h.jwt.Generate(user.ID, user.Email, user.Name, string(user.Role))
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{Token: token, User: user.ToPublic()})
}

func (h *Handler) sendOTPMail(c *gin.Context, purpose, email, subject, intro string) {
	code, err := utils.NewOTP()
	if err != nil {
		response.Internal(c, "failed to issue code")
		return
	}
	if err := h.otp.Save(c.Request.Context(), purpose, email, code); err != nil {
		h.logger.Error("otp save failed", zap.Error(err))
		response.Internal(c, "failed to issue code")
		return
	}
	err = h.queue.EnqueueEmail(c.Request.Context(), queue.EmailPayload{
		EmailType:      "otp",
		RecipientEmail: email,
		Subject:        subject,
		BodyHTML:       fmt.Sprintf("<p>%s</p><p>Your code is <b>%s</b>. It expires in 10 minutes.</p>", intro, code),
	})
	if err != nil {
		h.logger.Error("otp enqueue failed", zap.Error(err))
		response.Internal(c, "failed to send code")
		return
	}
	response.OK(c, gin.H{"message": "code sent"})
}

// SendOTP handles POST /auth/send-otp. The response does not reveal whether the
// email is registered.
func (h *Handler) SendOTP(c *gin.Context) {
	var req OTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if _, err := h.repo.GetByEmail(c.Request.Context(), req.Email); err != nil {
		response.OK(c, gin.H{"message": "code sent"})
		return
	}
	h.sendOTPMail(c, OTPPurposeVerify, req.Email, "Your login code", "Use this code to sign in.")
}

// VerifyOTP handles POST /auth/verify-otp: passwordless login with a mailed code.
func (h *Handler) VerifyOTP(c *gin.Context) {
	var req VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.otp.Verify(c.Request.Context(), OTPPurposeVerify, req.Email, req.Code); err != nil {
		if errors.Is(err, ErrOTPInvalid) {
			response.Unauthorized(c, "invalid or expired code")
		} else {
			response.Internal(c, "verification failed")
		}
		return
	}
	user, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		response.Unauthorized(c, "invalid or expired code")
		return
	}
	token, err := h.jwt.Generate(user.ID, user.Email, user.Name, string(user.Role))
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{Token: token, User: user.ToPublic()})
}

// ForgotPassword handles POST /auth/forgot-password.
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req OTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if _, err := h.repo.GetByEmail(c.Request.Context(), req.Email); err != nil {
		response.OK(c, gin.H{"message": "code sent"})
		return
	}
	h.sendOTPMail(c, OTPPurposeReset, req.Email, "Password reset code", "Use this code to reset your password.")
}

// ResetPassword handles POST /auth/reset-password.
func (h *Handler) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.otp.Verify(c.Request.Context(), OTPPurposeReset, req.Email, req.Code); err != nil {
		response.Unauthorized(c, "invalid or expired code")
		return
	}
	user, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		response.Unauthorized(c, "invalid or expired code")
		return
	}
	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}
	if err := h.repo.UpdatePassword(c.Request.Context(), user.ID, hash); err != nil {
		response.Internal(c, "failed to update password")
		return
	}
	response.OK(c, gin.H{"message": "password updated"})
}

// Profile handles GET /auth/profile.
func (h *Handler) Profile(c *gin.Context) {
	userID := c.MustGet("user_id").(uuid.UUID)
	user, err := h.repo.GetByID(c.Request.Context(), userID)
	if err != nil {
		response.NotFound(c, "user not found")
		return
	}
	response.OK(c, user.ToPublic())
}

// UpdateProfile handles PUT /auth/profile.
func (h *Handler) UpdateProfile(c *gin.Context) {
	userID := c.MustGet("user_id").(uuid.UUID)
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	dob, err := parseDOB(req.DOB)
	if err != nil {
		response.BadRequest(c, "invalid dob, expected YYYY-MM-DD")
		return
	}
	user, err := h.repo.UpdateProfile(c.Request.Context(), userID, req.Name, req.Mobile, dob)
	if err != nil {
		response.Internal(c, "failed to update profile")
		return
	}
	response.OK(c, user.ToPublic())
}
