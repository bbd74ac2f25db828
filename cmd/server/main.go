// Package main runs the e-learning platform HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/brightboard/backend/config"
	"github.com/brightboard/backend/internal/auth"
	"github.com/brightboard/backend/internal/courses"
	"github.com/brightboard/backend/internal/enrollments"
	"github.com/brightboard/backend/internal/liveclasses"
	"github.com/brightboard/backend/internal/middleware"
	"github.com/brightboard/backend/internal/notifications"
	"github.com/brightboard/backend/internal/realtime"
	"github.com/brightboard/backend/internal/rtc"
	"github.com/brightboard/backend/internal/uploads"
	"github.com/brightboard/backend/pkg/database"
	"github.com/brightboard/backend/pkg/queue"
	"github.com/brightboard/backend/pkg/redis"
	"github.com/brightboard/backend/pkg/response"
	"github.com/brightboard/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ContentBucket:        cfg.AWS.ContentBucket,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Realtime: hub + stream registry
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	ticketStore := realtime.NewRedisTicketStore(rdb.Client,
		time.Duration(cfg.Stream.TicketTTLSeconds)*time.Second)

	// Repositories and services
	authRepo := auth.NewRepository(pool)
	otpStore := auth.NewOTPStore(rdb.Client)
	authHandler := auth.NewHandler(authRepo, jwtService, otpStore, jobQueue, logger)

	courseRepo := courses.NewRepository(pool)
	notifRepo := notifications.NewRepository(pool)
	notifService := notifications.NewService(notifRepo, jobQueue, logger)
	notifHandler := notifications.NewHandler(notifRepo, logger)
	courseHandler := courses.NewHandler(courseRepo, notifService, logger)

	enrollRepo := enrollments.NewRepository(pool)
	enrollHandler := enrollments.NewHandler(enrollRepo, courseRepo, notifService, logger)

	classRepo := liveclasses.NewRepository(pool)
	registry := realtime.NewRegistry(hub, classRepo, ticketStore,
		time.Duration(cfg.Stream.HostGraceSeconds)*time.Second, logger)
	classHandler := liveclasses.NewHandler(classRepo, courseRepo, registry, ticketStore,
		s3Client, notifService, logger)

	uploadHandler := uploads.NewHandler(s3Client, courseRepo, logger)
	rtcHandler := rtc.NewHandler(classRepo, courseRepo, cfg.WebRTC, cfg.Zego, logger)

	jwtValidate := func(token string) (userID, role, name string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", "", "", err
		}
		return claims.UserID.String(), claims.Role, claims.Name, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/send-otp", authHandler.SendOTP)
		authGroup.POST("/verify-otp", authHandler.VerifyOTP)
		authGroup.POST("/forgot-password", authHandler.ForgotPassword)
		authGroup.POST("/reset-password", authHandler.ResetPassword)
	}

	// Public course catalog
	router.GET("/courses", courseHandler.List)
	router.GET("/courses/:id", courseHandler.Get)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Profile
		api.GET("/auth/profile", authHandler.Profile)
		api.PUT("/auth/profile", authHandler.UpdateProfile)

		// Courses
		api.POST("/courses", middleware.RequireRole("teacher", "admin"), courseHandler.Create)
		api.GET("/courses/mine", middleware.RequireRole("teacher", "admin"), courseHandler.Mine)
		api.PUT("/courses/:id", middleware.RequireRole("teacher", "admin"), courseHandler.Update)
		api.DELETE("/courses/:id", middleware.RequireRole("teacher", "admin"), courseHandler.Delete)
		api.GET("/courses/:id/stats", middleware.RequireRole("teacher", "admin"), courseHandler.Stats)
		api.POST("/courses/:id/rate", middleware.RequireRole("student"), courseHandler.Rate)

		// Course content
		api.POST("/courses/:id/content", middleware.RequireRole("teacher", "admin"), courseHandler.AddContent)
		api.GET("/courses/:id/content", courseHandler.ListContent)
		api.DELETE("/courses/:id/content/:contentID", middleware.RequireRole("teacher", "admin"), courseHandler.DeleteContent)

		// Enrollments
		api.POST("/courses/:id/enroll", middleware.RequireRole("student"), enrollHandler.Enroll)
		api.DELETE("/courses/:id/enroll", middleware.RequireRole("student"), enrollHandler.Drop)
		api.PUT("/courses/:id/complete", middleware.RequireRole("student"), enrollHandler.Complete)
		api.GET("/enrollments", enrollHandler.MyCourses)
		api.GET("/courses/:id/students", middleware.RequireRole("teacher", "admin"), enrollHandler.Roster)

		// Live classes
		api.POST("/courses/:id/live-classes", middleware.RequireRole("teacher", "admin"), classHandler.Schedule)
		api.GET("/courses/:id/live-classes", classHandler.ListForCourse)
		api.GET("/live-classes/:id", classHandler.Get)
		api.PUT("/live-classes/:id", middleware.RequireRole("teacher", "admin"), classHandler.Update)
		api.DELETE("/live-classes/:id", middleware.RequireRole("teacher", "admin"), classHandler.Delete)
		api.POST("/live-classes/:id/ticket", classHandler.JoinTicket)
		api.POST("/live-classes/:id/stop", middleware.RequireRole("teacher", "admin"), classHandler.Stop)
		api.GET("/live-classes/:id/chat", classHandler.ChatHistory)

		// Recordings
		api.POST("/live-classes/:id/recording/upload-url", middleware.RequireRole("teacher", "admin"), classHandler.RecordingUploadURL)
		api.POST("/live-classes/:id/recording/complete", middleware.RequireRole("teacher", "admin"), classHandler.RecordingComplete)
		api.GET("/live-classes/:id/recording", classHandler.Recording)

		// RTC
		api.GET("/rtc/ice-config", rtcHandler.ICEConfig)
		api.GET("/live-classes/:id/rtc-token", rtcHandler.RoomToken)

		// Uploads
		api.POST("/uploads/url", middleware.RequireRole("teacher", "admin"), uploadHandler.CreateUploadURL)
		api.POST("/uploads", middleware.RequireRole("teacher", "admin"), uploadHandler.Upload)
		api.DELETE("/uploads", middleware.RequireRole("teacher", "admin"), uploadHandler.Delete)
		api.GET("/uploads/url", uploadHandler.DownloadURL)

		// Notifications
		api.GET("/notifications", notifHandler.List)
		api.GET("/notifications/unread-count", notifHandler.UnreadCount)
		api.PUT("/notifications/read-all", notifHandler.MarkAllRead)
		api.PUT("/notifications/:id/read", notifHandler.MarkRead)
		api.DELETE("/notifications/:id", notifHandler.Delete)
		api.GET("/notifications/preferences", notifHandler.GetPreferences)
		api.PUT("/notifications/preferences", notifHandler.UpdatePreferences)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, registry, classRepo, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
