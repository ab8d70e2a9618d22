package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/classreg-api/api/swagger"
	"github.com/noah-isme/classreg-api/internal/handler"
	"github.com/noah-isme/classreg-api/internal/middleware"
	"github.com/noah-isme/classreg-api/internal/models"
	"github.com/noah-isme/classreg-api/internal/repository"
	"github.com/noah-isme/classreg-api/internal/service"
	"github.com/noah-isme/classreg-api/pkg/cache"
	"github.com/noah-isme/classreg-api/pkg/config"
	"github.com/noah-isme/classreg-api/pkg/database"
	"github.com/noah-isme/classreg-api/pkg/export"
	"github.com/noah-isme/classreg-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/classreg-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/classreg-api/pkg/middleware/requestid"
	"github.com/noah-isme/classreg-api/pkg/webhook"
)

// @title Class Registration API
// @version 1.0.0
// @description Payment-event and enrollment lifecycle service for class registration
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, dedupe fast path and caching disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	classRepo := repository.NewClassRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	waitlistRepo := repository.NewWaitlistRepository(db)
	blockRepo := repository.NewBlockRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close()

	// Services.
	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "classreg-api",
	})

	gatewayClient := service.NewGatewayClient(cfg.Gateway, logr)
	accountingClient := service.NewAccountingClient(cfg.Accounting, logr)
	notificationService := service.NewNotificationService(cfg.Notifications, export.NewReceiptRenderer(), logr)

	engine := service.NewTransitionEngine()
	capacityService := service.NewCapacityService(classRepo, enrollmentRepo, waitlistRepo, blockRepo, logr)
	applier := service.NewTransitionApplier(db, paymentRepo, enrollmentRepo, webhookEventRepo, logr)
	dispatcher := service.NewDispatcherService(
		db, paymentRepo, enrollmentRepo, waitlistRepo, studentRepo, classRepo,
		capacityService, accountingClient, notificationService, metrics, logr,
	)

	verifier := webhook.NewSignatureVerifier(cfg.Webhook.SigningSecret, cfg.Webhook.Tolerance)
	webhookService := service.NewWebhookService(
		verifier, cacheRepo, webhookEventRepo, paymentRepo, enrollmentRepo,
		engine, applier, dispatcher, cfg.Webhook.DedupeTTL, metrics, logr,
	)
	paymentService := service.NewPaymentService(paymentRepo, enrollmentRepo, engine, applier, dispatcher, accountingClient, logr)
	refundService := service.NewRefundService(paymentRepo, enrollmentRepo, gatewayClient, engine, applier, dispatcher, notificationService, metrics, logr)
	checkoutService := service.NewCheckoutService(classRepo, enrollmentRepo, paymentRepo, waitlistRepo, blockRepo, capacityService, gatewayClient, logr)
	enrollmentService := service.NewEnrollmentService(enrollmentRepo, waitlistRepo, logr)
	classService := service.NewClassService(classRepo, cacheRepo, cfg.Availability.CacheTTL, metrics, logr)
	blockService := service.NewBlockService(blockRepo, enrollmentRepo, enrollmentRepo, waitlistRepo, paymentRepo, paymentService, logr)
	conflictService := service.NewScheduleConflictService(classRepo, enrollmentRepo, logr)

	// Handlers.
	authHandler := handler.NewAuthHandler(authService)
	webhookHandler := handler.NewWebhookHandler(webhookService)
	paymentHandler := handler.NewPaymentHandler(paymentService, refundService)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentService, checkoutService)
	classHandler := handler.NewClassHandler(classService, enrollmentService, conflictService)
	blockHandler := handler.NewBlockHandler(blockService)
	metricsHandler := handler.NewMetricsHandler(metrics)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)

	api.POST("/webhooks/payment", webhookHandler.Receive)

	classes := api.Group("/classes")
	classes.GET("", classHandler.List)
	classes.GET("/:id", classHandler.Get)
	classes.GET("/:id/waitlist", middleware.JWT(authService), classHandler.Waitlist)

	enrollments := api.Group("/enrollments", middleware.JWT(authService))
	enrollments.POST("", enrollmentHandler.Enroll)
	enrollments.GET("", enrollmentHandler.List)
	enrollments.GET("/:id", enrollmentHandler.Get)

	payments := api.Group("/payments", middleware.JWT(authService), middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	payments.GET("", paymentHandler.List)
	payments.GET("/:id", paymentHandler.Get)
	payments.PUT("/:id/status", middleware.Audit(userRepo, "PAYMENT_STATUS_OVERRIDE", "payment"), paymentHandler.SetStatus)
	payments.POST("/:id/refund", middleware.Audit(userRepo, "PAYMENT_REFUND", "payment"), paymentHandler.Refund)
	payments.POST("/refund", middleware.Audit(userRepo, "PAYMENT_REFUND", "payment"), paymentHandler.Refund)
	payments.POST("/resync", paymentHandler.Resync)

	teachers := api.Group("/teachers", middleware.JWT(authService), middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin, models.RoleSuperAdmin))
	teachers.POST("/:teacherId/blocks", blockHandler.Block)
	teachers.DELETE("/:teacherId/blocks/:studentId", blockHandler.Unblock)
	teachers.POST("/:teacherId/schedule/conflicts", classHandler.ResolveConflicts)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notificationService.Start(rootCtx)
	defer notificationService.Stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
}
