package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/lessonloop/lessonloop-api/api/swagger"
	"github.com/lessonloop/lessonloop-api/internal/handler"
	"github.com/lessonloop/lessonloop-api/internal/middleware"
	"github.com/lessonloop/lessonloop-api/internal/models"
	"github.com/lessonloop/lessonloop-api/internal/repository"
	"github.com/lessonloop/lessonloop-api/internal/service"
	"github.com/lessonloop/lessonloop-api/pkg/cache"
	"github.com/lessonloop/lessonloop-api/pkg/config"
	"github.com/lessonloop/lessonloop-api/pkg/database"
	"github.com/lessonloop/lessonloop-api/pkg/logger"
	corsmiddleware "github.com/lessonloop/lessonloop-api/pkg/middleware/cors"
	reqidmiddleware "github.com/lessonloop/lessonloop-api/pkg/middleware/requestid"
)

// @title LessonLoop API
// @version 0.1.0
// @description Subscription, scheduling and session lifecycle service for 1:1 tutoring
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
		// Redis only backs caching and the sweep lock; the API stays up
		// without it.
		logr.Warn("redis unavailable, running without cache", zap.Error(err))
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	userRepo := repository.NewUserRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	availabilityRepo := repository.NewAvailabilityRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	weekRepo := repository.NewWeekRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	catalogSvc := service.NewCatalogService(catalogRepo, logr)
	availabilitySvc := service.NewAvailabilityService(availabilityRepo, weekRepo, subscriptionRepo,
		cacheRepo, cfg.Scheduling.AvailabilityCacheTTL, nil, logr)

	meetings := service.NewTemplateMeetingProvider(cfg.Meetings.JoinURLTemplate, cfg.Meetings.StartURLTemplate)
	materializerSvc := service.NewMaterializerService(weekRepo, subscriptionRepo, sessionRepo, meetings,
		cfg.Scheduling.MaterializerWorkers, cfg.Scheduling.MaterializerRetries, logr)
	materializerSvc.SetMetrics(metricsSvc)
	materializerSvc.Start(ctx)
	defer materializerSvc.Stop()

	scheduleSvc := service.NewScheduleService(weekRepo, subscriptionRepo, catalogRepo, availabilityRepo,
		materializerSvc, nil, logr)
	sessionSvc := service.NewSessionService(sessionRepo, subscriptionRepo, cacheRepo,
		cfg.Scheduling.JoinWindowLead, cfg.Scheduling.SweepLockTTL, logr)
	sessionSvc.SetMetrics(metricsSvc)
	subscriptionSvc := service.NewSubscriptionService(subscriptionRepo, catalogRepo, userRepo, nil, logr)
	exportSvc := service.NewExportService(subscriptionRepo, sessionRepo, logr)

	go sessionSvc.RunSweeper(ctx, cfg.Scheduling.SweepInterval)

	authHandler := handler.NewAuthHandler(authSvc)
	catalogHandler := handler.NewCatalogHandler(catalogSvc)
	availabilityHandler := handler.NewAvailabilityHandler(availabilitySvc)
	subscriptionHandler := handler.NewSubscriptionHandler(subscriptionSvc, exportSvc)
	scheduleHandler := handler.NewScheduleHandler(scheduleSvc)
	sessionHandler := handler.NewSessionHandler(sessionSvc)
	paymentHandler := handler.NewPaymentHandler(subscriptionSvc, cfg.Payments.WebhookSecret, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	// Webhook authentication is a shared secret, not a user token.
	api.POST("/payments/webhook", paymentHandler.Webhook)

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))
	{
		protected.GET("/catalog/courses", catalogHandler.ListCourses)
		protected.GET("/catalog/courses/:id", catalogHandler.GetCourse)
		protected.GET("/catalog/packages", catalogHandler.ListPackages)
		protected.GET("/catalog/packages/:id", catalogHandler.GetPackage)

		teacherOrAdmin := middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin)
		studentOrAdmin := middleware.RequireRoles(models.RoleStudent, models.RoleAdmin)
		adminOnly := middleware.RequireRoles(models.RoleAdmin)

		protected.GET("/teachers/:teacherId/availability", teacherOrAdmin, availabilityHandler.ListRules)
		protected.POST("/teachers/:teacherId/availability", teacherOrAdmin, availabilityHandler.CreateRule)
		protected.PUT("/availability/:id", teacherOrAdmin, availabilityHandler.UpdateRule)
		protected.DELETE("/availability/:id", teacherOrAdmin, availabilityHandler.DeleteRule)

		protected.GET("/subscriptions", subscriptionHandler.List)
		protected.POST("/subscriptions", studentOrAdmin, subscriptionHandler.Create)
		protected.GET("/subscriptions/:id", subscriptionHandler.Get)
		protected.POST("/subscriptions/:id/checkout", studentOrAdmin, subscriptionHandler.Checkout)
		protected.POST("/subscriptions/:id/assign-teacher", adminOnly, subscriptionHandler.AssignTeacher)
		protected.POST("/subscriptions/:id/cancel", studentOrAdmin, subscriptionHandler.Cancel)
		protected.GET("/subscriptions/:id/availability", availabilityHandler.CandidateWindows)
		protected.GET("/subscriptions/:id/weeks", scheduleHandler.ListWeeks)
		protected.GET("/subscriptions/:id/weeks/:index", scheduleHandler.GetWeek)
		protected.GET("/subscriptions/:id/sessions", sessionHandler.ListBySubscription)
		if cfg.Exports.Enabled {
			protected.GET("/subscriptions/:id/schedule/export", subscriptionHandler.ExportSchedule)
		}

		protected.POST("/weeks/:id/slots", studentOrAdmin, scheduleHandler.AddSlot)
		protected.DELETE("/slots/:id", studentOrAdmin, scheduleHandler.RemoveSlot)
		protected.POST("/weeks/:id/submit", studentOrAdmin, scheduleHandler.SubmitWeek)
		protected.POST("/weeks/:id/approve", teacherOrAdmin, scheduleHandler.ApproveWeek)
		protected.POST("/weeks/:id/reject", teacherOrAdmin, scheduleHandler.RejectWeek)
		protected.POST("/admin/weeks/:id/materialize", adminOnly, scheduleHandler.MaterializeWeek)

		protected.GET("/sessions/:id", sessionHandler.Get)
		protected.POST("/sessions/:id/start", teacherOrAdmin, sessionHandler.Start)
		protected.POST("/sessions/:id/complete", teacherOrAdmin, sessionHandler.Complete)
		protected.POST("/sessions/:id/cancel", teacherOrAdmin, sessionHandler.Cancel)
		protected.POST("/sessions/:id/no-show", teacherOrAdmin, sessionHandler.MarkNoShow)
		protected.POST("/sessions/:id/postpone", studentOrAdmin, sessionHandler.RequestPostpone)
		protected.POST("/sessions/:id/postpone/approve", teacherOrAdmin, sessionHandler.ApprovePostpone)
		protected.PATCH("/sessions/:id/links", adminOnly, sessionHandler.UpdateLinks)
		protected.POST("/maintenance/sync-expired-sessions", adminOnly, sessionHandler.Sweep)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		<-ctx.Done()
		logr.Info("shutting down")
		_ = srv.Shutdown(context.Background())
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
