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
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/harmonia-school/schedule-api/api/swagger"
	"github.com/harmonia-school/schedule-api/internal/handler"
	"github.com/harmonia-school/schedule-api/internal/middleware"
	"github.com/harmonia-school/schedule-api/internal/models"
	"github.com/harmonia-school/schedule-api/internal/repository"
	"github.com/harmonia-school/schedule-api/internal/service"
	"github.com/harmonia-school/schedule-api/pkg/cache"
	"github.com/harmonia-school/schedule-api/pkg/config"
	"github.com/harmonia-school/schedule-api/pkg/database"
	"github.com/harmonia-school/schedule-api/pkg/jobs"
	"github.com/harmonia-school/schedule-api/pkg/logger"
	corsmiddleware "github.com/harmonia-school/schedule-api/pkg/middleware/cors"
	reqidmiddleware "github.com/harmonia-school/schedule-api/pkg/middleware/requestid"
)

// @title Harmonia Schedule API
// @version 1.0.0
// @description Recurring lesson scheduling for music school studios
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("postgres connection failed", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()
	metrics := service.NewMetricsService()

	patternRepo := repository.NewPatternRepository(db)
	lessonRepo := repository.NewLessonRepository(db)
	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Schedule.CacheTTL, logr, redisClient != nil)

	generator := service.NewLessonGeneratorService(patternRepo, lessonRepo, metrics, logr, service.GeneratorConfig{
		DefaultHorizonWeeks: cfg.Schedule.DefaultHorizonWeeks,
		MaxWeeksForward:     cfg.Schedule.MaxWeeksForward,
	})
	patternSvc := service.NewPatternService(patternRepo, lessonRepo, generator, patternRepo, cacheSvc, validate, logr)
	lessonSvc := service.NewLessonService(lessonRepo, lessonRepo, cacheSvc, validate, logr)

	audience := ""
	if len(cfg.JWT.Audience) > 0 {
		audience = cfg.JWT.Audience[0]
	}
	authSvc := service.NewAuthService(service.AuthConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: audience,
	}, logr)

	var queue *jobs.Queue
	if cfg.Worker.Enabled {
		queue = jobs.NewQueue("lesson-generation", func(ctx context.Context, job jobs.GenerationJob) error {
			_, err := patternSvc.GenerateForPattern(ctx, job.PatternID, job.HorizonEnd)
			return err
		}, jobs.QueueConfig{Workers: cfg.Worker.Workers, Logger: logr})
		queue.Start(ctx)
		defer queue.Stop()

		go topUpLoop(ctx, cfg.Worker.Interval, patternSvc, logr)
	}

	var enqueuer service.GenerationEnqueuer
	if queue != nil {
		enqueuer = queue
	}
	scheduleSvc := service.NewScheduleService(lessonRepo, patternRepo, cacheSvc, enqueuer, validate, logr, cfg.Schedule.AutoTopUp)

	patternHandler := handler.NewPatternHandler(patternSvc)
	lessonHandler := handler.NewLessonHandler(lessonSvc)
	scheduleHandler := handler.NewScheduleHandler(scheduleSvc)
	adminHandler := handler.NewAdminHandler(patternSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

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
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	authed := api.Group("", middleware.JWT(authSvc))

	patterns := authed.Group("/patterns", middleware.RequireCapability(models.CapManagePatterns))
	patterns.POST("", patternHandler.Create)
	patterns.GET("", patternHandler.List)
	patterns.GET("/:id", patternHandler.Get)
	patterns.PATCH("/:id", patternHandler.Update)
	patterns.DELETE("/:id", patternHandler.Delete)
	patterns.POST("/:id/generate", patternHandler.Generate)

	lessons := authed.Group("/lessons")
	lessons.POST("", middleware.RequireCapability(models.CapManageLessons), lessonHandler.Create)
	lessons.GET("/:id", middleware.RequireCapability(models.CapViewSchedule), lessonHandler.Get)
	lessons.POST("/:id/exception", middleware.RequireCapability(models.CapManageLessons), lessonHandler.Exception)
	lessons.DELETE("/:id/exception", middleware.RequireCapability(models.CapManageLessons), lessonHandler.RevertException)
	lessons.POST("/:id/complete", middleware.RequireCapability(models.CapManageLessons), lessonHandler.Complete)
	lessons.POST("/:id/cancel", middleware.RequireCapability(models.CapManageLessons), lessonHandler.Cancel)
	lessons.POST("/:id/miss", middleware.RequireCapability(models.CapManageLessons), lessonHandler.MarkMissed)
	lessons.GET("/:id/attendance", middleware.RequireCapability(models.CapViewSchedule), lessonHandler.ListAttendance)
	lessons.PUT("/:id/attendance/:studentId", middleware.RequireCapability(models.CapRecordAttendance), lessonHandler.UpdateAttendance)

	schedule := authed.Group("/schedule", middleware.RequireCapability(models.CapViewSchedule))
	schedule.GET("/week", scheduleHandler.Week)
	schedule.GET("/week/export", scheduleHandler.Export)

	admin := api.Group("/admin", middleware.InternalAPIKey(cfg.Admin.InternalAPIKeyHash))
	admin.POST("/generate-all", adminHandler.GenerateAll)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown failed", "error", err)
	}
	logr.Sugar().Infow("server stopped")
}

// topUpLoop periodically tops up every active pattern so lessons always
// exist through the default horizon even without traffic.
func topUpLoop(ctx context.Context, interval time.Duration, patterns *service.PatternService, logr *zap.Logger) {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runID := uuid.NewString()
			entries, err := patterns.GenerateAll(ctx)
			if err != nil {
				logr.Warn("scheduled top-up failed", zap.String("run_id", runID), zap.Error(err))
				continue
			}
			created, skipped := 0, 0
			for _, entry := range entries {
				created += entry.Created
				skipped += entry.Skipped
			}
			logr.Info("scheduled top-up finished",
				zap.String("run_id", runID),
				zap.Int("patterns", len(entries)),
				zap.Int("created", created),
				zap.Int("skipped", skipped))
		}
	}
}
