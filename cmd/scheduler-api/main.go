package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/univ-scheduler-api/api/swagger"
	"github.com/noah-isme/univ-scheduler-api/internal/repository"
	"github.com/noah-isme/univ-scheduler-api/internal/scheduler"
	"github.com/noah-isme/univ-scheduler-api/internal/service"
	"github.com/noah-isme/univ-scheduler-api/pkg/cache"
	"github.com/noah-isme/univ-scheduler-api/pkg/config"
	"github.com/noah-isme/univ-scheduler-api/pkg/database"
	"github.com/noah-isme/univ-scheduler-api/pkg/jobs"
	"github.com/noah-isme/univ-scheduler-api/pkg/logger"
	"github.com/noah-isme/univ-scheduler-api/pkg/realtime"
	"github.com/noah-isme/univ-scheduler-api/pkg/storage"
)

// @title University Scheduler API
// @version 1.0.0
// @description Generates and serves class-session timetables for a university.
// @BasePath /api/v1
// @schemes http https
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
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close()

	// Redis is optional; without it every cache read misses.
	var redisClient redis.UniversalClient
	if client, err := cache.NewRedis(cfg.Redis); err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
	} else {
		redisClient = client
		defer client.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, db, redisClient, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to build application", "error", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(cfg, app, logr),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("server shutdown incomplete", "error", err)
	}
	app.queue.Stop()
}

type app struct {
	auth      *service.AuthService
	metrics   *service.MetricsService
	runs      *service.SchedulingRunService
	schedule  *service.ScheduleService
	exports   *service.ExportService
	hub       *realtime.Hub
	queue     *jobs.Queue
	cacheRepo *repository.CacheRepository
	db        *sqlx.DB
}

func buildApp(ctx context.Context, cfg *config.Config, db *sqlx.DB, redisClient redis.UniversalClient, logr *zap.Logger) (*app, error) {
	validate := validator.New()
	metrics := service.NewMetricsService()

	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Redis.KeyPrefix, cfg.Cache.RunStatusTTL, logr, redisClient != nil)

	userRepo := repository.NewUserRepository(db)
	runRepo := repository.NewSchedulingRunRepository(db)
	failureRepo := repository.NewRunFailureRepository(db)
	entryRepo := repository.NewScheduleEntryRepository(db)
	timetableRepo := repository.NewTimetableRepository(db)
	requirementRepo := repository.NewRequirementRepository(db)
	calendarRepo := repository.NewCalendarRepository(db)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            "univ-scheduler",
	})

	hub := realtime.NewHub(logr)
	go hub.Run(ctx)

	loader := service.NewWorkspaceLoader(timetableRepo, requirementRepo, calendarRepo, cfg.Scheduler.WorkingWeekdays, logr)
	engine := scheduler.NewEngine(logr, cfg.Scheduler.Parallelism)
	worker := service.NewSchedulingRunWorker(runRepo, failureRepo, entryRepo, loader, engine, hub, cacheSvc, metrics, logr, service.SchedulingWorkerConfig{
		MaxRetries:              cfg.Scheduler.WorkerRetries,
		ProgressPersistInterval: cfg.Scheduler.ProgressPersistInterval,
		StatusTTL:               cfg.Cache.RunStatusTTL,
	})
	queue := jobs.NewQueue("scheduling-runs", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Scheduler.WorkerConcurrency,
		BufferSize: cfg.Scheduler.QueueBuffer,
		MaxRetries: cfg.Scheduler.WorkerRetries,
		RetryDelay: 5 * time.Second,
		Logger:     logr,
	})

	runSvc := service.NewSchedulingRunService(runRepo, failureRepo, queue, hub, cacheSvc, validate, logr, service.SchedulingRunConfig{
		DefaultIterations:         cfg.Scheduler.DefaultIterations,
		MaxIterations:             cfg.Scheduler.MaxIterations,
		DefaultStrictness:         cfg.Scheduler.DefaultStrictness,
		ShortenPreHoliday:         cfg.Scheduler.ShortenPreHoliday,
		RespectProductionCalendar: cfg.Scheduler.RespectProductionCalendar,
		StatusTTL:                 cfg.Cache.RunStatusTTL,
	})
	if cfg.Scheduler.Enabled {
		queue.Start(ctx)
		runSvc.Recover(ctx)
	} else {
		logr.Sugar().Warnw("scheduler disabled, new runs will fail to enqueue")
	}

	scheduleSvc := service.NewScheduleService(entryRepo, cacheSvc, validate, logr, cfg.Cache.EntriesTTL)

	var exportSvc *service.ExportService
	if cfg.Exports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			return nil, fmt.Errorf("init export storage: %w", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportSvc = service.NewExportService(scheduleSvc, store, signer, validate, logr, service.ExportConfig{
			APIPrefix:       cfg.APIPrefix,
			RetainFor:       cfg.Exports.RetainFor,
			CleanupInterval: cfg.Exports.CleanupInterval,
		})
		exportSvc.StartCleanup(ctx)
	}

	return &app{
		auth:      authSvc,
		metrics:   metrics,
		runs:      runSvc,
		schedule:  scheduleSvc,
		exports:   exportSvc,
		hub:       hub,
		queue:     queue,
		cacheRepo: cacheRepo,
		db:        db,
	}, nil
}
