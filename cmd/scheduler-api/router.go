package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/univ-scheduler-api/internal/handler"
	"github.com/noah-isme/univ-scheduler-api/internal/middleware"
	"github.com/noah-isme/univ-scheduler-api/internal/models"
	"github.com/noah-isme/univ-scheduler-api/pkg/config"
	"github.com/noah-isme/univ-scheduler-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/univ-scheduler-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/univ-scheduler-api/pkg/middleware/requestid"
)

func newRouter(cfg *config.Config, a *app, logr *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(a.metrics))

	metricsHandler := handler.NewMetricsHandler(a.metrics, map[string]handler.Pinger{
		"database": handler.PingFunc(a.db.PingContext),
		"redis":    a.cacheRepo,
	})
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta())

	authHandler := handler.NewAuthHandler(a.auth)
	api.POST("/auth/login", authHandler.Login)

	secured := api.Group("")
	secured.Use(middleware.JWT(a.auth))
	secured.GET("/auth/me", authHandler.Me)

	readers := middleware.RequireRoles(models.RoleAdmin, models.RoleDispatcher, models.RoleViewer)
	writers := middleware.RequireRoles(models.RoleAdmin, models.RoleDispatcher)

	runHandler := handler.NewSchedulingRunHandler(a.runs, a.hub, cfg.CORS.AllowedOrigins, cfg.APIPrefix, logr)
	runs := secured.Group("/scheduling-runs")
	runs.POST("", writers, runHandler.Create)
	runs.GET("/:id", readers, runHandler.Get)
	runs.POST("/:id/cancel", writers, runHandler.Cancel)
	runs.GET("/:id/failures", readers, runHandler.Failures)
	runs.GET("/:id/progress/ws", readers, runHandler.Progress)

	entryHandler := handler.NewScheduleEntryHandler(a.schedule)
	secured.GET("/schedule-entries", readers, entryHandler.List)

	if a.exports != nil {
		exportHandler := handler.NewExportHandler(a.exports)
		secured.POST("/schedule-exports", readers, exportHandler.Create)
		// signed tokens authorise downloads on their own
		api.GET("/export/:token", exportHandler.Download)
	}

	return r
}
