package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/caseroute/backend/internal/config"
	"github.com/caseroute/backend/internal/http/handlers"
	"github.com/caseroute/backend/internal/http/middleware"
	"github.com/caseroute/backend/internal/models"
	"github.com/caseroute/backend/internal/service"
	"github.com/caseroute/backend/internal/store"

	_ "github.com/caseroute/backend/docs"
)

func Router(cfg config.Config, st store.Store, cases *service.CaseService, gatherer prometheus.Gatherer, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept",
			middleware.AdminKeyHeader, middleware.RequestIDHeader,
			middleware.ActorIDHeader, middleware.ActorKindHeader, middleware.ActorPermissionsHeader,
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:     st,
		Cases:     cases,
		Validator: validator.New(),
		Logger:    logger,
		System:    models.SystemActor(cfg.SystemActorID),
	}

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	api.Use(middleware.Timeout(cfg.RequestTimeout))

	caseAPI := api.Group("")
	caseAPI.Use(middleware.Actor())
	{
		caseAPI.GET("/cases/:id", h.CaseGet)
		caseAPI.GET("/cases/:id/movements", h.CaseMovements)
		caseAPI.GET("/cases/:id/audit", h.CaseAudit)
		caseAPI.POST("/cases/:id/status", h.CaseSetStatus)
		caseAPI.POST("/cases/:id/queues/:queue_id/move-forward", h.CaseMoveForward)
		caseAPI.POST("/cases/:id/countersign", h.CaseCountersign)
		caseAPI.POST("/cases/:id/amendments", h.CaseAmend)
		caseAPI.POST("/queues/:queue_id/bulk-approve", h.QueueBulkApprove)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/cases/:id/route", h.CaseRoute)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
