package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gymops/backend/internal/config"
	"github.com/gymops/backend/internal/http/handlers"
	"github.com/gymops/backend/internal/http/middleware"
	"github.com/gymops/backend/internal/service"

	_ "github.com/gymops/backend/docs"
)

func Router(cfg config.Config, store handlers.Store, engine *service.Engine, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:     store,
		Engine:    engine,
		Validator: validator.New(),
		Logger:    logger,
	}

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/contracts", h.ContractsList)
		api.GET("/tasks", h.TasksList)
		api.GET("/runs/latest", h.RunsLatest)
		api.GET("/tickets/:id/sla", h.TicketSLA)
		api.GET("/reports/compliance", h.ComplianceReport)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	admin.Use(middleware.RateLimit(middleware.NewTokenBucketLimiter(cfg.TriggerRatePerSec, cfg.TriggerBurst)))
	{
		admin.POST("/contracts/:id/generate", h.GenerateContract)
		admin.POST("/maintenance/generate", h.GenerateAll)
		admin.POST("/tasks/:id/assign", h.AssignTask)
		admin.POST("/tasks/:id/reassign", h.ReassignTask)
		admin.POST("/tasks/assign-pending", h.AssignPending)
		admin.POST("/tickets/:id/assign", h.AssignTicket)
		admin.POST("/tickets/:id/sla", h.RefreshTicketSLA)
		admin.POST("/tickets/sla/refresh", h.RefreshOpenSLA)
		admin.GET("/debug/scoring", h.DebugScoring)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
