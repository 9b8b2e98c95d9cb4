package api

import (
	"github.com/gin-gonic/gin"
	"github.com/leozw/presence-guardian/internal/api/handlers"
	"github.com/leozw/presence-guardian/internal/api/middleware"
	"github.com/leozw/presence-guardian/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	Config  *config.Config
	Router  *gin.Engine
	handler *handlers.Handler
	logger  *zap.Logger
}

// NewServer wires the admin API. gatherer backs /metrics; a nil gatherer
// leaves the endpoint out.
func NewServer(cfg *config.Config, handler *handlers.Handler, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	server := &Server{
		Config:  cfg,
		Router:  router,
		handler: handler,
		logger:  logger,
	}

	server.setupRoutes(gatherer)
	return server
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.Router.GET("/health", s.handler.Health)
	s.Router.GET("/ready", s.handler.Ready)

	if gatherer != nil {
		s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := s.Router.Group("/api/v1")
	if s.Config.Auth.JWTSecret != "" {
		api.Use(middleware.AuthRequired(s.Config.Auth.JWTSecret))
	} else {
		s.logger.Warn("No JWT secret configured, admin API is unauthenticated")
	}

	tenant := api.Group("/tenants/:tenant_id")
	tenant.Use(middleware.Tenant())
	{
		tenant.PUT("/channel", s.handler.SetChannel)
		tenant.DELETE("/channel", s.handler.RemoveChannel)

		tenant.GET("/accounts", s.handler.ListAccounts)
		tenant.POST("/accounts", s.handler.AddAccount)
		tenant.DELETE("/accounts/:account_id", s.handler.RemoveAccount)

		tenant.GET("/uptime", s.handler.TenantUptime)
		tenant.GET("/uptime/:account_id", s.handler.AccountUptime)
	}
}
