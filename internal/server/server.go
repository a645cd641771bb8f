// Package server exposes the REST API: drive sign-in and sync management,
// catalog browsing with content redirects, and upload job control.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gene9831/one-app-api/internal/database"
	"github.com/gene9831/one-app-api/internal/drives"
	"github.com/gene9831/one-app-api/internal/syncer"
	"github.com/gene9831/one-app-api/internal/uploader"
	"github.com/gene9831/one-app-api/pkg/auth"
	"github.com/gene9831/one-app-api/pkg/config"
	"github.com/gene9831/one-app-api/pkg/graph"
	"github.com/gene9831/one-app-api/pkg/logger"
)

// Dependencies carries everything the API layer needs.
type Dependencies struct {
	DB      *database.Database
	Store   *database.Store
	Syncer  *syncer.Syncer
	Uploads *uploader.Service
	Drives  *drives.Manager
	Watcher *drives.Refresher
	Graph   *graph.Client
	JWT     *auth.JWTManager
	Log     *logger.Logger
}

// Server is the HTTP front of the service.
type Server struct {
	cfg        config.ServerConfig
	engine     *gin.Engine
	httpServer *http.Server
	log        *logger.Logger
}

// New builds the router and its controllers.
func New(cfg config.ServerConfig, deps Dependencies) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestIDMiddleware())
	engine.Use(LoggingMiddleware(deps.Log))

	engine.GET("/health", func(c *gin.Context) {
		if err := deps.DB.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		payload := gin.H{"status": "ok"}
		if stats, err := deps.DB.GetStats(); err == nil {
			payload["database"] = stats
		}
		c.JSON(http.StatusOK, payload)
	})

	api := engine.Group("/api")
	admin := api.Group("/admin")
	admin.Use(AuthMiddleware(deps.JWT))

	authCtrl := NewAuthController(deps.JWT, deps.Log)
	authCtrl.RegisterRoutes(api, admin)

	driveCtrl := NewDriveController(deps.Store, deps.Drives, deps.Watcher, deps.Syncer, deps.Uploads, deps.Log)
	driveCtrl.RegisterRoutes(api, admin)

	itemCtrl := NewItemController(deps.Store, deps.Drives, deps.Graph, deps.Log)
	itemCtrl.RegisterRoutes(api, admin)

	uploadCtrl := NewUploadController(deps.Uploads, deps.Log)
	uploadCtrl.RegisterRoutes(admin)

	return &Server{
		cfg:    cfg,
		engine: engine,
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      engine,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: deps.Log,
	}
}

// Engine exposes the router. Used by tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.log.Info("http server listening on %s", s.cfg.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
