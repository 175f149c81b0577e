// Package api is the HTTP transport: gin routing, JSON (de)serialization,
// JWT-derived caller identity, and the error-Kind-to-status mapping. None of
// this is domain logic; every handler is a thin adapter onto engine.Engine.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/552020/futura-alpha-icp-sub003/internal/config"
	"github.com/552020/futura-alpha-icp-sub003/internal/engine"
	"github.com/552020/futura-alpha-icp-sub003/internal/logger"
	"github.com/552020/futura-alpha-icp-sub003/internal/middleware"
)

// Server hosts the HTTP API over a single engine.Engine.
type Server struct {
	config  *config.Config
	engine  *engine.Engine
	router  *gin.Engine
	jwtAuth *middleware.GinJWTAuth
	logger  *logger.Logger
}

func NewServer(cfg *config.Config, eng *engine.Engine, l *logger.Logger) *Server {
	s := &Server{
		config:  cfg,
		engine:  eng,
		router:  gin.New(),
		jwtAuth: middleware.NewGinJWTAuth(middleware.NewJWTAuth()),
		logger:  l,
	}
	s.router.Use(gin.Recovery())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	corsConfig := cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		ExposeHeaders:    []string{"X-Blob-Id", "X-Session-Id"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	s.router.Use(cors.New(corsConfig))

	s.router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	v1 := s.router.Group("/api/v1")
	v1.Use(s.jwtAuth.RequireAuth())

	v1.POST("/capsules", s.handleCapsulesCreate)

	v1.POST("/capsules/:capsule_id/uploads", s.handleUploadsBegin)
	v1.PUT("/uploads/:session_id/chunks/:index", s.handleUploadsPutChunk)
	v1.POST("/uploads/:session_id/finish", s.handleUploadsFinish)
	v1.POST("/uploads/:session_id/abort", s.handleUploadsAbort)
	v1.GET("/uploads/:session_id", s.handleUploadsStatus)

	v1.GET("/blobs/:blob_id", s.handleBlobGetMeta)
	v1.GET("/blobs/:blob_id/chunks/:index", s.handleBlobReadChunk)
	v1.GET("/blobs/:blob_id/content", s.handleBlobRead)
	v1.DELETE("/blobs/:blob_id", s.handleBlobDelete)

	v1.POST("/memories", s.handleMemoriesCreate)
	v1.POST("/memories/legacy", s.handleMemoriesCreateLegacy)
	v1.GET("/memories/:memory_id", s.handleMemoriesRead)
	v1.DELETE("/memories/:memory_id", s.handleMemoriesDelete)
}

// Start begins serving HTTP requests; blocks until the listener fails.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server on port " + s.config.Port)
	return http.ListenAndServe(":"+s.config.Port, s.router)
}

// Shutdown returns nil without stopping anything. It does not close the
// underlying *sql.DB or Redis client; main owns those.
func (s *Server) Shutdown(ctx context.Context) error {
	return nil
}
