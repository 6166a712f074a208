// Package api provides EvalCore's thin HTTP surface: health, run
// introspection, and Prometheus scraping. The full definition/scenario
// graph API is out of scope (SPEC_FULL.md §1); this is just enough to
// operate a running deployment.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evalforge/evalcore/pkg/apperrors"
	"github.com/evalforge/evalcore/pkg/database"
	"github.com/evalforge/evalcore/pkg/run"
	"github.com/evalforge/evalcore/pkg/store"
)

// Server is the HTTP API surface.
type Server struct {
	engine     *gin.Engine
	dbClient   *database.Client
	runs       *store.RunStore
	controller *run.Controller
}

// NewServer builds the Gin engine and registers routes.
func NewServer(dbClient *database.Client, runs *store.RunStore, controller *run.Controller) *Server {
	engine := gin.Default()
	s := &Server{engine: engine, dbClient: dbClient, runs: runs, controller: controller}
	s.setupRoutes()
	return s
}

// Handler returns the underlying http.Handler for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	runs := s.engine.Group("/runs")
	runs.GET("/:id", s.getRun)
	runs.POST("/:id/pause", s.pauseRun)
	runs.POST("/:id/resume", s.resumeRun)
	runs.POST("/:id/cancel", s.cancelRun)
}

func (s *Server) health(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.dbClient.Pool.Ping(reqCtx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "unreachable",
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "reachable",
	})
}

func (s *Server) getRun(c *gin.Context) {
	r, err := s.runs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) pauseRun(c *gin.Context) {
	if err := s.controller.Pause(c.Request.Context(), c.Param("id")); err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (s *Server) resumeRun(c *gin.Context) {
	if err := s.controller.Resume(c.Request.Context(), c.Param("id")); err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

func (s *Server) cancelRun(c *gin.Context) {
	if err := s.controller.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		s.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) writeStoreError(c *gin.Context, err error) {
	switch {
	case apperrors.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case apperrors.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
