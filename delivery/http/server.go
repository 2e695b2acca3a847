package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/issaops/contract-pipeline/config"
	"github.com/issaops/contract-pipeline/pkg/logging"
	"github.com/issaops/contract-pipeline/usecase"
)

// Server exposes the pipeline trigger and status surface over HTTP.
type Server struct {
	pipeline *usecase.PipelineUseCase
	logger   *logging.Logger
	server   *http.Server
}

// NewServer creates the HTTP server and wires all routes.
func NewServer(cfg *config.ServerConfig, pipeline *usecase.PipelineUseCase, logger *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		pipeline: pipeline,
		logger:   logger.WithComponent("http"),
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}

	router.Use(s.requestLogger())

	router.GET("/health", s.handleHealth)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/pipeline/run", s.handleRun)
		v1.GET("/pipeline/status", s.handleStatus)
		v1.GET("/pipeline/sources", s.handleSources)
	}

	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.logger.Info("HTTP server starting", logging.String("addr", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", logging.String("error", err.Error()))
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleRun triggers a synchronous pipeline run. The response is always
// the full run result; a failed run is still a 200 because the trigger
// itself succeeded. Only a concurrent run is rejected.
func (s *Server) handleRun(c *gin.Context) {
	result, err := s.pipeline.Run(c.Request.Context(), true)
	if err != nil {
		if err == usecase.ErrRunInProgress {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleStatus reports the current state, last run and cumulative stats.
func (s *Server) handleStatus(c *gin.Context) {
	state, lastResult, stats := s.pipeline.Status()

	c.JSON(http.StatusOK, gin.H{
		"state":    state,
		"last_run": lastResult,
		"stats":    stats,
	})
}

// handleSources checks and reports the health of every registered data
// source.
func (s *Server) handleSources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sources": s.pipeline.Sources(c.Request.Context())})
}

// handleHealth is the liveness probe. Running is a healthy state.
func (s *Server) handleHealth(c *gin.Context) {
	state, _, _ := s.pipeline.Status()
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"state":  state,
		"time":   time.Now().UTC(),
	})
}

// requestLogger logs every request with latency, matching the structured
// log format used everywhere else.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info("HTTP request",
			logging.String("method", c.Request.Method),
			logging.String("path", c.Request.URL.Path),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("latency", time.Since(start)),
		)
	}
}
