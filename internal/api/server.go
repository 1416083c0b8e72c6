// Package api exposes the runner's status and metrics over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fleetd/fleetd/internal/common/config"
	"github.com/fleetd/fleetd/internal/common/logger"
	"github.com/fleetd/fleetd/internal/runner"
)

// Server serves /health, /api/v1/runner/status and /metrics.
type Server struct {
	cfg     config.ServerConfig
	runner  *runner.Runner
	log     *logger.Logger
	router  *gin.Engine
	httpSrv *http.Server
	started time.Time
}

func NewServer(cfg config.ServerConfig, r *runner.Runner, gatherer prometheus.Gatherer, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:     cfg,
		runner:  r,
		log:     log.WithFields(zap.String("component", "api-server")),
		router:  gin.New(),
		started: time.Now(),
	}

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(
		promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := s.router.Group("/api/v1")
	{
		api.GET("/runner/status", s.handleStatus)
	}

	return s
}

// Router returns the HTTP router, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
	}

	go func() {
		s.log.Info("api server listening", zap.String("addr", addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("api server failed", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

type statusResponse struct {
	runner.Status
	Uptime string `json:"uptime"`
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, statusResponse{
		Status: s.runner.Status(),
		Uptime: time.Since(s.started).Round(time.Second).String(),
	})
}
