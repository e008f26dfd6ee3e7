// Package api exposes the orchestrator over HTTP: the task lifecycle
// endpoints, a WebSocket event stream, health and Prometheus metrics.
// Authentication stays in front of the service; handlers only require
// a caller identity header.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/jexlab/jex/pkg/config"
	"github.com/jexlab/jex/pkg/database"
	"github.com/jexlab/jex/pkg/events"
	"github.com/jexlab/jex/pkg/models"
)

// TaskService is the slice of the service layer the handlers use.
// Implemented by *services.TaskService.
type TaskService interface {
	CreateTask(ctx context.Context, userID, scene, userInput string) (*models.CreateTaskResult, error)
	SubmitAnswers(ctx context.Context, taskID, userID string, answers map[int]string, rawState json.RawMessage) (*models.SubmitAnswersResult, error)
	StartProcessing(ctx context.Context, taskID, userID string) (*models.StartProcessingResult, error)
	GetTask(ctx context.Context, taskID, userID string) (*models.Task, error)
	ListTasks(ctx context.Context, userID string, limit, offset int) (*models.TaskListResult, error)
}

// Server hosts the HTTP API.
type Server struct {
	cfg     *config.Config
	db      *database.Client
	rdb     *redis.Client
	tasks   TaskService
	bus     events.Bus
	echo    *echo.Echo
	httpSrv *http.Server
	metrics http.Handler
	logger  *slog.Logger
}

// NewServer builds the server with all routes and middleware registered.
func NewServer(cfg *config.Config, db *database.Client, tasks TaskService, bus events.Bus) *Server {
	s := &Server{
		cfg:     cfg,
		db:      db,
		tasks:   tasks,
		bus:     bus,
		metrics: promhttp.Handler(),
		logger:  slog.With("component", "api"),
	}

	e := echo.New()
	e.Use(recoverPanics(s.logger))
	e.Use(requestLogger(s.logger))
	e.Use(securityHeaders())
	if len(cfg.Flags.CORSOrigins) > 0 {
		e.Use(corsHeaders(cfg.Flags.CORSOrigins))
	}
	s.registerRoutes(e)

	s.echo = e
	s.httpSrv = &http.Server{
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetRedis wires the optional Redis client into the health report.
// Called during startup when the distributed bus or lock is enabled.
func (s *Server) SetRedis(rdb *redis.Client) {
	s.rdb = rdb
}

func (s *Server) registerRoutes(e *echo.Echo) {
	e.GET("/healthz", s.healthHandler)
	e.GET("/metrics", s.metricsHandler)

	e.POST("/api/v1/tasks", s.createTaskHandler)
	e.GET("/api/v1/tasks", s.listTasksHandler)
	e.GET("/api/v1/tasks/:id", s.getTaskHandler)
	e.POST("/api/v1/tasks/:id/answers", s.submitAnswersHandler)
	e.POST("/api/v1/tasks/:id/start-processing", s.startProcessingHandler)
	e.GET("/api/v1/tasks/:id/progress", s.progressHandler)
	e.GET("/api/v1/ws", s.wsHandler)
}

// metricsHandler serves the default Prometheus registry.
func (s *Server) metricsHandler(c *echo.Context) error {
	s.metrics.ServeHTTP(c.Response(), c.Request())
	return nil
}

// Start serves HTTP on addr and blocks until the listener closes. A
// server stopped through Shutdown returns nil.
func (s *Server) Start(addr string) error {
	s.httpSrv.Addr = addr
	s.logger.Info("HTTP server listening", "addr", addr)

	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// StartWithListener serves HTTP on an already-bound listener. Tests use
// it to run on an ephemeral port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.logger.Info("HTTP server listening", "addr", ln.Addr().String())

	err := s.httpSrv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests. Hijacked WebSocket connections
// are not waited for; their read loops end when the process exits.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
