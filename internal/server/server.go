// Package server exposes the HTTP trigger for quiz runs.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mohammad-safakhou/quizrunner/internal/orchestrator"
	"github.com/mohammad-safakhou/quizrunner/internal/queue/streams"
	"github.com/mohammad-safakhou/quizrunner/internal/telemetry"
	"github.com/mohammad-safakhou/quizrunner/internal/worker"
)

// Enqueuer hands a job to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, job streams.Job) (streams.Job, error)
}

// LagFunc reports the job queue backlog for /healthz.
type LagFunc func(ctx context.Context) (streams.LagMetrics, error)

type Server struct {
	echo    *echo.Echo
	runner  worker.Runner
	queue   Enqueuer
	lag     LagFunc
	metrics *telemetry.Metrics
	logger  *log.Logger

	// busy serialises synchronous runs; tasks of concurrent sessions would
	// otherwise compete for the same inference rate window.
	busy sync.Mutex
}

type Option func(*Server)

// WithQueue enables ?async=true on /start.
func WithQueue(q Enqueuer, lag LagFunc) Option {
	return func(s *Server) {
		s.queue = q
		s.lag = lag
	}
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds the echo instance and registers routes.
func New(runner worker.Runner, opts ...Option) (*Server, error) {
	if runner == nil {
		return nil, errors.New("server: runner is required")
	}
	s := &Server{runner: runner}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.HTTPErrorHandler = s.errorHandler

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/healthz", s.healthz)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
	e.POST("/start", s.start)
	s.echo = e
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Printf("listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error { return s.echo.Shutdown(ctx) }

// errorHandler renders every error as {"error": msg} and logs it.
func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]interface{}{"error": msg})
	}
}

func (s *Server) healthz(c echo.Context) error {
	body := map[string]interface{}{"status": "ok"}
	if s.lag != nil {
		lag, err := s.lag(c.Request().Context())
		if err != nil {
			body["status"] = "degraded"
			body["queue_error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		body["queue"] = lag
	}
	return c.JSON(http.StatusOK, body)
}

type startRequest struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

type startResponse struct {
	Status   string               `json:"status"`
	RunID    string               `json:"run_id,omitempty"`
	Duration float64              `json:"duration,omitempty"`
	Result   *orchestrator.Result `json:"result,omitempty"`
	Error    string               `json:"error,omitempty"`
}

func (s *Server) start(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	req.Email, req.Secret, req.URL = strings.TrimSpace(req.Email), strings.TrimSpace(req.Secret), strings.TrimSpace(req.URL)
	if req.Email == "" || req.Secret == "" || req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email, secret and url are required")
	}
	job := streams.Job{Email: req.Email, Secret: req.Secret, URL: req.URL}
	if err := job.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if async, _ := strconv.ParseBool(c.QueryParam("async")); async {
		if s.queue == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "job queue not configured")
		}
		queued, err := s.queue.Enqueue(c.Request().Context(), job)
		if err != nil {
			return fmt.Errorf("enqueue job: %w", err)
		}
		s.logger.Printf("queued run %s for %s -> %s", queued.RunID, req.Email, req.URL)
		return c.JSON(http.StatusAccepted, startResponse{Status: "queued", RunID: queued.RunID})
	}

	if !s.busy.TryLock() {
		return echo.NewHTTPError(http.StatusConflict, "a run is already in progress")
	}
	defer s.busy.Unlock()

	s.logger.Printf("starting run for %s -> %s", req.Email, req.URL)
	t0 := time.Now()
	res := s.runner.RunJob(c.Request().Context(), job)
	duration := time.Since(t0).Seconds()
	s.logger.Printf("run %s finished in %.1fs: %s", res.RunID, duration, res.State)

	resp := startResponse{
		Status:   strings.ToLower(string(res.State)),
		RunID:    res.RunID,
		Duration: duration,
		Result:   &res,
	}
	if res.State != orchestrator.Done {
		resp.Error = res.Reason
		return c.JSON(http.StatusInternalServerError, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
