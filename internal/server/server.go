// Package server exposes the HTTP API: job submission, status polling,
// artifact downloads, and the health endpoint.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"scoreforge/internal/config"
	"scoreforge/internal/jobs"
	"scoreforge/internal/logging"
	"scoreforge/internal/manager"
	"scoreforge/internal/services"
	"scoreforge/internal/stage"
)

// HealthReporter exposes stage readiness for the health endpoint.
type HealthReporter interface {
	Health(ctx context.Context) []stage.Health
}

// Server wires the HTTP routes to the job manager.
type Server struct {
	cfg     *config.Config
	jobs    *manager.Manager
	health  HealthReporter
	logger  *slog.Logger
	engine  *gin.Engine
	httpSrv *http.Server
}

// New constructs the server and its routes.
func New(cfg *config.Config, jobManager *manager.Manager, health HealthReporter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:    cfg,
		jobs:   jobManager,
		health: health,
		logger: logging.WithComponent(logger, "api"),
		engine: engine,
	}

	engine.Use(s.requestLog())
	engine.Use(cors())

	engine.GET("/healthz", s.handleHealth)
	engine.POST("/api/jobs", s.handleSubmit)
	engine.GET("/api/jobs", s.handleList)
	engine.GET("/api/jobs/:id", s.handleStatus)
	engine.DELETE("/api/jobs/:id", s.handleDiscard)
	engine.GET("/results/:id/:filename", s.handleArtifact)

	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving on the configured bind address.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Bind,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("http api listening", logging.String("bind", s.cfg.Bind))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		ctx := services.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		s.logger.InfoContext(ctx, "request",
			logging.String("method", c.Request.Method),
			logging.String("path", c.Request.URL.Path),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("elapsed", time.Since(start)),
		)
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) handleSubmit(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	defer file.Close()

	opts, err := optionsFromForm(c)
	if err != nil {
		s.renderError(c, err)
		return
	}

	view, err := s.jobs.Submit(c.Request.Context(), file, opts)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, view)
}

func (s *Server) handleStatus(c *gin.Context) {
	view, err := s.jobs.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleDiscard(c *gin.Context) {
	if err := s.jobs.Discard(c.Request.Context(), c.Param("id")); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleList(c *gin.Context) {
	views, err := s.jobs.List(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

func (s *Server) handleArtifact(c *gin.Context) {
	path, err := s.jobs.ArtifactPath(c.Request.Context(), c.Param("id"), c.Param("filename"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.File(path)
}

func (s *Server) handleHealth(c *gin.Context) {
	type stageStatus struct {
		Name   string `json:"name"`
		Ready  bool   `json:"ready"`
		Detail string `json:"detail,omitempty"`
	}
	out := gin.H{"status": "ok"}
	if s.health != nil {
		stages := make([]stageStatus, 0)
		for _, h := range s.health.Health(c.Request.Context()) {
			stages = append(stages, stageStatus{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
		}
		out["stages"] = stages
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(c.Request.Context(), "request failed", logging.Error(err))
	}
	c.JSON(status, gin.H{"error": services.Details(err)})
}

func optionsFromForm(c *gin.Context) (jobs.Options, error) {
	opts := jobs.Options{
		Clef:         jobs.Clef(c.PostForm("clef")),
		Instrument:   c.PostForm("instrument"),
		ForceKey:     c.PostForm("force_key"),
		Quantization: jobs.Grid(c.PostForm("quantization")),
	}
	if raw := c.PostForm("tempo"); raw != "" {
		tempo, err := strconv.Atoi(raw)
		if err != nil {
			return opts, services.Wrap(services.ErrValidation, "submit", "options",
				"tempo must be an integer", err)
		}
		opts.TempoBPM = tempo
	}
	var err error
	if opts.DetectTimeSignature, err = formBool(c, "detect_time_signature"); err != nil {
		return opts, err
	}
	if opts.LooseQuantization, err = formBool(c, "loose_quantization"); err != nil {
		return opts, err
	}
	return opts, nil
}

func formBool(c *gin.Context, field string) (bool, error) {
	raw := c.PostForm(field)
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, services.Wrap(services.ErrValidation, "submit", "options",
			field+" must be true or false", err)
	}
	return value, nil
}
