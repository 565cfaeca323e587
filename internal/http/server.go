// Package http exposes the document index over a JSON HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docindex/internal/domain"
	"github.com/fyrsmithlabs/docindex/internal/indexer"
	"github.com/fyrsmithlabs/docindex/internal/logging"
	"github.com/fyrsmithlabs/docindex/internal/query"
	"github.com/fyrsmithlabs/docindex/internal/registry"
	"github.com/fyrsmithlabs/docindex/internal/synthesis"
)

// maxBodySize bounds request bodies; ingested text dominates.
const maxBodySize = "64M"

// Builder runs and removes index builds.
type Builder interface {
	Build(ctx context.Context, req indexer.BuildRequest) (*indexer.BuildResult, error)
	Delete(ctx context.Context, id string) error
}

// Searcher answers queries.
type Searcher interface {
	Query(ctx context.Context, req query.Request) (*query.Response, error)
	Answer(ctx context.Context, req query.Request) (*query.AnswerResponse, error)
	Summarize(ctx context.Context, req query.SummaryRequest) (*query.SummaryResponse, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
	// Meter records request metrics; nil uses the global provider.
	Meter metric.Meter
}

// Server serves the API.
type Server struct {
	echo     *echo.Echo
	registry *registry.Registry
	builder  Builder
	searcher Searcher
	logger   *zap.Logger
	config   *Config
}

// NewServer creates a new HTTP server.
func NewServer(reg *registry.Registry, builder Builder, searcher Searcher, logger *zap.Logger, cfg *Config) (*Server, error) {
	if reg == nil || builder == nil || searcher == nil {
		return nil, fmt.Errorf("registry, builder and searcher are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		registry: reg,
		builder:  builder,
		searcher: searcher,
		logger:   logger.Named("http"),
		config:   cfg,
	}
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(maxBodySize))
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		},
	}))
	e.Use(s.requestLogger)
	e.Use(NewHTTPMetrics(cfg.Meter, s.logger).Middleware())

	s.registerRoutes()
	return s, nil
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}
		s.logger.Info("http request", append(logging.ContextFields(c.Request().Context()),
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)...)
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/documents", s.handleIngest)
	v1.GET("/documents", s.handleList)
	v1.GET("/documents/:id", s.handleStatus)
	v1.DELETE("/documents/:id", s.handleDelete)
	v1.POST("/documents/:id/index", s.handleIndex)
	v1.POST("/query", s.handleQuery)
	v1.POST("/answer", s.handleAnswer)
	v1.GET("/summaries", s.handleSummary)
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   s.config.Version,
		Documents: countStates(s.registry.List()),
	})
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	doc := domain.Document{
		ID:       req.DocumentID,
		Filename: req.Filename,
		Text:     req.Text,
		Pages:    req.Pages,
	}
	if doc.Filename == "" {
		doc.Filename = doc.ID
	}
	entry, err := s.registry.Register(doc)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, entry)
}

func (s *Server) handleList(c echo.Context) error {
	entries := s.registry.List()
	return c.JSON(http.StatusOK, DocumentList{Documents: entries, Total: len(entries)})
}

func (s *Server) handleStatus(c echo.Context) error {
	entry, err := s.registry.Get(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entry)
}

func (s *Server) handleDelete(c echo.Context) error {
	id := c.Param("id")
	if err := s.builder.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, DeleteResponse{DocumentID: id, Status: "deleted"})
}

func (s *Server) handleIndex(c echo.Context) error {
	var req IndexRequest
	if c.Request().ContentLength != 0 {
		if err := bind(c, &req); err != nil {
			return err
		}
	}
	res, err := s.builder.Build(c.Request().Context(), indexer.BuildRequest{
		DocumentID: c.Param("id"),
		ChunkSize:  req.ChunkSize,
		Overlap:    req.Overlap,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleQuery(c echo.Context) error {
	var req query.Request
	if err := bind(c, &req); err != nil {
		return err
	}
	resp, err := s.searcher.Query(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAnswer(c echo.Context) error {
	var req query.Request
	if err := bind(c, &req); err != nil {
		return err
	}
	resp, err := s.searcher.Answer(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSummary(c echo.Context) error {
	kind, err := synthesis.ParseSummaryType(c.QueryParam("type"))
	if err != nil {
		return err
	}
	resp, err := s.searcher.Summarize(c.Request().Context(), query.SummaryRequest{
		DocumentID: c.QueryParam("document_id"),
		Text:       c.QueryParam("text"),
		Type:       kind,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// bind decodes the JSON body into v, reporting malformed input as a
// validation error.
func bind(c echo.Context, v any) error {
	ct := c.Request().Header.Get(echo.HeaderContentType)
	if ct != "" && !strings.HasPrefix(ct, echo.MIMEApplicationJSON) {
		return fmt.Errorf("%w: content type must be %s", domain.ErrValidation, echo.MIMEApplicationJSON)
	}
	if err := (&echo.DefaultBinder{}).BindBody(c, v); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
			return err
		}
		return fmt.Errorf("%w: invalid request body", domain.ErrValidation)
	}
	return nil
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
