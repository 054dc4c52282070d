// Package http serves the ingestion and query engine over a JSON API.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/corpora/internal/collections"
	"github.com/fyrsmithlabs/corpora/internal/document"
	"github.com/fyrsmithlabs/corpora/internal/ingest"
	"github.com/fyrsmithlabs/corpora/internal/logging"
	"github.com/fyrsmithlabs/corpora/internal/query"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Querier answers questions over collections.
type Querier interface {
	Query(ctx context.Context, req query.Request) (*query.Result, error)
}

// Ingester writes document batches into collections.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// CollectionAdmin manages collections and the active set.
type CollectionAdmin interface {
	List(ctx context.Context) ([]collections.Collection, error)
	Get(ctx context.Context, name string) (*collections.Collection, error)
	Create(ctx context.Context, name string) (*collections.Collection, error)
	Delete(ctx context.Context, name string) (bool, error)
	SetEnabled(ctx context.Context, name string, enabled bool) error
}

// Services are the engine components the server exposes.
type Services struct {
	Query       Querier
	Ingest      Ingester
	Collections CollectionAdmin
}

// Server provides HTTP endpoints for corpora.
type Server struct {
	echo     *echo.Echo
	services Services
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// MaxUploadBytes caps multipart uploads. Default: 32 MiB.
	MaxUploadBytes int64

	// Version is reported by /api/v1/status.
	Version string
}

// NewServer creates a new HTTP server.
func NewServer(svc Services, logger *zap.Logger, cfg *Config) (*Server, error) {
	switch {
	case svc.Query == nil:
		return nil, fmt.Errorf("query service cannot be nil")
	case svc.Ingest == nil:
		return nil, fmt.Errorf("ingest service cannot be nil")
	case svc.Collections == nil:
		return nil, fmt.Errorf("collections service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 3000,
		}
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				// Resolve the status before logging it.
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", id),
			)
			return nil
		}
	})

	s := &Server{
		echo:     e,
		services: svc,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/query", s.handleQuery)

	v1.GET("/collections", s.handleListCollections)
	v1.POST("/collections", s.handleCreateCollection)
	v1.GET("/collections/:name", s.handleGetCollection)
	v1.DELETE("/collections/:name", s.handleDeleteCollection)
	v1.PUT("/collections/:name/enabled", s.handleSetEnabled)
	v1.POST("/collections/:name/documents", s.handleIngestDocuments)
	v1.POST("/collections/:name/files", s.handleIngestFiles)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleStatus reports collection and vector totals.
func (s *Server) handleStatus(c echo.Context) error {
	list, err := s.services.Collections.List(c.Request().Context())
	if err != nil {
		return s.httpError(c, "status", err)
	}
	resp := StatusResponse{Status: "ok", Version: s.config.Version, Collections: len(list)}
	for _, col := range list {
		if col.Enabled {
			resp.Active++
		}
		resp.Vectors += col.VectorCount
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid query request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	res, err := s.services.Query.Query(ctx, query.Request{
		Text:        req.Query,
		Collections: req.Collections,
		TopK:        req.TopK,
	})
	if err != nil {
		return s.httpError(c, "query", err)
	}

	s.logger.Debug("query answered",
		zap.String("conversation_id", req.ConversationID),
		zap.Int("sources", len(res.Sources)),
	)
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleListCollections(c echo.Context) error {
	list, err := s.services.Collections.List(c.Request().Context())
	if err != nil {
		return s.httpError(c, "list collections", err)
	}
	if list == nil {
		list = []collections.Collection{}
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleCreateCollection(c echo.Context) error {
	var req CreateCollectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	col, err := s.services.Collections.Create(c.Request().Context(), req.Name)
	if err != nil {
		return s.httpError(c, "create collection", err)
	}
	return c.JSON(http.StatusCreated, col)
}

func (s *Server) handleGetCollection(c echo.Context) error {
	col, err := s.services.Collections.Get(c.Request().Context(), c.Param("name"))
	if err != nil {
		return s.httpError(c, "get collection", err)
	}
	return c.JSON(http.StatusOK, col)
}

func (s *Server) handleDeleteCollection(c echo.Context) error {
	name := c.Param("name")
	existed, err := s.services.Collections.Delete(c.Request().Context(), name)
	if err != nil {
		return s.httpError(c, "delete collection", err)
	}
	if !existed {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("collection %q not found", name))
	}
	return c.JSON(http.StatusOK, DeleteResponse{Name: name, Deleted: true})
}

func (s *Server) handleSetEnabled(c echo.Context) error {
	var req EnabledRequest
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "enabled field is required")
	}
	ctx := c.Request().Context()
	name := c.Param("name")
	if err := s.services.Collections.SetEnabled(ctx, name, *req.Enabled); err != nil {
		return s.httpError(c, "set enabled", err)
	}
	col, err := s.services.Collections.Get(ctx, name)
	if err != nil {
		return s.httpError(c, "get collection", err)
	}
	return c.JSON(http.StatusOK, col)
}

func (s *Server) handleIngestDocuments(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ingest request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	docs := make([]document.Document, len(req.Documents))
	for i, in := range req.Documents {
		docs[i] = in.toDocument()
	}
	return s.ingest(c, ingest.Request{
		Collection: c.Param("name"),
		Policy:     ingest.Policy(req.Policy),
		Documents:  docs,
	})
}

// handleIngestFiles stages multipart "files" in a temporary directory and
// ingests them through the reader registry.
func (s *Server) handleIngestFiles(c echo.Context) error {
	r := c.Request()
	r.Body = http.MaxBytesReader(c.Response(), r.Body, s.config.MaxUploadBytes)

	form, err := c.MultipartForm()
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return s.httpError(c, "upload", err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid multipart form")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "files field is required")
	}

	dir, err := os.MkdirTemp("", "corpora-upload-*")
	if err != nil {
		return s.httpError(c, "upload", err)
	}
	defer os.RemoveAll(dir)

	for _, fh := range files {
		if err := stageUpload(dir, fh); err != nil {
			return s.httpError(c, "upload", err)
		}
	}

	return s.ingest(c, ingest.Request{
		Collection: c.Param("name"),
		Policy:     ingest.Policy(c.FormValue("policy")),
		Paths:      []string{dir},
	})
}

func (s *Server) ingest(c echo.Context, req ingest.Request) error {
	res, err := s.services.Ingest.Ingest(c.Request().Context(), req)
	if err != nil {
		return s.httpError(c, "ingest", err)
	}
	return c.JSON(http.StatusOK, res)
}

// stageUpload copies one uploaded file into dir under its base name.
func stageUpload(dir string, fh *multipart.FileHeader) error {
	name := filepath.Base(filepath.Clean("/" + fh.Filename))
	if name == "/" || name == "." {
		return fmt.Errorf("%w %q", errInvalidUpload, fh.Filename)
	}
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("opening upload %s: %w", name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("staging upload %s: %w", name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("staging upload %s: %w", name, err)
	}
	return dst.Close()
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
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
