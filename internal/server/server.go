package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"llamagate/internal/backend"
	"llamagate/internal/config"
	"llamagate/internal/router"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
)

type Server struct {
	cfg     config.Config
	router  *router.Router
	app     *echo.Echo
	address string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, rt *router.Router) (*Server, error) {
	if rt == nil {
		return nil, errors.New("router must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = protocolErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))

	srv := &Server{
		cfg:     cfg,
		router:  rt,
		app:     e,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("starting server", "addr", s.address)

	// No write timeout: streamed generations hold the response open for as
	// long as the upstream keeps producing tokens.
	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)

	// Ollama protocol.
	s.app.POST("/api/generate", s.handleOllamaGenerate)
	s.app.POST("/api/chat", s.handleOllamaChat)
	s.app.GET("/api/tags", s.handleOllamaTags)
	s.app.GET("/api/models", s.handleOllamaTags)
	s.app.POST("/api/show", s.handleOllamaShow)
	s.app.POST("/api/models/:model", s.handleOllamaModelInfo)

	// Model lifecycle is out of scope for a translation proxy.
	s.app.POST("/api/models/:model/copy", s.handleNotImplemented)
	s.app.DELETE("/api/models/:model", s.handleNotImplemented)
	s.app.POST("/api/create", s.handleNotImplemented)
	s.app.POST("/api/pull", s.handleNotImplemented)
	s.app.POST("/api/push", s.handleNotImplemented)
	s.app.POST("/api/embeddings", s.handleNotImplemented)
	s.app.GET("/api/ps", s.handleNotImplemented)
	s.app.GET("/api/version", s.handleNotImplemented)

	// OpenAI protocol.
	s.app.POST("/v1/chat/completions", s.handleChatCompletions)
	s.app.POST("/v1/completions", s.handleCompletions)
	s.app.GET("/v1/models", s.handleOpenAIModels)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNotImplemented(c echo.Context) error {
	return c.JSON(http.StatusNotImplemented, map[string]string{
		"error": "endpoint not implemented by this proxy",
	})
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Type    string
}

func (e requestError) Error() string {
	return e.Message
}

// classify maps an error to an HTTP status, client message and OpenAI error
// type. Upstream failures keep the upstream's own status when it carried one.
func classify(err error) (int, string, string) {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr.Status, reqErr.Message, reqErr.Type
	}

	var upErr *backend.UpstreamError
	if errors.As(err, &upErr) {
		status := upErr.Status
		if status < 400 {
			status = http.StatusBadGateway
		}
		return status, upErr.Error(), "upstream_error"
	}

	switch {
	case errors.Is(err, router.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error(), "invalid_request_error"
	case errors.Is(err, backend.ErrUnsupportedBackend):
		return http.StatusBadRequest, err.Error(), "invalid_request_error"
	case errors.Is(err, backend.ErrMissingAPIKey):
		return http.StatusInternalServerError, err.Error(), "server_error"
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code, fmt.Sprintf("%v", httpErr.Message), "invalid_request_error"
	}

	if errors.Is(err, context.Canceled) {
		// Client went away; nothing to render.
		return 499, "client closed request", "invalid_request_error"
	}

	return http.StatusBadGateway, "upstream provider error", "upstream_error"
}

// protocolErrorHandler renders errors in the shape the originating client
// protocol expects: a flat {"error": "..."} body for /api routes, the nested
// OpenAI error object for everything else. No internals leak to the client.
func protocolErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, message, errType := classify(err)

	if strings.HasPrefix(c.Request().URL.Path, "/api") {
		_ = c.JSON(status, map[string]string{"error": message})
		return
	}

	var payload struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	payload.Error.Message = message
	payload.Error.Type = errType
	_ = c.JSON(status, payload)
}
