// Package server exposes the inference service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/isopose/isopose/internal/metrics"
	"github.com/isopose/isopose/internal/service"
)

// DefaultBodyLimit caps request bodies when Options.BodyLimit is unset.
const DefaultBodyLimit = 16 << 20

// Options configures NewHandler.
type Options struct {
	BodyLimit  int64
	CORS       bool
	StaticRoot string
	// Metrics enables GET /metrics and request instrumentation. Nil disables both.
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server routes API requests to a service.Service.
type Server struct {
	svc    *service.Service
	logger *slog.Logger
}

// NewHandler builds the API router. It fails if the embedded OpenAPI
// document does not validate.
func NewHandler(ctx context.Context, svc *service.Service, opts Options) (http.Handler, error) {
	if _, err := OpenAPI(ctx); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := opts.BodyLimit
	if limit <= 0 {
		limit = DefaultBodyLimit
	}

	s := &Server{svc: svc, logger: logger}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observe(opts.Metrics, logger))
	if opts.CORS {
		r.Use(enableCORS)
	}
	r.Use(limitBody(limit))

	r.Get("/health", s.Health)
	r.Post("/predict_pose", s.PredictPose)
	r.Post("/predict_action", s.PredictAction)
	r.Post("/quaternion_error", s.QuaternionError)
	r.Get("/openapi.yaml", serveSpec)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	static := NewStatic(opts.StaticRoot, logger)
	r.Method(http.MethodGet, "/", static)
	r.Method(http.MethodGet, "/*", static)
	return r, nil
}

// Run listens on addr and serves handler until ctx is cancelled.
func Run(ctx context.Context, addr string, handler http.Handler, shutdownTimeout time.Duration, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return Serve(ctx, ln, handler, shutdownTimeout, logger)
}

// Serve serves handler on ln until ctx is cancelled, then shuts down
// gracefully, waiting at most shutdownTimeout for in-flight requests.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, shutdownTimeout time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("shutting down", "addr", ln.Addr().String())
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
