// Package api exposes the coaching flow over HTTP and AWS Lambda.
//
// The chat platform calls POST /webhook with a skill payload and renders the JSON reply.
// Operational endpoints report health, request statistics and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/PromptCoach/internal/metrics"
	"github.com/BTreeMap/PromptCoach/internal/models"
)

// Default server settings.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultTurnTimeout bounds a single webhook turn. The chat platform gives up after 5s,
	// but the turn is still finished so the session stays consistent.
	DefaultTurnTimeout = 30 * time.Second
	readHeaderTimeout  = 5 * time.Second
)

// MessageProcessor handles one chat utterance and returns the reply to render.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, req models.SkillRequest) (models.SkillResponse, error)
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr            string
	Metrics         *metrics.Collector
	ShutdownTimeout time.Duration
	TurnTimeout     time.Duration
}

// Option defines a function that configures Opts.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithMetrics sets the metrics collector shared with the coaching flow.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithShutdownTimeout bounds how long Run waits for in-flight requests on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ShutdownTimeout = d }
}

// WithTurnTimeout bounds the processing of a single webhook turn.
func WithTurnTimeout(d time.Duration) Option {
	return func(o *Opts) { o.TurnTimeout = d }
}

// Server serves the webhook and operational endpoints.
type Server struct {
	addr            string
	processor       MessageProcessor
	metrics         *metrics.Collector
	shutdownTimeout time.Duration
	turnTimeout     time.Duration
	startedAt       time.Time
	handler         http.Handler
}

// NewServer creates a Server that forwards webhook turns to processor.
func NewServer(processor MessageProcessor, opts ...Option) *Server {
	cfg := Opts{
		Addr:            DefaultAddr,
		ShutdownTimeout: DefaultShutdownTimeout,
		TurnTimeout:     DefaultTurnTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewCollector()
	}
	s := &Server{
		addr:            cfg.Addr,
		processor:       processor,
		metrics:         cfg.Metrics,
		shutdownTimeout: cfg.ShutdownTimeout,
		turnTimeout:     cfg.TurnTimeout,
		startedAt:       time.Now(),
	}
	s.handler = requestLogger(s.routes())
	slog.Debug("Server.NewServer: server created", "addr", s.addr)
	return s
}

// Handler returns the server's HTTP handler, including request logging.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)
	mux.HandleFunc("/", s.notFoundHandler)
	return mux
}

// Run serves HTTP until ctx is cancelled or the process receives SIGINT or SIGTERM,
// then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	slog.Info("Server.Run: API server stopped")
	return nil
}
