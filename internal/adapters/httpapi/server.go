// Package httpapi serves the relay over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"keystore/go-backend/internal/platform/ratelimiter"
	"keystore/go-backend/internal/relay"
	"keystore/go-backend/pkg/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

const (
	DefaultAddr = ":3001"

	// maxRequestBody bounds POST /relay; a maximal transaction is well under it.
	maxRequestBody = 64 << 10

	shutdownTimeout = 5 * time.Second
)

// RelayService is what the HTTP surface needs from the relay.
type RelayService interface {
	Relay(ctx context.Context, req relay.Request) (relay.Result, error)
	Health() models.HealthResponse
	Balance(ctx context.Context) (models.BalanceResponse, error)
	Stats(ctx context.Context) (models.StatsResponse, error)
}

type Options struct {
	Addr    string
	Service RelayService
	// AllowedOrigins empty allows every origin.
	AllowedOrigins []string
	// IPLimiter is the per-client admission bucket; nil disables it.
	IPLimiter *ratelimiter.MapLimiter
	// Gatherer backs GET /metrics; nil leaves the route unmounted.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

type Server struct {
	httpServer *http.Server
	service    RelayService
	ipLimiter  *ratelimiter.MapLimiter
	logger     *slog.Logger
	now        func() time.Time
}

func NewServer(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, errors.New("relay service is required")
	}
	addr := opts.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		service:   opts.Service,
		ipLimiter: opts.IPLimiter,
		logger:    logger,
		now:       time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /balance", s.handleBalance)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /relay", s.handleRelay)
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(mux)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	default:
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()
	s.logger.Info("relay listening", "component", componentName, "addr", s.httpServer.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
