// Package healthserver is a small target for local trial runs: it serves a
// JSON health check with configurable latency and failure ratio.
package healthserver

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultPath is the health check route load tests hit by default.
const DefaultPath = "/api/health_check"

// Config controls the simulated behaviour.
type Config struct {
	Addr string
	Path string

	// Latency is added to every response; Jitter adds up to that much more
	Latency time.Duration
	Jitter  time.Duration

	// FailureRatio is the fraction of requests answered with a 500, spread
	// evenly: 0.02 fails exactly one request in fifty
	FailureRatio float64

	Logger *zap.Logger
}

// Handler serves the health check.
type Handler struct {
	config   Config
	requests atomic.Int64
	failures atomic.Int64
}

// NewHandler validates cfg and returns a handler.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.Latency < 0 || cfg.Jitter < 0 {
		return nil, fmt.Errorf("latency and jitter cannot be negative")
	}
	if cfg.FailureRatio < 0 || cfg.FailureRatio > 1 {
		return nil, fmt.Errorf("failure ratio must be between 0 and 1, got %v", cfg.FailureRatio)
	}
	return &Handler{config: cfg}, nil
}

// Routes returns the mux serving the health check path.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+h.config.Path, h)
	return mux
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := h.requests.Add(1)

	if delay := h.delay(); delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if h.shouldFail(n) {
		h.failures.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) delay() time.Duration {
	d := h.config.Latency
	if h.config.Jitter > 0 {
		d += rand.N(h.config.Jitter)
	}
	return d
}

// shouldFail reports whether request n (1-based) is one of the failing
// ones. The count of failures among the first n requests is
// floor(n * ratio).
func (h *Handler) shouldFail(n int64) bool {
	ratio := h.config.FailureRatio
	if ratio <= 0 {
		return false
	}
	return int64(float64(n)*ratio) > int64(float64(n-1)*ratio)
}

// Stats returns the requests served and the failures injected so far.
func (h *Handler) Stats() (requests, failures int64) {
	return h.requests.Load(), h.failures.Load()
}

// ListenAndServe serves until ctx is cancelled. ready, if not nil, receives
// the bound address once the listener is open.
func (h *Handler) ListenAndServe(ctx context.Context, ready chan<- net.Addr) error {
	logger := h.config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ln, err := net.Listen("tcp", h.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.config.Addr, err)
	}

	srv := &http.Server{
		Handler:           h.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          zap.NewStdLog(logger),
	}

	logger.Info("health server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("path", h.config.Path),
		zap.Duration("latency", h.config.Latency),
		zap.Float64("failure_ratio", h.config.FailureRatio))
	if ready != nil {
		ready <- ln.Addr()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	requests, failures := h.Stats()
	logger.Info("health server stopped", zap.Int64("requests", requests), zap.Int64("failures", failures))
	return nil
}
