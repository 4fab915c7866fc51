package exporter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DefaultPath is where metrics are served when Config.Path is empty.
const DefaultPath = "/metrics"

const shutdownTimeout = 5 * time.Second

// Config configures an Exporter.
type Config struct {
	// Addr is the listen address, e.g. ":9090" or "127.0.0.1:0"
	Addr string

	// Path defaults to DefaultPath
	Path string

	// TestName labels every series
	TestName string

	Logger *zap.Logger
}

// Exporter serves a Collector over HTTP for the duration of a run.
type Exporter struct {
	config Config
	logger *zap.Logger

	mu        sync.Mutex
	addr      net.Addr
	ready     chan struct{}
	readyOnce sync.Once
}

// New validates config and returns an exporter. Nothing listens until Run.
func New(config Config) (*Exporter, error) {
	if config.Addr == "" {
		return nil, fmt.Errorf("exporter: listen address must not be empty")
	}
	if _, _, err := net.SplitHostPort(config.Addr); err != nil {
		return nil, fmt.Errorf("exporter: invalid listen address %q: %w", config.Addr, err)
	}
	if config.Path == "" {
		config.Path = DefaultPath
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Exporter{
		config: config,
		logger: logger.Named("exporter"),
		ready:  make(chan struct{}),
	}, nil
}

// Handler returns the HTTP handler for source, registering the run
// collector next to the Go runtime and process collectors.
func (x *Exporter) Handler(source Source) (http.Handler, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollector(source, x.config.TestName)); err != nil {
		return nil, fmt.Errorf("registering run collector: %w", err)
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle(x.config.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(x.logger),
	}))
	return mux, nil
}

// Run serves metrics for source until ctx is done. It returns an error only
// if the listener cannot be opened or the server fails.
func (x *Exporter) Run(ctx context.Context, source Source) error {
	handler, err := x.Handler(source)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", x.config.Addr)
	if err != nil {
		return fmt.Errorf("exporter: listen on %s: %w", x.config.Addr, err)
	}

	x.mu.Lock()
	x.addr = ln.Addr()
	x.mu.Unlock()
	x.readyOnce.Do(func() { close(x.ready) })

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	x.logger.Info("serving metrics",
		zap.String("addr", ln.Addr().String()),
		zap.String("path", x.config.Path))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("exporter: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		x.logger.Warn("metrics server shutdown", zap.Error(err))
	}
	return nil
}

// Ready is closed once Run is listening.
func (x *Exporter) Ready() <-chan struct{} {
	return x.ready
}

// Addr returns the address Run listens on, or nil before it starts.
func (x *Exporter) Addr() net.Addr {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.addr
}
