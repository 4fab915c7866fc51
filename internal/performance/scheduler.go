package performance

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// VUScheduler manages the lifecycle of Virtual Users.
//
// It provides:
//   - VU pool management (spawning/stopping VUs)
//   - Shared HTTP client configuration
//   - Graceful shutdown coordination
//
// Executors use it to control VU counts.
type VUScheduler struct {
	request Request
	metrics Recorder

	httpClientConfig HTTPClientConfig

	vus   map[int]*VirtualUser
	vusMu sync.RWMutex

	nextVUID atomic.Int32

	// live counts VU goroutines from spawn until exit, including stopping ones
	live atomic.Int32

	sharedClient *http.Client

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	shutdownWg   sync.WaitGroup
}

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool

	// UseSharedClient indicates whether VUs share a single HTTP client
	UseSharedClient bool
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		UseSharedClient:     true,
	}
}

// NewVUScheduler creates a new VU scheduler sending req from every VU.
func NewVUScheduler(req Request, recorder Recorder, httpConfig HTTPClientConfig) *VUScheduler {
	scheduler := &VUScheduler{
		request:          req,
		metrics:          recorder,
		httpClientConfig: httpConfig,
		vus:              make(map[int]*VirtualUser),
		shutdownCh:       make(chan struct{}),
	}

	if httpConfig.UseSharedClient {
		scheduler.sharedClient = scheduler.createHTTPClient()
	}

	return scheduler
}

// NewHTTPClient builds the client VUs send requests with.
func NewHTTPClient(cfg HTTPClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via settings
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

func (s *VUScheduler) createHTTPClient() *http.Client {
	return NewHTTPClient(s.httpClientConfig)
}

// SpawnVU creates and registers a new Virtual User.
//
// The VU counts as live from this point until RunVU returns, so callers
// must run every spawned VU.
func (s *VUScheduler) SpawnVU() *VirtualUser {
	id := int(s.nextVUID.Add(1))

	client := s.sharedClient
	if client == nil {
		client = s.createHTTPClient()
	}

	vu := NewVirtualUser(id, s.request, client, s.metrics)

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()

	s.live.Add(1)
	s.shutdownWg.Add(1)
	return vu
}

// LiveVUs returns the number of VU goroutines that have not exited yet,
// including VUs finishing an in-flight request after a stop.
func (s *VUScheduler) LiveVUs() int {
	return int(s.live.Load())
}

// StopAllVUs requests all VUs to stop.
func (s *VUScheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

func (s *VUScheduler) removeVU(id int) {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()
	delete(s.vus, id)
}

// RunVU runs a VU until it is asked to stop, the scheduler shuts down, or
// ctx is cancelled.
//
// Each iteration sends one request and then sleeps for thinkTime. ctx bounds
// in-flight requests, so cancelling it is the hard stop; RequestStop is the
// graceful one and lets the current request finish.
func (s *VUScheduler) RunVU(ctx context.Context, vu *VirtualUser, thinkTime time.Duration) {
	defer s.shutdownWg.Done()
	defer s.live.Add(-1)
	defer s.removeVU(vu.ID)
	defer vu.MarkStopped()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		case <-vu.StopRequested():
			return
		default:
		}

		if _, err := vu.RunIteration(ctx); err != nil {
			return
		}

		if !vu.ThinkTime(ctx, thinkTime) {
			return
		}
	}
}

// WaitForAllVUs waits until every live VU has exited or timeout elapses.
// It reports whether all VUs stopped.
func (s *VUScheduler) WaitForAllVUs(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Shutdown asks every VU to stop and waits up to timeout for them.
// It reports whether all VUs stopped in time.
func (s *VUScheduler) Shutdown(timeout time.Duration) bool {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })

	s.StopAllVUs()
	stopped := s.WaitForAllVUs(timeout)

	if s.sharedClient != nil {
		s.sharedClient.CloseIdleConnections()
	}
	return stopped
}
