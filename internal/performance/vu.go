// Package performance provides the virtual users that generate load and the
// scheduler that owns them.
package performance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is between iterations.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU has a request in flight.
	VUStateRunning
	// VUStateStopping indicates the VU has been asked to stop.
	VUStateStopping
	// VUStateStopped indicates the VU goroutine has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrVUStopped is returned by RunIteration once the VU was asked to stop.
var ErrVUStopped = errors.New("virtual user is stopping or stopped")

// Recorder receives the outcome of every request and iteration.
// *metrics.Engine satisfies it.
type Recorder interface {
	RecordRequest(duration time.Duration, success bool, bytes int64)
	RecordIteration()
}

// Request is the GET every VU iteration sends.
type Request struct {
	URL       string
	UserAgent string
	Headers   map[string]string
}

// VirtualUser is one simulated client. Each iteration is a single GET;
// the think time between iterations is applied by the scheduler.
type VirtualUser struct {
	ID int

	Request    Request
	HTTPClient *http.Client
	Metrics    Recorder

	state  atomic.Int32
	stopCh chan struct{}
	doneCh chan struct{}

	iteration atomic.Int64
	failures  atomic.Int64
}

// NewVirtualUser creates a new Virtual User in the idle state.
func NewVirtualUser(id int, req Request, httpClient *http.Client, recorder Recorder) *VirtualUser {
	return &VirtualUser{
		ID:         id,
		Request:    req,
		HTTPClient: httpClient,
		Metrics:    recorder,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// GetFailures returns the number of failed requests this VU made.
func (vu *VirtualUser) GetFailures() int64 {
	return vu.failures.Load()
}

// IsStopping reports whether the VU was asked to stop or has stopped.
func (vu *VirtualUser) IsStopping() bool {
	s := vu.GetState()
	return s == VUStateStopping || s == VUStateStopped
}

// RunIteration sends one request and records the result.
//
// ctx bounds the request itself. A stop requested while the request is in
// flight does not interrupt it; the result is still recorded. Request
// failures are recorded, not returned: the returned error is only
// ErrVUStopped or the context error.
func (vu *VirtualUser) RunIteration(ctx context.Context) (*RequestResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		return nil, ErrVUStopped
	}

	vu.iteration.Add(1)
	result := vu.executeRequest(ctx)

	if vu.Metrics != nil {
		vu.Metrics.RecordRequest(result.Duration, result.Success(), result.BytesReceived)
		vu.Metrics.RecordIteration()
	}
	if !result.Success() {
		vu.failures.Add(1)
	}

	// a concurrent RequestStop has already moved us to stopping
	vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))
	return result, nil
}

// executeRequest sends the GET and reads the body to completion.
func (vu *VirtualUser) executeRequest(ctx context.Context) *RequestResult {
	startTime := time.Now()

	result := &RequestResult{
		VUID:      vu.ID,
		Iteration: vu.iteration.Load(),
		StartTime: startTime,
	}

	httpReq, err := vu.buildRequest(ctx)
	if err != nil {
		result.Duration = time.Since(startTime)
		result.Error = fmt.Errorf("failed to build request: %w", err)
		return result
	}

	resp, err := vu.HTTPClient.Do(httpReq)
	if err != nil {
		result.Duration = time.Since(startTime)
		result.Error = err
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode

	n, err := io.Copy(io.Discard, resp.Body)
	result.Duration = time.Since(startTime)
	result.BytesReceived = n
	if err != nil {
		result.Error = fmt.Errorf("failed to read response body: %w", err)
	}

	return result
}

func (vu *VirtualUser) buildRequest(ctx context.Context) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, vu.Request.URL, nil)
	if err != nil {
		return nil, err
	}

	for key, value := range vu.Request.Headers {
		httpReq.Header.Set(key, value)
	}
	if vu.Request.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", vu.Request.UserAgent)
	}

	return httpReq, nil
}

// ThinkTime waits for d, returning early when the VU is asked to stop or
// ctx is done. It reports whether the full duration elapsed.
func (vu *VirtualUser) ThinkTime(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-vu.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// RequestStop signals the VU to stop after its in-flight request.
// It is safe to call more than once.
func (vu *VirtualUser) RequestStop() {
	for {
		current := vu.state.Load()
		if current == int32(VUStateStopping) || current == int32(VUStateStopped) {
			return
		}
		if vu.state.CompareAndSwap(current, int32(VUStateStopping)) {
			close(vu.stopCh)
			return
		}
	}
}

// StopRequested returns a channel closed once RequestStop is called.
func (vu *VirtualUser) StopRequested() <-chan struct{} {
	return vu.stopCh
}

// Done returns a channel closed once the VU goroutine has exited.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

// MarkStopped marks the VU as fully stopped.
// Called by the scheduler when the VU goroutine exits.
func (vu *VirtualUser) MarkStopped() {
	prev := vu.state.Swap(int32(VUStateStopped))
	if prev == int32(VUStateStopped) {
		return
	}
	if prev != int32(VUStateStopping) {
		close(vu.stopCh)
	}
	close(vu.doneCh)
}

// RequestResult is the outcome of a single request. It is folded into the
// metrics recorder and then discarded.
type RequestResult struct {
	VUID          int           `json:"vuId"`
	Iteration     int64         `json:"iteration"`
	StartTime     time.Time     `json:"startTime"`
	Duration      time.Duration `json:"duration"`
	StatusCode    int           `json:"statusCode"`
	BytesReceived int64         `json:"bytesReceived"`
	Error         error         `json:"-"`
}

// Success reports whether the request completed with a 2xx status.
func (r *RequestResult) Success() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}
