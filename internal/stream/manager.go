// Package stream manages long-lived enumeration jobs that relay
// incremental output to a per-client sink, with client-initiated or
// timeout-driven cancellation.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNotFound is returned when no job is registered for a client id.
var ErrNotFound = errors.New("stream: no job for client")

// ErrAlreadyRunning is returned when a job is already registered for a
// client id. One active job per client; callers retry after it ends.
var ErrAlreadyRunning = errors.New("stream: job already running for client")

// EndReason describes why a job ended.
type EndReason string

const (
	EndCompleted EndReason = "completed"
	EndErrored   EndReason = "errored"
	EndAborted   EndReason = "aborted"
	EndTimeout   EndReason = "timeout"
)

// Sink is the addressable output target a job writes incremental results
// to. Close must be idempotent; it signals end-of-stream.
type Sink interface {
	Send(chunk []byte) error
	Close() error
}

// Enumerator produces the incremental output of one enumeration run. It
// must call emit serially, in production order, and return when the
// context is cancelled or emit fails.
type Enumerator interface {
	Enumerate(ctx context.Context, url string, emit func(chunk []byte) error) error
}

// job is one registered enumeration run.
type job struct {
	clientID string
	sink     Sink
	cancel   context.CancelFunc
	timer    *time.Timer
	teardown sync.Once
}

// Manager owns the client-id-to-job registry. It is constructed once at
// process start and passed to everything that needs it; there is no
// package-level state.
type Manager struct {
	mu     sync.Mutex
	jobs   map[string]*job
	enum   Enumerator
	logger *slog.Logger
	onEnd  func(clientID string, reason EndReason)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithEndCallback registers a function invoked once per job after its
// teardown completes.
func WithEndCallback(fn func(clientID string, reason EndReason)) ManagerOption {
	return func(m *Manager) { m.onEnd = fn }
}

// NewManager creates a manager running jobs through the given enumerator.
func NewManager(enum Enumerator, opts ...ManagerOption) *Manager {
	m := &Manager{
		jobs:   make(map[string]*job),
		enum:   enum,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start registers a job for clientID and begins enumerating url. The
// check-and-register is atomic: a second Start for a live client id
// returns ErrAlreadyRunning. The fallback timer force-ends the job after
// timeout if neither abort nor natural completion happens first; a job
// started with a nil sink runs headless and only the timer or Abort can
// end it early. Start returns immediately; output flows to the sink.
func (m *Manager) Start(url, clientID string, sink Sink, timeout time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())

	j := &job{
		clientID: clientID,
		sink:     sink,
		cancel:   cancel,
	}

	m.mu.Lock()
	if _, exists := m.jobs[clientID]; exists {
		m.mu.Unlock()
		cancel()
		return ErrAlreadyRunning
	}
	// Arm the timer before releasing the lock: any end() that finds the
	// job must then observe the timer and stop it.
	if timeout > 0 {
		j.timer = time.AfterFunc(timeout, func() {
			m.end(clientID, EndTimeout)
		})
	}
	m.jobs[clientID] = j
	m.mu.Unlock()

	m.logger.Info("enumeration job started", "client_id", clientID, "url", url, "timeout", timeout)

	go m.run(ctx, j, url)
	return nil
}

// Abort ends the job registered for clientID. Ending an already-ended job
// reports ErrNotFound; it never panics. Abort, timeout, sink failure, and
// natural completion all converge on the same teardown path.
func (m *Manager) Abort(clientID string) error {
	return m.end(clientID, EndAborted)
}

// Active reports whether a job is currently registered for clientID.
func (m *Manager) Active(clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[clientID]
	return ok
}

// ActiveCount returns the number of registered jobs, for diagnostics.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// run drives the enumerator and tears the job down when it returns.
func (m *Manager) run(ctx context.Context, j *job, url string) {
	emit := func(chunk []byte) error {
		if j.sink == nil {
			return nil
		}
		// Chunks are relayed immediately, preserving production order.
		return j.sink.Send(chunk)
	}

	err := m.enum.Enumerate(ctx, url, emit)
	switch {
	case ctx.Err() != nil:
		// Ended through Abort or the fallback timer; teardown already ran.
	case err != nil:
		m.logger.Warn("enumeration job failed", "client_id", j.clientID, "error", err)
		m.end(j.clientID, EndErrored)
	default:
		m.end(j.clientID, EndCompleted)
	}
}

// end deregisters the job and runs its idempotent teardown. Safe to call
// from the abort handler, the timer, and the run loop concurrently.
func (m *Manager) end(clientID string, reason EndReason) error {
	m.mu.Lock()
	j, ok := m.jobs[clientID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.jobs, clientID)
	m.mu.Unlock()

	j.teardown.Do(func() {
		if j.timer != nil {
			j.timer.Stop()
		}
		j.cancel()
		if j.sink != nil {
			if err := j.sink.Close(); err != nil {
				m.logger.Debug("sink close failed", "client_id", clientID, "error", err)
			}
		}
		m.logger.Info("enumeration job ended", "client_id", clientID, "reason", reason)
		if m.onEnd != nil {
			m.onEnd(clientID, reason)
		}
	})
	return nil
}
