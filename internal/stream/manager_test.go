package stream

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// collectSink records chunks and close calls.
type collectSink struct {
	mu      sync.Mutex
	chunks  [][]byte
	closed  int
	sendErr error
}

func (s *collectSink) Send(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.chunks = append(s.chunks, append([]byte(nil), chunk...))
	return nil
}

func (s *collectSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *collectSink) closedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *collectSink) collected() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// chunkEnumerator emits fixed chunks, then returns.
type chunkEnumerator struct {
	chunks [][]byte
	err    error
	gap    time.Duration
}

func (e *chunkEnumerator) Enumerate(ctx context.Context, url string, emit func([]byte) error) error {
	for _, chunk := range e.chunks {
		if e.gap > 0 {
			select {
			case <-time.After(e.gap):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := emit(chunk); err != nil {
			return err
		}
	}
	return e.err
}

// blockingEnumerator never finishes on its own.
type blockingEnumerator struct{}

func (blockingEnumerator) Enumerate(ctx context.Context, url string, emit func([]byte) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestManager_RelaysChunksInOrder(t *testing.T) {
	enum := &chunkEnumerator{chunks: [][]byte{[]byte("a"), []byte("b"), []byte("c")}}

	var endReason EndReason
	done := make(chan struct{})
	m := NewManager(enum, WithEndCallback(func(id string, reason EndReason) {
		endReason = reason
		close(done)
	}))
	sink := &collectSink{}

	if err := m.Start("https://example.com", "c1", sink, time.Second); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not complete")
	}

	got := sink.collected()
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if !bytes.Equal(got[i], []byte(want)) {
			t.Errorf("chunk[%d] = %q, want %q", i, got[i], want)
		}
	}
	if endReason != EndCompleted {
		t.Errorf("end reason = %q, want %q", endReason, EndCompleted)
	}
	if sink.closedCount() != 1 {
		t.Errorf("sink closed %d times, want 1", sink.closedCount())
	}
	if m.Active("c1") {
		t.Error("job still registered after completion")
	}
}

func TestManager_RejectsDuplicateStart(t *testing.T) {
	m := NewManager(blockingEnumerator{})
	defer m.Abort("c1")

	if err := m.Start("https://example.com", "c1", &collectSink{}, time.Minute); err != nil {
		t.Fatalf("first Start returned error: %v", err)
	}
	err := m.Start("https://example.com", "c1", &collectSink{}, time.Minute)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start error = %v, want ErrAlreadyRunning", err)
	}
	if m.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1 (no leaked registration)", m.ActiveCount())
	}
}

func TestManager_AbortIdempotent(t *testing.T) {
	m := NewManager(blockingEnumerator{})
	sink := &collectSink{}

	if err := m.Start("https://example.com", "c1", sink, time.Minute); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if err := m.Abort("c1"); err != nil {
		t.Fatalf("first Abort returned error: %v", err)
	}
	if err := m.Abort("c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Abort error = %v, want ErrNotFound", err)
	}
	if sink.closedCount() != 1 {
		t.Errorf("sink closed %d times, want 1", sink.closedCount())
	}
}

func TestManager_AbortStopsArmedTimer(t *testing.T) {
	var mu sync.Mutex
	var reasons []EndReason
	m := NewManager(blockingEnumerator{}, WithEndCallback(func(id string, r EndReason) {
		mu.Lock()
		reasons = append(reasons, r)
		mu.Unlock()
	}))
	sink := &collectSink{}

	if err := m.Start("https://example.com", "c1", sink, 50*time.Millisecond); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := m.Abort("c1"); err != nil {
		t.Fatalf("Abort returned error: %v", err)
	}

	// Wait well past the fallback timeout; the stopped timer must not
	// produce a second end.
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(reasons) != 1 || reasons[0] != EndAborted {
		t.Fatalf("end reasons = %v, want exactly [aborted]", reasons)
	}
	if sink.closedCount() != 1 {
		t.Errorf("sink closed %d times, want 1", sink.closedCount())
	}
}

func TestManager_AbortUnknownClient(t *testing.T) {
	m := NewManager(blockingEnumerator{})
	if err := m.Abort("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Abort(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestManager_FallbackTimeout(t *testing.T) {
	var reason EndReason
	done := make(chan struct{})
	m := NewManager(blockingEnumerator{}, WithEndCallback(func(id string, r EndReason) {
		reason = r
		close(done)
	}))
	sink := &collectSink{}

	start := time.Now()
	if err := m.Start("https://example.com", "c1", sink, 100*time.Millisecond); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not ended by the fallback timer")
	}

	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("job ended after %s, want at least the 100ms timeout", elapsed)
	}
	if reason != EndTimeout {
		t.Errorf("end reason = %q, want %q", reason, EndTimeout)
	}
	if sink.closedCount() != 1 {
		t.Errorf("sink closed %d times, want 1", sink.closedCount())
	}
}

func TestManager_HeadlessJobTimesOut(t *testing.T) {
	done := make(chan struct{})
	m := NewManager(blockingEnumerator{}, WithEndCallback(func(id string, r EndReason) {
		close(done)
	}))

	// nil sink: headless run, only the timer can end it.
	if err := m.Start("https://example.com", "c1", nil, 50*time.Millisecond); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("headless job did not self-terminate")
	}
	if m.Active("c1") {
		t.Error("headless job still registered after timeout")
	}
}

func TestManager_SinkFailureTearsDown(t *testing.T) {
	enum := &chunkEnumerator{chunks: [][]byte{[]byte("a"), []byte("b")}, gap: 5 * time.Millisecond}

	var reason EndReason
	done := make(chan struct{})
	m := NewManager(enum, WithEndCallback(func(id string, r EndReason) {
		reason = r
		close(done)
	}))

	sink := &collectSink{sendErr: errors.New("peer went away")}
	if err := m.Start("https://example.com", "c1", sink, time.Second); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not end after sink failure")
	}
	if reason != EndErrored {
		t.Errorf("end reason = %q, want %q", reason, EndErrored)
	}
	if m.Active("c1") {
		t.Error("job still registered after sink failure")
	}
}

func TestManager_RestartAfterEnd(t *testing.T) {
	m := NewManager(&chunkEnumerator{chunks: [][]byte{[]byte("x")}})
	sink := &collectSink{}

	if err := m.Start("https://example.com", "c1", sink, time.Second); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	waitFor(t, time.Second, func() bool { return !m.Active("c1") })

	// Once the first job ended, the id is free again.
	if err := m.Start("https://example.com", "c1", &collectSink{}, time.Second); err != nil {
		t.Fatalf("Start after end returned error: %v", err)
	}
	m.Abort("c1")
}
