package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/recondeck/recondeck/internal/record"
)

// memBus is an in-process topic. Publish delivers synchronously to the
// registered handler, retrying once on nack.
type memBus struct {
	handler   Handler
	published [][]byte
	pubErr    error
	nacks     int
}

func (b *memBus) Publish(ctx context.Context, data []byte) error {
	if b.pubErr != nil {
		return b.pubErr
	}
	b.published = append(b.published, data)
	if b.handler != nil {
		if !b.handler(ctx, data) {
			b.nacks++
			b.handler(ctx, data)
		}
	}
	return nil
}

func (b *memBus) Receive(ctx context.Context, h Handler) error {
	b.handler = h
	<-ctx.Done()
	return ctx.Err()
}

type stubScanner struct {
	result *record.PortScanResult
	err    error
	calls  int
}

func (s *stubScanner) Scan(ctx context.Context, host string) (*record.PortScanResult, error) {
	s.calls++
	return s.result, s.err
}

func TestParseJob(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid", `{"request_id":"r1","client_id":"c1","host":"target.example"}`, false},
		{"missing request id", `{"client_id":"c1","host":"target.example"}`, true},
		{"missing host", `{"request_id":"r1","client_id":"c1"}`, true},
		{"garbage", `not json`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJob([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseJob(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
		})
	}
}

func TestDispatcher_PublishJob(t *testing.T) {
	store := newStore(t)
	seed(t, store, "c1")
	bus := &memBus{}
	d := NewDispatcher(bus, store, nil)

	id1, err := d.PublishJob(context.Background(), "c1", "target.example")
	if err != nil {
		t.Fatalf("PublishJob: %v", err)
	}
	id2, err := d.PublishJob(context.Background(), "c1", "target.example")
	if err != nil {
		t.Fatalf("second PublishJob: %v", err)
	}
	if id1 == "" || id1 == id2 {
		t.Fatalf("request ids not unique: %q %q", id1, id2)
	}
	if len(bus.published) != 2 {
		t.Fatalf("published %d messages", len(bus.published))
	}
	job, err := ParseJob(bus.published[0])
	if err != nil {
		t.Fatalf("ParseJob: %v", err)
	}
	if job.RequestID != id1 || job.ClientID != "c1" || job.Host != "target.example" {
		t.Errorf("unexpected job: %+v", job)
	}

	rec, err := store.Get(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.PortScanRequestID != id2 {
		t.Errorf("outstanding request id = %q, want %q", rec.PortScanRequestID, id2)
	}
}

func TestDispatcher_PublishFailure(t *testing.T) {
	store := newStore(t)
	seed(t, store, "c1")
	bus := &memBus{pubErr: errors.New("broker down")}
	d := NewDispatcher(bus, store, nil)
	if _, err := d.PublishJob(context.Background(), "c1", "target.example"); err == nil {
		t.Fatal("expected error")
	}
}

func TestDispatcher_UnknownClientRejected(t *testing.T) {
	store := newStore(t)
	bus := &memBus{}
	d := NewDispatcher(bus, store, nil)
	if _, err := d.PublishJob(context.Background(), "ghost", "target.example"); err == nil {
		t.Fatal("expected error for unknown client")
	}
	if len(bus.published) != 0 {
		t.Errorf("job published for unknown client")
	}
}

func TestWorker_PublishesScanResult(t *testing.T) {
	scanner := &stubScanner{result: &record.PortScanResult{
		Host:      "target.example",
		Ports:     []record.PortStatus{{Port: 443, Open: true, Service: "https"}},
		ScannedAt: time.Now().UTC(),
	}}
	results := &memBus{}
	w := NewWorker(nil, results, scanner, nil)

	job, _ := json.Marshal(Job{RequestID: "r1", ClientID: "c1", Host: "target.example"})
	if !w.handle(context.Background(), job) {
		t.Fatal("expected ack")
	}
	if len(results.published) != 1 {
		t.Fatalf("published %d results", len(results.published))
	}
	res, err := ParseResult(results.published[0])
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	if res.RequestID != "r1" || res.ClientID != "c1" || res.Error != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Scan == nil || len(res.Scan.Ports) != 1 || res.Scan.Ports[0].Port != 443 {
		t.Errorf("scan payload lost: %+v", res.Scan)
	}
}

func TestWorker_ScanFailureProducesErrorResult(t *testing.T) {
	scanner := &stubScanner{err: errors.New("host unreachable")}
	results := &memBus{}
	w := NewWorker(nil, results, scanner, nil)

	job, _ := json.Marshal(Job{RequestID: "r1", ClientID: "c1", Host: "target.example"})
	if !w.handle(context.Background(), job) {
		t.Fatal("expected ack")
	}
	res, err := ParseResult(results.published[0])
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	if res.Error == "" || res.Scan != nil {
		t.Fatalf("expected error result, got %+v", res)
	}
}

func TestWorker_MalformedJobAcked(t *testing.T) {
	scanner := &stubScanner{}
	results := &memBus{}
	w := NewWorker(nil, results, scanner, nil)

	if !w.handle(context.Background(), []byte("not json")) {
		t.Fatal("malformed job should be acked and dropped")
	}
	if scanner.calls != 0 {
		t.Errorf("scanner invoked for malformed job")
	}
	if len(results.published) != 0 {
		t.Errorf("result published for malformed job")
	}
}

func TestWorker_ResultPublishFailureNacked(t *testing.T) {
	scanner := &stubScanner{result: &record.PortScanResult{Host: "target.example"}}
	results := &memBus{pubErr: errors.New("broker down")}
	w := NewWorker(nil, results, scanner, nil)

	job, _ := json.Marshal(Job{RequestID: "r1", ClientID: "c1", Host: "target.example"})
	if w.handle(context.Background(), job) {
		t.Fatal("expected nack when result publish fails")
	}
}

func newStore(t *testing.T) record.Store {
	t.Helper()
	store, err := record.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seed(t *testing.T, store record.Store, clientID string) {
	t.Helper()
	err := store.Create(context.Background(), &record.ScanRecord{
		ClientID:  clientID,
		URL:       "https://target.example",
		Status:    record.StatusPending,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
}

// markDispatched records requestID as the client's outstanding port scan.
func markDispatched(t *testing.T, store record.Store, clientID, requestID string) {
	t.Helper()
	if err := store.Update(context.Background(), clientID, record.Patch{PortScanRequestID: &requestID}); err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestResultConsumer_PersistsScan(t *testing.T) {
	store := newStore(t)
	seed(t, store, "c1")
	markDispatched(t, store, "c1", "r1")
	c := NewResultConsumer(nil, store, nil)

	payload, _ := json.Marshal(Result{
		RequestID: "r1",
		ClientID:  "c1",
		Scan: &record.PortScanResult{
			Host:  "target.example",
			Ports: []record.PortStatus{{Port: 22, Open: false}},
		},
	})
	if !c.handle(context.Background(), payload) {
		t.Fatal("expected ack")
	}
	rec, err := store.Get(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != record.StatusDone {
		t.Errorf("status = %q, want done", rec.Status)
	}
	if rec.PortScan == nil || len(rec.PortScan.Ports) != 1 {
		t.Errorf("scan not persisted: %+v", rec.PortScan)
	}
}

func TestResultConsumer_ErrorResultMarksRecord(t *testing.T) {
	store := newStore(t)
	seed(t, store, "c1")
	markDispatched(t, store, "c1", "r1")
	c := NewResultConsumer(nil, store, nil)

	payload, _ := json.Marshal(Result{RequestID: "r1", ClientID: "c1", Error: "host unreachable"})
	if !c.handle(context.Background(), payload) {
		t.Fatal("expected ack")
	}
	rec, err := store.Get(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != record.StatusError {
		t.Errorf("status = %q, want error", rec.Status)
	}
	if rec.PortScan != nil {
		t.Errorf("error result persisted a scan: %+v", rec.PortScan)
	}
}

func TestResultConsumer_UnknownClientDropped(t *testing.T) {
	store := newStore(t)
	c := NewResultConsumer(nil, store, nil)

	payload, _ := json.Marshal(Result{RequestID: "r1", ClientID: "ghost", Error: "x"})
	if !c.handle(context.Background(), payload) {
		t.Fatal("unknown client should be acked and dropped")
	}
}

func TestResultConsumer_StaleRequestIDDropped(t *testing.T) {
	store := newStore(t)
	seed(t, store, "c1")
	markDispatched(t, store, "c1", "r2")
	c := NewResultConsumer(nil, store, nil)

	payload, _ := json.Marshal(Result{
		RequestID: "r1",
		ClientID:  "c1",
		Scan:      &record.PortScanResult{Host: "target.example"},
	})
	if !c.handle(context.Background(), payload) {
		t.Fatal("stale result should be acked and dropped")
	}
	rec, err := store.Get(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != record.StatusPending {
		t.Errorf("status = %q, stale result must not change it", rec.Status)
	}
	if rec.PortScan != nil {
		t.Errorf("stale result persisted a scan: %+v", rec.PortScan)
	}
}

func TestDispatchRoundTrip(t *testing.T) {
	store := newStore(t)
	seed(t, store, "c1")

	scanner := &stubScanner{result: &record.PortScanResult{
		Host:      "target.example",
		Ports:     []record.PortStatus{{Port: 80, Open: true, Service: "http"}},
		ScannedAt: time.Now().UTC(),
	}}

	resultsBus := &memBus{}
	consumer := NewResultConsumer(resultsBus, store, nil)
	resultsBus.handler = consumer.handle

	jobsBus := &memBus{}
	worker := NewWorker(jobsBus, resultsBus, scanner, nil)
	jobsBus.handler = worker.handle

	d := NewDispatcher(jobsBus, store, nil)
	if _, err := d.PublishJob(context.Background(), "c1", "target.example"); err != nil {
		t.Fatalf("PublishJob: %v", err)
	}

	rec, err := store.Get(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != record.StatusDone || rec.PortScan == nil {
		t.Fatalf("round trip did not persist scan: status=%q scan=%+v", rec.Status, rec.PortScan)
	}
	if rec.PortScan.Ports[0].Service != "http" {
		t.Errorf("unexpected scan: %+v", rec.PortScan)
	}
}
