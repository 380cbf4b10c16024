package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/recondeck/recondeck/internal/record"
)

// PortScanner executes the actual port scan for a job.
type PortScanner interface {
	Scan(ctx context.Context, host string) (*record.PortScanResult, error)
}

// Worker consumes jobs, runs the scanner, and publishes results. Malformed
// jobs are dropped after logging; a failed result publish is nacked so the
// job is retried.
type Worker struct {
	jobs    Subscriber
	results Publisher
	scanner PortScanner
	logger  *slog.Logger
}

// NewWorker builds a Worker.
func NewWorker(jobs Subscriber, results Publisher, scanner PortScanner, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{jobs: jobs, results: results, scanner: scanner, logger: logger}
}

// Run processes jobs until the context ends.
func (w *Worker) Run(ctx context.Context) error {
	return w.jobs.Receive(ctx, w.handle)
}

func (w *Worker) handle(ctx context.Context, data []byte) bool {
	job, err := ParseJob(data)
	if err != nil {
		w.logger.Warn("dropping malformed job", "error", err)
		return true
	}

	res := Result{
		RequestID: job.RequestID,
		ClientID:  job.ClientID,
		Timestamp: time.Now().UTC(),
	}
	scan, err := w.scanner.Scan(ctx, job.Host)
	if err != nil {
		w.logger.Error("port scan failed", "request_id", job.RequestID, "host", job.Host, "error", err)
		res.Error = err.Error()
	} else {
		res.Scan = scan
	}

	payload, err := json.Marshal(res)
	if err != nil {
		w.logger.Error("marshal result", "request_id", job.RequestID, "error", err)
		return true
	}
	if err := w.results.Publish(ctx, payload); err != nil {
		w.logger.Error("publish result", "request_id", job.RequestID, "error", err)
		return false
	}
	w.logger.Info("port scan completed", "request_id", job.RequestID, "client_id", job.ClientID, "failed", res.Error != "")
	return true
}
