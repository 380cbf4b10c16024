package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/recondeck/recondeck/internal/record"
)

// Dispatcher publishes port-scan jobs. Each job gets a fresh request id,
// recorded on the scan record before the job goes out, so the result
// consumer can tell the outstanding scan's result from a stale one.
type Dispatcher struct {
	jobs   Publisher
	store  record.Store
	logger *slog.Logger
}

// NewDispatcher builds a Dispatcher over the jobs topic.
func NewDispatcher(jobs Publisher, store record.Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{jobs: jobs, store: store, logger: logger}
}

// PublishJob enqueues a port scan for the client's host and returns the
// request id assigned to it. The scan itself runs asynchronously; callers
// observe the outcome through the scan record.
func (d *Dispatcher) PublishJob(ctx context.Context, clientID, host string) (string, error) {
	job := Job{
		RequestID: uuid.NewString(),
		ClientID:  clientID,
		Host:      host,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	// The record carries the id before the job exists anywhere else, so a
	// result can never arrive for an id the consumer cannot verify.
	if err := d.store.Update(ctx, clientID, record.Patch{PortScanRequestID: &job.RequestID}); err != nil {
		return "", fmt.Errorf("record request id: %w", err)
	}
	if err := d.jobs.Publish(ctx, data); err != nil {
		return "", fmt.Errorf("publish job: %w", err)
	}
	d.logger.Info("port scan dispatched", "request_id", job.RequestID, "client_id", clientID, "host", host)
	return job.RequestID, nil
}
