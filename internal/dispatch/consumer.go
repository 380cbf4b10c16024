package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/recondeck/recondeck/internal/record"
)

// ResultConsumer persists port-scan results onto the scan records. Results
// for unknown clients or with a request id that is not the record's
// outstanding one are dropped; transient store failures are nacked for
// redelivery.
type ResultConsumer struct {
	results Subscriber
	store   record.Store
	logger  *slog.Logger
}

// NewResultConsumer builds a ResultConsumer over the results subscription.
func NewResultConsumer(results Subscriber, store record.Store, logger *slog.Logger) *ResultConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultConsumer{results: results, store: store, logger: logger}
}

// Run consumes results until the context ends.
func (c *ResultConsumer) Run(ctx context.Context) error {
	return c.results.Receive(ctx, c.handle)
}

func (c *ResultConsumer) handle(ctx context.Context, data []byte) bool {
	res, err := ParseResult(data)
	if err != nil {
		c.logger.Warn("dropping malformed result", "error", err)
		return true
	}

	rec, err := c.store.Get(ctx, res.ClientID)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			c.logger.Warn("result for unknown client", "request_id", res.RequestID, "client_id", res.ClientID)
			return true
		}
		c.logger.Error("load record", "request_id", res.RequestID, "client_id", res.ClientID, "error", err)
		return false
	}
	if rec.PortScanRequestID != res.RequestID {
		c.logger.Warn("dropping result with unknown request id",
			"request_id", res.RequestID, "client_id", res.ClientID, "outstanding", rec.PortScanRequestID)
		return true
	}

	patch := record.Patch{}
	if res.Error != "" {
		status := record.StatusError
		patch.Status = &status
	} else {
		status := record.StatusDone
		patch.Status = &status
		patch.PortScan = res.Scan
	}

	if err := c.store.Update(ctx, res.ClientID, patch); err != nil {
		if errors.Is(err, record.ErrNotFound) {
			c.logger.Warn("result for unknown client", "request_id", res.RequestID, "client_id", res.ClientID)
			return true
		}
		c.logger.Error("persist result", "request_id", res.RequestID, "client_id", res.ClientID, "error", err)
		return false
	}
	c.logger.Info("port scan persisted", "request_id", res.RequestID, "client_id", res.ClientID)
	return true
}
