package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/recondeck/recondeck/internal/record"
)

// Job is one port-scan request published on the jobs topic. RequestID
// correlates the job with its result across the broker.
type Job struct {
	RequestID string    `json:"request_id"`
	ClientID  string    `json:"client_id"`
	Host      string    `json:"host"`
	Timestamp time.Time `json:"timestamp"`
}

// Result is the outcome of a job, published on the results topic. Either
// Scan or Error is set.
type Result struct {
	RequestID string                 `json:"request_id"`
	ClientID  string                 `json:"client_id"`
	Scan      *record.PortScanResult `json:"scan,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ParseJob unmarshals a job payload and validates its correlation fields.
func ParseJob(raw []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	if job.RequestID == "" {
		return Job{}, errors.New("job missing request_id")
	}
	if job.ClientID == "" || job.Host == "" {
		return Job{}, errors.New("job missing client_id or host")
	}
	return job, nil
}

// ParseResult unmarshals a result payload and validates its correlation
// fields.
func ParseResult(raw []byte) (Result, error) {
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return Result{}, fmt.Errorf("unmarshal result: %w", err)
	}
	if res.RequestID == "" || res.ClientID == "" {
		return Result{}, errors.New("result missing correlation ids")
	}
	return res, nil
}
