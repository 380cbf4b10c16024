// Package record provides the durable per-client scan record, the single
// source of truth behind the enrichment pipeline's idempotence.
package record

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record exists for a client id.
var ErrNotFound = errors.New("record: not found")

// Scan statuses.
const (
	StatusPending = "pending"
	StatusDone    = "done"
	StatusError   = "error"
)

// IPGroup holds the resolved addresses for one address family.
type IPGroup struct {
	Addresses []string `json:"addresses"`
	Family    string   `json:"family"` // "v4" or "v6"
}

// GeoInfo is the geolocation of the target's first resolved address.
type GeoInfo struct {
	Country   string  `json:"country"`
	City      string  `json:"city"`
	Region    string  `json:"region"`
	Timezone  string  `json:"timezone"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ASNInfo describes the autonomous system announcing the target address.
type ASNInfo struct {
	ASN       string `json:"asn"`
	Name      string `json:"name"`
	Domain    string `json:"domain"`
	Country   string `json:"country"`
	Continent string `json:"continent"`
}

// Technology is one detected technology on the target.
type Technology struct {
	Name     string `json:"name"`
	Version  string `json:"version,omitempty"`
	Category string `json:"category,omitempty"`
}

// HeaderInfo is the raw header snapshot of the target.
type HeaderInfo struct {
	StatusLine string              `json:"status_line"`
	Headers    map[string][]string `json:"headers"`
}

// CheckResult is the outcome of one header security check.
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // secure, insecure, missing, present
	Header  string `json:"header,omitempty"`
	Message string `json:"message"`
}

// PortStatus is the state of a single scanned port.
type PortStatus struct {
	Port    int    `json:"port"`
	Open    bool   `json:"open"`
	Service string `json:"service,omitempty"`
	Banner  string `json:"banner,omitempty"`
}

// PortScanResult is the outcome of one port-scan job.
type PortScanResult struct {
	Host      string       `json:"host"`
	Ports     []PortStatus `json:"ports"`
	ScannedAt time.Time    `json:"scanned_at"`
}

// ScanRecord is one client's scan session. ClientID is immutable once
// assigned. Enrichment fields are optional and only ever move from empty
// to populated; a populated field is authoritative and never recomputed.
type ScanRecord struct {
	ClientID     string          `json:"client_id"`
	URL          string          `json:"url"`
	Status       string          `json:"status"`
	Timestamp    time.Time       `json:"timestamp"`
	IPs          []IPGroup       `json:"ips,omitempty"`
	Geo          *GeoInfo        `json:"geo,omitempty"`
	ASN          *ASNInfo        `json:"asn,omitempty"`
	Technologies []Technology    `json:"technologies,omitempty"`
	Headers      *HeaderInfo     `json:"headers,omitempty"`
	HeaderChecks []CheckResult   `json:"header_checks,omitempty"`
	Screenshot   string          `json:"screenshot,omitempty"`
	DirBuster    string          `json:"dir_buster,omitempty"`
	PortScan     *PortScanResult `json:"port_scan,omitempty"`

	// PortScanRequestID is the id of the outstanding port-scan job, set
	// when the job is dispatched. Results carrying any other id are stale
	// and must not be merged.
	PortScanRequestID string `json:"port_scan_request_id,omitempty"`
}

// Patch is a partial update. Nil fields are left untouched, so replaying
// the same patch is idempotent and a populated record field can never be
// cleared by an unrelated stage.
type Patch struct {
	Status       *string
	IPs          []IPGroup
	Geo          *GeoInfo
	ASN          *ASNInfo
	Technologies []Technology
	Headers      *HeaderInfo
	HeaderChecks []CheckResult
	Screenshot   *string
	DirBuster    *string
	PortScan     *PortScanResult

	PortScanRequestID *string
}

// Store persists scan records. Implementations must be safe for
// concurrent use.
type Store interface {
	// Create upserts a record keyed by its ClientID.
	Create(ctx context.Context, rec *ScanRecord) error

	// Update merges a partial patch into an existing record. Unset patch
	// fields are not overwritten. Returns ErrNotFound for unknown ids.
	Update(ctx context.Context, clientID string, patch Patch) error

	// Get returns the record for a client id or ErrNotFound.
	Get(ctx context.Context, clientID string) (*ScanRecord, error)

	Close() error
}
