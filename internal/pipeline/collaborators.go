package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/recondeck/recondeck/internal/record"
)

// ErrNoAddresses is returned by a Resolver when a hostname has no records
// in either address family. The stage reports it as not-found and persists
// nothing.
var ErrNoAddresses = errors.New("pipeline: no addresses found")

// ---------------------------------------------------------------------------
// Collaborator interfaces. The implementations behind these are external
// concerns; the pipeline only calls, caches, and persists their results.
// ---------------------------------------------------------------------------

// Resolver resolves a hostname into per-family address groups.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]record.IPGroup, error)
}

// GeoLocator looks up the geolocation of an IP address.
type GeoLocator interface {
	Locate(ctx context.Context, ip string) (*record.GeoInfo, error)
}

// ASNLocator looks up the autonomous system announcing an IP address.
type ASNLocator interface {
	ASN(ctx context.Context, ip string) (*record.ASNInfo, error)
}

// TechDetector fingerprints the technologies serving a URL.
type TechDetector interface {
	Detect(ctx context.Context, url string) ([]record.Technology, error)
}

// Screenshotter captures a page screenshot and returns the artifact path.
type Screenshotter interface {
	Capture(ctx context.Context, url, clientID string) (string, error)
}

// HeaderFetcher retrieves the raw response headers of a URL.
type HeaderFetcher interface {
	Fetch(ctx context.Context, url string) (*record.HeaderInfo, error)
}

// HeaderAuditor runs the header security check set against a URL.
type HeaderAuditor interface {
	Audit(ctx context.Context, url string) ([]record.CheckResult, error)
}

// CertInfo is the outcome of a TLS certificate inspection. It is served
// from the TTL cache and never persisted on the record.
type CertInfo struct {
	Host      string    `json:"host"`
	Issuer    string    `json:"issuer"`
	Subject   string    `json:"subject"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
	DaysLeft  int       `json:"days_left"`
	Valid     bool      `json:"valid"`
	DNSNames  []string  `json:"dns_names,omitempty"`
}

// CertChecker inspects the TLS certificate presented by a host.
type CertChecker interface {
	Check(ctx context.Context, host string) (*CertInfo, error)
}
