// Package pipeline implements the compute-if-absent enrichment stages of a
// scan. Every stage loads the scan record, returns the stored result when it
// already exists, and otherwise invokes the collaborator, persists the
// outcome, and returns it. Failed computations persist nothing, so a retry
// recomputes.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/recondeck/recondeck/internal/cache"
	"github.com/recondeck/recondeck/internal/record"
)

const (
	// DefaultRecordTTL bounds how long a record read shadows the store.
	DefaultRecordTTL = 30 * time.Second
	// DefaultCertTTL bounds how long a certificate inspection is reused.
	DefaultCertTTL = 10 * time.Minute
)

// DNSResult bundles the address groups with their enrichment. Geo and ASN
// may be nil when their lookups have not succeeded yet.
type DNSResult struct {
	IPs []record.IPGroup `json:"ips"`
	Geo *record.GeoInfo  `json:"geo,omitempty"`
	ASN *record.ASNInfo  `json:"asn,omitempty"`
}

// Pipeline owns the enrichment stages for scan records. All stage methods
// are safe for concurrent use as long as the store and cache are.
type Pipeline struct {
	store record.Store
	cache *cache.Cache

	resolver  Resolver
	geo       GeoLocator
	asn       ASNLocator
	tech      TechDetector
	shooter   Screenshotter
	headers   HeaderFetcher
	auditor   HeaderAuditor
	certs     CertChecker
	logger    *slog.Logger
	recordTTL time.Duration
	certTTL   time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for stage diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRecordTTL overrides the record cache TTL.
func WithRecordTTL(d time.Duration) Option {
	return func(p *Pipeline) { p.recordTTL = d }
}

// WithCertTTL overrides the certificate cache TTL.
func WithCertTTL(d time.Duration) Option {
	return func(p *Pipeline) { p.certTTL = d }
}

// Collaborators groups the stage implementations handed to New.
type Collaborators struct {
	Resolver      Resolver
	GeoLocator    GeoLocator
	ASNLocator    ASNLocator
	TechDetector  TechDetector
	Screenshotter Screenshotter
	HeaderFetcher HeaderFetcher
	HeaderAuditor HeaderAuditor
	CertChecker   CertChecker
}

// New builds a Pipeline over the given store, cache, and collaborators.
func New(store record.Store, c *cache.Cache, collab Collaborators, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     store,
		cache:     c,
		resolver:  collab.Resolver,
		geo:       collab.GeoLocator,
		asn:       collab.ASNLocator,
		tech:      collab.TechDetector,
		shooter:   collab.Screenshotter,
		headers:   collab.HeaderFetcher,
		auditor:   collab.HeaderAuditor,
		certs:     collab.CertChecker,
		logger:    slog.Default(),
		recordTTL: DefaultRecordTTL,
		certTTL:   DefaultCertTTL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Record returns the scan record for a client, serving repeated reads from
// the cache within the record TTL.
func (p *Pipeline) Record(ctx context.Context, clientID string) (*record.ScanRecord, error) {
	key := "record:" + clientID
	if v, ok := p.cache.Get(key); ok {
		if rec, ok := v.(*record.ScanRecord); ok {
			return rec, nil
		}
	}
	rec, err := p.store.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	_ = p.cache.Set(key, rec, p.recordTTL)
	return rec, nil
}

// persist applies a patch and drops the cached record so the next read
// observes the new state.
func (p *Pipeline) persist(ctx context.Context, clientID string, patch record.Patch) error {
	if err := p.store.Update(ctx, clientID, patch); err != nil {
		return err
	}
	p.cache.Delete("record:" + clientID)
	return nil
}

// DNSInfo resolves the scan target and enriches the first IPv4 address with
// geolocation and ASN data. Addresses, geo, and ASN are each computed at
// most once; a missing geo or ASN is retried on later calls without
// re-resolving.
func (p *Pipeline) DNSInfo(ctx context.Context, clientID string) (*DNSResult, error) {
	rec, err := p.Record(ctx, clientID)
	if err != nil {
		return nil, err
	}

	res := &DNSResult{IPs: rec.IPs, Geo: rec.Geo, ASN: rec.ASN}
	if len(res.IPs) == 0 {
		host, err := hostOf(rec.URL)
		if err != nil {
			return nil, err
		}
		groups, err := p.resolver.Resolve(ctx, host)
		if err != nil {
			return nil, err
		}
		res.IPs = groups
		if err := p.persist(ctx, clientID, record.Patch{IPs: groups}); err != nil {
			return nil, err
		}
	}

	ip := firstV4(res.IPs)
	if ip == "" {
		return res, nil
	}
	var patch record.Patch
	if res.Geo == nil {
		geo, err := p.geo.Locate(ctx, ip)
		if err != nil {
			p.logger.Warn("geo lookup failed", "client_id", clientID, "ip", ip, "error", err)
		} else {
			res.Geo = geo
			patch.Geo = geo
		}
	}
	if res.ASN == nil {
		asn, err := p.asn.ASN(ctx, ip)
		if err != nil {
			p.logger.Warn("asn lookup failed", "client_id", clientID, "ip", ip, "error", err)
		} else {
			res.ASN = asn
			patch.ASN = asn
		}
	}
	if patch.Geo != nil || patch.ASN != nil {
		if err := p.persist(ctx, clientID, patch); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Technologies fingerprints the target once and returns the stored result
// on subsequent calls.
func (p *Pipeline) Technologies(ctx context.Context, clientID string) ([]record.Technology, error) {
	rec, err := p.Record(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if rec.Technologies != nil {
		return rec.Technologies, nil
	}
	techs, err := p.tech.Detect(ctx, rec.URL)
	if err != nil {
		return nil, fmt.Errorf("detecting technologies: %w", err)
	}
	if techs == nil {
		techs = []record.Technology{}
	}
	if err := p.persist(ctx, clientID, record.Patch{Technologies: techs}); err != nil {
		return nil, err
	}
	return techs, nil
}

// Screenshot captures the target page once and returns the stored artifact
// path on subsequent calls.
func (p *Pipeline) Screenshot(ctx context.Context, clientID string) (string, error) {
	rec, err := p.Record(ctx, clientID)
	if err != nil {
		return "", err
	}
	if rec.Screenshot != "" {
		return rec.Screenshot, nil
	}
	path, err := p.shooter.Capture(ctx, rec.URL, clientID)
	if err != nil {
		return "", fmt.Errorf("capturing screenshot: %w", err)
	}
	if err := p.persist(ctx, clientID, record.Patch{Screenshot: &path}); err != nil {
		return "", err
	}
	return path, nil
}

// Headers fetches the raw response headers of the target once.
func (p *Pipeline) Headers(ctx context.Context, clientID string) (*record.HeaderInfo, error) {
	rec, err := p.Record(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if rec.Headers != nil {
		return rec.Headers, nil
	}
	info, err := p.headers.Fetch(ctx, rec.URL)
	if err != nil {
		return nil, fmt.Errorf("fetching headers: %w", err)
	}
	if err := p.persist(ctx, clientID, record.Patch{Headers: info}); err != nil {
		return nil, err
	}
	return info, nil
}

// HeaderChecks runs the header security audit once.
func (p *Pipeline) HeaderChecks(ctx context.Context, clientID string) ([]record.CheckResult, error) {
	rec, err := p.Record(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if rec.HeaderChecks != nil {
		return rec.HeaderChecks, nil
	}
	results, err := p.auditor.Audit(ctx, rec.URL)
	if err != nil {
		return nil, fmt.Errorf("auditing headers: %w", err)
	}
	if err := p.persist(ctx, clientID, record.Patch{HeaderChecks: results}); err != nil {
		return nil, err
	}
	return results, nil
}

// SSL inspects the target's TLS certificate. The result lives only in the
// cache; expiry forces a fresh inspection.
func (p *Pipeline) SSL(ctx context.Context, clientID string) (*CertInfo, error) {
	rec, err := p.Record(ctx, clientID)
	if err != nil {
		return nil, err
	}
	key := "ssl:" + clientID
	if v, ok := p.cache.Get(key); ok {
		if info, ok := v.(*CertInfo); ok {
			return info, nil
		}
	}
	host, err := hostOf(rec.URL)
	if err != nil {
		return nil, err
	}
	info, err := p.certs.Check(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("checking certificate: %w", err)
	}
	_ = p.cache.Set(key, info, p.certTTL)
	return info, nil
}

func hostOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing target url: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("target url %q has no host", raw)
	}
	return u.Hostname(), nil
}

func firstV4(groups []record.IPGroup) string {
	for _, g := range groups {
		if g.Family == "v4" && len(g.Addresses) > 0 {
			return g.Addresses[0]
		}
	}
	return ""
}
