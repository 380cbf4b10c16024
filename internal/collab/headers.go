package collab

import (
	"context"
	"fmt"
	"net/http"

	"github.com/recondeck/recondeck/internal/headercheck"
	"github.com/recondeck/recondeck/internal/record"
	"github.com/recondeck/recondeck/internal/transport"
)

// HeaderFetcher snapshots the raw response headers of a URL. It tries HEAD
// first and falls back to GET for servers that reject HEAD.
type HeaderFetcher struct {
	client transport.Client
}

// NewHeaderFetcher builds a HeaderFetcher over the shared transport client.
func NewHeaderFetcher(client transport.Client) *HeaderFetcher {
	return &HeaderFetcher{client: client}
}

// Fetch returns the status line and headers of the target.
func (f *HeaderFetcher) Fetch(ctx context.Context, url string) (*record.HeaderInfo, error) {
	resp, err := f.client.Do(ctx, &transport.Request{Method: http.MethodHead, URL: url})
	if err != nil || resp.StatusCode == http.StatusMethodNotAllowed {
		resp, err = f.client.Do(ctx, &transport.Request{Method: http.MethodGet, URL: url})
		if err != nil {
			return nil, fmt.Errorf("fetching headers of %s: %w", url, err)
		}
	}
	return &record.HeaderInfo{
		StatusLine: resp.Status,
		Headers:    resp.Headers,
	}, nil
}

// HeaderAuditor runs the header security check set over the shared
// transport client.
type HeaderAuditor struct {
	client transport.Client
}

// NewHeaderAuditor builds a HeaderAuditor.
func NewHeaderAuditor(client transport.Client) *HeaderAuditor {
	return &HeaderAuditor{client: client}
}

// Audit evaluates every registered header check against the URL.
func (a *HeaderAuditor) Audit(ctx context.Context, url string) ([]record.CheckResult, error) {
	return headercheck.RunAll(ctx, a.client, url)
}
