// Package collab holds the default implementations of the enrichment
// collaborators consumed by the pipeline and the dispatch worker.
package collab

import (
	"context"
	"fmt"
	"net"

	"github.com/recondeck/recondeck/internal/pipeline"
	"github.com/recondeck/recondeck/internal/record"
)

// DNSResolver resolves hostnames through the system resolver.
type DNSResolver struct {
	resolver *net.Resolver
}

// NewDNSResolver builds a DNSResolver. A nil resolver falls back to
// net.DefaultResolver.
func NewDNSResolver(r *net.Resolver) *DNSResolver {
	if r == nil {
		r = net.DefaultResolver
	}
	return &DNSResolver{resolver: r}
}

// Resolve returns the v4 and v6 address groups of a host. Empty families
// are omitted; when both are empty it returns pipeline.ErrNoAddresses.
func (d *DNSResolver) Resolve(ctx context.Context, host string) ([]record.IPGroup, error) {
	var groups []record.IPGroup
	for _, family := range []struct {
		network string
		name    string
	}{
		{"ip4", "v4"},
		{"ip6", "v6"},
	} {
		ips, err := d.resolver.LookupIP(ctx, family.network, host)
		if err != nil {
			// Resolvers answer "no such records" inconsistently; a lookup
			// failure for one family is an empty group as long as the
			// other family resolves.
			continue
		}
		addrs := make([]string, 0, len(ips))
		for _, ip := range ips {
			addrs = append(addrs, ip.String())
		}
		if len(addrs) > 0 {
			groups = append(groups, record.IPGroup{Addresses: addrs, Family: family.name})
		}
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("resolving %s: %w", host, pipeline.ErrNoAddresses)
	}
	return groups, nil
}
