// Package discovery finds storage mirrors published in DNS. A domain lists
// its mirrors as SRV records under _anchorstore._tcp.<domain>.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// Service is the SRV service label mirrors are published under.
const Service = "anchorstore"

// Resolver performs SRV lookups. *net.Resolver satisfies it.
type Resolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

var _ Resolver = (*net.Resolver)(nil)

// Endpoints returns host:port pairs from the SRV records for service on
// domain, sorted by priority (ascending) then weight (descending).
func Endpoints(ctx context.Context, r Resolver, service, domain string) ([]string, error) {
	if domain == "" {
		return nil, fmt.Errorf("%w: empty domain", ErrDNSLookupFailed)
	}
	if service == "" {
		return nil, fmt.Errorf("%w: empty service", ErrDNSLookupFailed)
	}

	_, addrs, err := r.LookupSRV(ctx, service, "tcp", domain)
	if err != nil {
		return nil, fmt.Errorf("%w: SRV lookup for _%s._tcp.%s: %w", ErrDNSLookupFailed, service, domain, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: no SRV records for _%s._tcp.%s", ErrNoEndpoints, service, domain)
	}

	sort.SliceStable(addrs, func(i, j int) bool {
		if addrs[i].Priority != addrs[j].Priority {
			return addrs[i].Priority < addrs[j].Priority
		}
		return addrs[i].Weight > addrs[j].Weight
	})

	endpoints := make([]string, len(addrs))
	for i, srv := range addrs {
		host := strings.TrimSuffix(srv.Target, ".")
		endpoints[i] = net.JoinHostPort(host, strconv.Itoa(int(srv.Port)))
	}
	return endpoints, nil
}

// Mirrors resolves the mirror base URLs published for domain. Port 443 is
// reached over https, every other port over http.
func Mirrors(ctx context.Context, r Resolver, domain string) ([]string, error) {
	endpoints, err := Endpoints(ctx, r, Service, domain)
	if err != nil {
		return nil, err
	}
	urls := make([]string, len(endpoints))
	for i, ep := range endpoints {
		host, port, _ := net.SplitHostPort(ep)
		if port == "443" {
			urls[i] = "https://" + host
		} else {
			urls[i] = "http://" + ep
		}
	}
	return urls, nil
}
