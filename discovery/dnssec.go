package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	// DefaultUpstream is the recursive resolver used when none is configured.
	DefaultUpstream = "8.8.8.8:53"

	dnssecTimeout = 10 * time.Second
	udpBufSize    = 4096
)

// DNSSECResolver sends queries with the DO bit to a validating recursive
// resolver and trusts only answers it marks Authenticated Data. Truncated
// UDP answers are retried over TCP.
type DNSSECResolver struct {
	Upstream string
	Timeout  time.Duration
}

var _ Resolver = (*DNSSECResolver)(nil)

// NewDNSSECResolver returns a resolver for upstream, DefaultUpstream if empty.
func NewDNSSECResolver(upstream string) *DNSSECResolver {
	if upstream == "" {
		upstream = DefaultUpstream
	}
	return &DNSSECResolver{Upstream: upstream, Timeout: dnssecTimeout}
}

// LookupSRV resolves _service._proto.name. The returned canonical name is
// the CNAME target when the answer carries one, otherwise the queried name.
// A signed NXDOMAIN yields no records and no error.
func (r *DNSSECResolver) LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error) {
	qname := dns.Fqdn("_" + service + "._" + proto + "." + name)
	resp, err := r.exchange(ctx, qname, dns.TypeSRV)
	if err != nil {
		return "", nil, err
	}

	owner := qname
	var srvs []*net.SRV
	for _, rr := range resp.Answer {
		switch rec := rr.(type) {
		case *dns.CNAME:
			if strings.EqualFold(rec.Hdr.Name, owner) {
				owner = rec.Target
			}
		case *dns.SRV:
			if !strings.EqualFold(rec.Hdr.Name, owner) {
				continue
			}
			srvs = append(srvs, &net.SRV{
				Target:   strings.TrimSuffix(rec.Target, "."),
				Port:     rec.Port,
				Priority: rec.Priority,
				Weight:   rec.Weight,
			})
		}
	}
	return owner, srvs, nil
}

func (r *DNSSECResolver) exchange(ctx context.Context, qname string, qtype uint16) (*dns.Msg, error) {
	q := new(dns.Msg)
	q.SetQuestion(qname, qtype)
	q.RecursionDesired = true
	q.SetEdns0(udpBufSize, true)

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = dnssecTimeout
	}
	label := qname + " " + dns.TypeToString[qtype]

	resp, _, err := (&dns.Client{Timeout: timeout}).ExchangeContext(ctx, q, r.Upstream)
	if err == nil && resp.Truncated {
		resp, _, err = (&dns.Client{Net: "tcp", Timeout: timeout}).ExchangeContext(ctx, q, r.Upstream)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDNSLookupFailed, label, err)
	}

	switch {
	case resp.Rcode != dns.RcodeSuccess && resp.Rcode != dns.RcodeNameError:
		return nil, fmt.Errorf("%w: %s: %s", ErrDNSLookupFailed, label, dns.RcodeToString[resp.Rcode])
	case !resp.AuthenticatedData:
		return nil, fmt.Errorf("%w: %s answered without AD", ErrDNSSECValidationFailed, label)
	}
	return resp, nil
}
