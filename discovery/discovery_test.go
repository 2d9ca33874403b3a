package discovery

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockResolver struct {
	srvs []*net.SRV
	err  error
	got  string
}

func (m *mockResolver) LookupSRV(_ context.Context, service, proto, name string) (string, []*net.SRV, error) {
	m.got = "_" + service + "._" + proto + "." + name
	return "", m.srvs, m.err
}

func TestEndpointsSortedByPriorityThenWeight(t *testing.T) {
	r := &mockResolver{srvs: []*net.SRV{
		{Target: "c.example.com.", Port: 9464, Priority: 20, Weight: 5},
		{Target: "a.example.com.", Port: 9464, Priority: 10, Weight: 1},
		{Target: "b.example.com.", Port: 8080, Priority: 10, Weight: 50},
	}}
	eps, err := Endpoints(context.Background(), r, Service, "example.com")
	require.NoError(t, err)
	assert.Equal(t, "_anchorstore._tcp.example.com", r.got)
	assert.Equal(t, []string{"b.example.com:8080", "a.example.com:9464", "c.example.com:9464"}, eps)
}

func TestEndpointsErrors(t *testing.T) {
	_, err := Endpoints(context.Background(), &mockResolver{}, Service, "")
	assert.ErrorIs(t, err, ErrDNSLookupFailed)

	_, err = Endpoints(context.Background(), &mockResolver{}, "", "example.com")
	assert.ErrorIs(t, err, ErrDNSLookupFailed)

	_, err = Endpoints(context.Background(), &mockResolver{err: errors.New("servfail")}, Service, "example.com")
	assert.ErrorIs(t, err, ErrDNSLookupFailed)

	_, err = Endpoints(context.Background(), &mockResolver{}, Service, "example.com")
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestMirrorsSchemeByPort(t *testing.T) {
	r := &mockResolver{srvs: []*net.SRV{
		{Target: "secure.example.com.", Port: 443, Priority: 1},
		{Target: "plain.example.com.", Port: 9464, Priority: 2},
	}}
	urls, err := Mirrors(context.Background(), r, "example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://secure.example.com", "http://plain.example.com:9464"}, urls)
}

func TestNewDNSSECResolverDefaults(t *testing.T) {
	assert.Equal(t, DefaultUpstream, NewDNSSECResolver("").Upstream)
	assert.Equal(t, "1.1.1.1:53", NewDNSSECResolver("1.1.1.1:53").Upstream)
}

func srvRR(owner string, prio, port uint16, target string) *dns.SRV {
	return &dns.SRV{
		Hdr:      dns.RR_Header{Name: owner, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: 60},
		Priority: prio, Weight: 5, Port: port, Target: target,
	}
}

// serveDNS runs handler on a local UDP port and returns its address.
func serveDNS(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

// startDNS answers every SRV question with two mirrors.
func startDNS(t *testing.T, authenticated bool, rcode int) string {
	return serveDNS(t, func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(req, rcode)
		m.AuthenticatedData = authenticated
		if rcode == dns.RcodeSuccess {
			name := req.Question[0].Name
			m.Answer = append(m.Answer,
				srvRR(name, 10, 9464, "mirror-a.example.com."),
				srvRR(name, 5, 443, "mirror-b.example.com."),
			)
		}
		_ = w.WriteMsg(m)
	})
}

func TestDNSSECResolverAuthenticatedAnswer(t *testing.T) {
	r := NewDNSSECResolver(startDNS(t, true, dns.RcodeSuccess))

	urls, err := Mirrors(context.Background(), r, "example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://mirror-b.example.com", "http://mirror-a.example.com:9464"}, urls)
}

func TestDNSSECResolverRejectsUnauthenticated(t *testing.T) {
	r := NewDNSSECResolver(startDNS(t, false, dns.RcodeSuccess))

	_, _, err := r.LookupSRV(context.Background(), Service, "tcp", "example.com")
	assert.ErrorIs(t, err, ErrDNSSECValidationFailed)
}

func TestDNSSECResolverServerFailure(t *testing.T) {
	r := NewDNSSECResolver(startDNS(t, true, dns.RcodeServerFailure))

	_, _, err := r.LookupSRV(context.Background(), Service, "tcp", "example.com")
	assert.ErrorIs(t, err, ErrDNSLookupFailed)
}

func TestDNSSECResolverNXDomain(t *testing.T) {
	r := NewDNSSECResolver(startDNS(t, true, dns.RcodeNameError))

	_, err := Mirrors(context.Background(), r, "example.com")
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestDNSSECResolverFollowsCNAME(t *testing.T) {
	addr := serveDNS(t, func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		m.AuthenticatedData = true
		name := req.Question[0].Name
		m.Answer = append(m.Answer,
			&dns.CNAME{
				Hdr:    dns.RR_Header{Name: name, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: 60},
				Target: "_anchorstore._tcp.mirrors.example.net.",
			},
			srvRR("_anchorstore._tcp.mirrors.example.net.", 1, 443, "m1.example.net."),
			srvRR("stray.example.org.", 1, 443, "evil.example.org."),
		)
		_ = w.WriteMsg(m)
	})

	cname, srvs, err := NewDNSSECResolver(addr).LookupSRV(context.Background(), Service, "tcp", "example.com")
	require.NoError(t, err)
	assert.Equal(t, "_anchorstore._tcp.mirrors.example.net.", cname)
	require.Len(t, srvs, 1)
	assert.Equal(t, "m1.example.net", srvs[0].Target)
}
