// ABOUTME: Tests for the DNS handler: A answers, apex, NXDOMAIN, and delegation to the next plugin.
// ABOUTME: Uses the CoreDNS test.ResponseWriter for capturing DNS responses.

package radd

import (
	"context"
	"testing"

	"github.com/coredns/coredns/plugin/pkg/dnstest"
	"github.com/coredns/coredns/plugin/test"
	"github.com/miekg/dns"
)

func newTestHandler(t *testing.T, records ...Record) (*Radd, *Store) {
	t.Helper()
	r, s := newTestResolver(t, records...)
	return &Radd{Resolver: r, Store: s}, s
}

func TestServeDNS_ActiveHost(t *testing.T) {
	t.Parallel()
	d, s := newTestHandler(t, Record{Name: "alice"})
	if err := s.SetIP("alice", "203.0.113.5"); err != nil {
		t.Fatalf("SetIP() error: %v", err)
	}

	req := new(dns.Msg)
	req.SetQuestion("alice.example.com.", dns.TypeA)
	rec := dnstest.NewRecorder(&test.ResponseWriter{})

	code, err := d.ServeDNS(context.Background(), rec, req)
	if err != nil {
		t.Fatalf("ServeDNS() error: %v", err)
	}
	if code != dns.RcodeSuccess {
		t.Errorf("rcode = %d, want %d", code, dns.RcodeSuccess)
	}
	if len(rec.Msg.Answer) != 1 {
		t.Fatalf("got %d answers, want 1", len(rec.Msg.Answer))
	}
	a, ok := rec.Msg.Answer[0].(*dns.A)
	if !ok {
		t.Fatalf("answer is %T, want *dns.A", rec.Msg.Answer[0])
	}
	if a.A.String() != "203.0.113.5" {
		t.Errorf("A = %s, want 203.0.113.5", a.A)
	}
	if a.Hdr.Name != "alice.example.com." {
		t.Errorf("answer name = %q, want queried name", a.Hdr.Name)
	}
	if !rec.Msg.Authoritative {
		t.Error("Authoritative = false, want true")
	}
}

func TestServeDNS_Apex(t *testing.T) {
	t.Parallel()
	d, _ := newTestHandler(t)

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)
	rec := dnstest.NewRecorder(&test.ResponseWriter{})

	code, err := d.ServeDNS(context.Background(), rec, req)
	if err != nil {
		t.Fatalf("ServeDNS() error: %v", err)
	}
	if code != dns.RcodeSuccess {
		t.Errorf("rcode = %d, want %d", code, dns.RcodeSuccess)
	}
	if len(rec.Msg.Answer) != 1 {
		t.Fatalf("got %d answers, want 1", len(rec.Msg.Answer))
	}
	if a := rec.Msg.Answer[0].(*dns.A); a.A.String() != "192.0.2.1" {
		t.Errorf("apex A = %s, want 192.0.2.1", a.A)
	}
}

func TestServeDNS_NXDOMAIN_UnknownHost(t *testing.T) {
	t.Parallel()
	d, _ := newTestHandler(t)

	req := new(dns.Msg)
	req.SetQuestion("bob.example.com.", dns.TypeA)
	rec := dnstest.NewRecorder(&test.ResponseWriter{})

	code, err := d.ServeDNS(context.Background(), rec, req)
	if err != nil {
		t.Fatalf("ServeDNS() error: %v", err)
	}
	if code != dns.RcodeNameError {
		t.Errorf("rcode = %d, want %d (NXDOMAIN)", code, dns.RcodeNameError)
	}
	if len(rec.Msg.Ns) == 0 {
		t.Error("expected SOA in authority section for NXDOMAIN")
	}
}

func TestServeDNS_NXDOMAIN_InactiveHost(t *testing.T) {
	t.Parallel()
	d, _ := newTestHandler(t, Record{Name: "alice"})

	req := new(dns.Msg)
	req.SetQuestion("alice.example.com.", dns.TypeA)
	rec := dnstest.NewRecorder(&test.ResponseWriter{})

	code, err := d.ServeDNS(context.Background(), rec, req)
	if err != nil {
		t.Fatalf("ServeDNS() error: %v", err)
	}
	if code != dns.RcodeNameError {
		t.Errorf("inactive host: rcode = %d, want %d (NXDOMAIN)", code, dns.RcodeNameError)
	}
}

func TestServeDNS_OutOfZone_PassToNext(t *testing.T) {
	t.Parallel()
	d, _ := newTestHandler(t)
	d.Next = test.NextHandler(dns.RcodeSuccess, nil)

	req := new(dns.Msg)
	req.SetQuestion("host.other.org.", dns.TypeA)
	rec := dnstest.NewRecorder(&test.ResponseWriter{})

	code, err := d.ServeDNS(context.Background(), rec, req)
	if err != nil {
		t.Fatalf("ServeDNS() error: %v", err)
	}
	if code != dns.RcodeSuccess {
		t.Errorf("out-of-zone query: rcode = %d, want pass-through", code)
	}
}

func TestServeDNS_NonA_PassToNext(t *testing.T) {
	t.Parallel()
	d, s := newTestHandler(t, Record{Name: "alice"})
	_ = s.SetIP("alice", "203.0.113.5")
	d.Next = test.NextHandler(dns.RcodeSuccess, nil)

	req := new(dns.Msg)
	req.SetQuestion("alice.example.com.", dns.TypeAAAA)
	rec := dnstest.NewRecorder(&test.ResponseWriter{})

	code, err := d.ServeDNS(context.Background(), rec, req)
	if err != nil {
		t.Fatalf("ServeDNS() error: %v", err)
	}
	if code != dns.RcodeSuccess {
		t.Errorf("AAAA query: rcode = %d, want pass-through", code)
	}
	if rec.Msg != nil && len(rec.Msg.Answer) != 0 {
		t.Errorf("AAAA query produced %d answers, want none from this plugin", len(rec.Msg.Answer))
	}
}

func TestServeDNS_CustomTTL(t *testing.T) {
	t.Parallel()
	d, s := newTestHandler(t, Record{Name: "alice"})
	_ = s.SetIP("alice", "203.0.113.5")
	d.TTL = 60

	req := new(dns.Msg)
	req.SetQuestion("alice.example.com.", dns.TypeA)
	rec := dnstest.NewRecorder(&test.ResponseWriter{})

	if _, err := d.ServeDNS(context.Background(), rec, req); err != nil {
		t.Fatalf("ServeDNS() error: %v", err)
	}
	if ttl := rec.Msg.Answer[0].Header().Ttl; ttl != 60 {
		t.Errorf("Ttl = %d, want 60", ttl)
	}
}

func TestRadd_Name(t *testing.T) {
	t.Parallel()
	d := &Radd{}
	if d.Name() != "radd" {
		t.Errorf("Name() = %q, want %q", d.Name(), "radd")
	}
}

func TestRadd_Ready(t *testing.T) {
	t.Parallel()
	d, _ := newTestHandler(t)
	if !d.Ready() {
		t.Error("Ready() = false with loaded store, want true")
	}
	if (&Radd{}).Ready() {
		t.Error("Ready() = true without store, want false")
	}
}
