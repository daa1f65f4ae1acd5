// ABOUTME: DNS handler implementing plugin.Handler for the radd plugin.
// ABOUTME: Answers A questions from the resolver; everything unresolvable is NXDOMAIN.

package radd

import (
	"context"
	"fmt"
	"time"

	"github.com/coredns/coredns/plugin"
	clog "github.com/coredns/coredns/plugin/pkg/log"
	"github.com/coredns/coredns/request"
	"github.com/miekg/dns"
)

const pluginName = "radd"

var log = clog.NewWithPlugin(pluginName)

// Radd implements plugin.Handler. It is a pure read path: queries never
// mutate the record store, and concurrent queries need no coordination beyond
// the store's own read consistency.
type Radd struct {
	Next     plugin.Handler
	Resolver *Resolver
	Store    *Store
	TTL      uint32
}

// Name returns the plugin name.
func (d *Radd) Name() string { return pluginName }

// ServeDNS answers A questions for the served domain. Questions outside the
// domain, and non-A questions, are handed to the next plugin: record types
// other than A are not managed here.
func (d *Radd) ServeDNS(ctx context.Context, w dns.ResponseWriter, r *dns.Msg) (int, error) {
	state := request.Request{W: w, Req: r}
	qname := state.Name()

	zone := plugin.Zones([]string{d.Resolver.Domain() + "."}).Matches(qname)
	if zone == "" {
		return plugin.NextOrFailure(d.Name(), d.Next, ctx, w, r)
	}
	if state.QType() != dns.TypeA {
		return plugin.NextOrFailure(d.Name(), d.Next, ctx, w, r)
	}

	requestCount.WithLabelValues(zone).Inc()

	var rcode int
	var retErr error
	defer func() {
		responseCount.WithLabelValues(zone, dns.RcodeToString[rcode]).Inc()
	}()

	ip, ok := d.Resolver.Resolve(qname)
	if !ok {
		rcode, retErr = d.writeNXDOMAIN(w, r, zone)
		return rcode, retErr
	}

	ttl := d.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	answer := &dns.A{
		Hdr: dns.RR_Header{
			Name:   qname,
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    ttl,
		},
		A: ip,
	}

	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Authoritative = true
	msg.Answer = []dns.RR{answer}

	if err := w.WriteMsg(msg); err != nil {
		rcode, retErr = dns.RcodeServerFailure, fmt.Errorf("writing response: %w", err)
		return rcode, retErr
	}
	rcode = dns.RcodeSuccess
	return rcode, nil
}

func (d *Radd) writeNXDOMAIN(w dns.ResponseWriter, r *dns.Msg, zone string) (int, error) {
	msg := new(dns.Msg)
	msg.SetRcode(r, dns.RcodeNameError)
	msg.Authoritative = true
	msg.Ns = []dns.RR{d.soa(zone)}

	if err := w.WriteMsg(msg); err != nil {
		return dns.RcodeServerFailure, fmt.Errorf("writing NXDOMAIN: %w", err)
	}
	return dns.RcodeNameError, nil
}

func (d *Radd) soa(zone string) dns.RR {
	return &dns.SOA{
		Hdr: dns.RR_Header{
			Name:   zone,
			Rrtype: dns.TypeSOA,
			Class:  dns.ClassINET,
			Ttl:    300,
		},
		Ns:      "ns1." + zone,
		Mbox:    "hostmaster." + zone,
		Serial:  uint32(time.Now().Unix()),
		Refresh: 7200,
		Retry:   1800,
		Expire:  86400,
		Minttl:  300,
	}
}
