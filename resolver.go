// ABOUTME: Query resolution: apex answers from fixed config, sub-hosts from active records.
// ABOUTME: Everything else is a negative result for the DNS responder to express as NXDOMAIN.

package radd

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// Resolver decides how a queried name is answered. It is constructed once at
// startup from immutable configuration; only the record store behind it is
// mutable.
type Resolver struct {
	domain string // lowercase, no trailing dot
	apexIP net.IP
	store  *Store
	hostRe *regexp.Regexp
}

// NewResolver creates a resolver for the served domain. The apex address is
// returned for queries naming the domain itself, independent of the record
// store.
func NewResolver(domain, apexIP string, store *Store) (*Resolver, error) {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	if domain == "" {
		return nil, fmt.Errorf("served domain must not be empty")
	}
	if !ValidIPv4(apexIP) {
		return nil, fmt.Errorf("apex ip %q: %w", apexIP, ErrInvalidIP)
	}
	return &Resolver{
		domain: domain,
		apexIP: net.ParseIP(apexIP).To4(),
		store:  store,
		hostRe: regexp.MustCompile(`^([a-z0-9-]{1,63})\.` + regexp.QuoteMeta(domain) + `$`),
	}, nil
}

// Domain returns the served domain without a trailing dot.
func (r *Resolver) Domain() string {
	return r.domain
}

// Resolve maps a fully-qualified name to an address. The second return is
// false for any name that is neither the apex nor an active registered host;
// the responder expresses that as NXDOMAIN.
func (r *Resolver) Resolve(fqdn string) (net.IP, bool) {
	name := strings.ToLower(strings.TrimSuffix(fqdn, "."))

	// The bare domain is never a registrable host; it always answers with
	// the configured apex address.
	if name == r.domain {
		return r.apexIP, true
	}

	m := r.hostRe.FindStringSubmatch(name)
	if m == nil {
		return nil, false
	}

	rec, ok := r.store.Find(m[1])
	if !ok || !rec.Active() {
		return nil, false
	}
	ip := net.ParseIP(rec.IP)
	if ip == nil || ip.To4() == nil {
		return nil, false
	}
	return ip.To4(), true
}
