// ABOUTME: Record data model for registered hosts: name, credential hash, reported IP.
// ABOUTME: Validates host names and IPv4 literals and converts active records to A RRs.

package radd

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	// DefaultTTL is used for answers when the Corefile does not set one.
	DefaultTTL = 300
	MinTTL     = 5
	MaxTTL     = 86400
)

var (
	// ErrNotFound is returned when no record exists for a name.
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned when creating a record whose name is taken.
	ErrExists = errors.New("record already exists")
	// ErrInvalidName is returned for names outside the registrable pattern.
	ErrInvalidName = errors.New("invalid host name")
	// ErrInvalidIP is returned for values that are not IPv4 literals.
	ErrInvalidIP = errors.New("invalid IPv4 address")
)

// hostNameRe is the registrable host name pattern: a lowercase alphanumeric
// first character followed by alphanumerics, underscores, and hyphens.
var hostNameRe = regexp.MustCompile(`^[a-z0-9][A-Za-z0-9_-]*$`)

// Record is one registered host. IP is empty while the host has not reported
// an address; such records are inactive and never answered over DNS.
// CredentialHash is a bcrypt hash set at provisioning time and never exposed.
type Record struct {
	Name           string    `json:"name"`
	CredentialHash string    `json:"credential_hash,omitempty"`
	IP             string    `json:"ip,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitzero"`
}

// ValidHostName reports whether name matches the registrable host pattern.
func ValidHostName(name string) bool {
	return hostNameRe.MatchString(name)
}

// ValidIPv4 reports whether s is a dotted-decimal IPv4 literal.
// IPv6 and IPv4-in-IPv6 forms are rejected.
func ValidIPv4(s string) bool {
	if strings.Contains(s, ":") {
		return false
	}
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

// Active reports whether the record currently has a reported address.
func (r Record) Active() bool {
	return r.IP != ""
}

// Validate checks the record fields for correctness. The IP is only checked
// when set; an empty IP means the host is inactive, which is a valid state.
func (r Record) Validate() error {
	if !ValidHostName(r.Name) {
		return fmt.Errorf("name %q: %w", r.Name, ErrInvalidName)
	}
	if r.IP != "" && !ValidIPv4(r.IP) {
		return fmt.Errorf("ip %q: %w", r.IP, ErrInvalidIP)
	}
	return nil
}

// A converts the record into an A RR answering the given FQDN.
// The record must be active.
func (r Record) A(fqdn string, ttl uint32) (dns.RR, error) {
	ip := net.ParseIP(r.IP)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("record %s: ip %q: %w", r.Name, r.IP, ErrInvalidIP)
	}
	return &dns.A{
		Hdr: dns.RR_Header{
			Name:   fqdn,
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    ttl,
		},
		A: ip.To4(),
	}, nil
}
