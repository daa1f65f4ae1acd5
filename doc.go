// ABOUTME: Package radd implements a CoreDNS plugin for self-hosted dynamic DNS.
// ABOUTME: Hosts report their public IP over authenticated HTTP; radd answers A queries for them.

// Package radd implements a CoreDNS plugin that serves A records for
// registered hostnames under a single domain. Each host periodically reports
// its current public address via an authenticated HTTP update call; DNS
// queries for <host>.<domain> are answered with the most recently reported
// address, and the bare domain is answered with a fixed apex address.
//
// Example Corefile:
//
//	example.com:5300 {
//	    radd example.com {
//	        apex_ip  192.0.2.1
//	        datafile /var/lib/radd/records.json
//	        update {
//	            listen :8090
//	        }
//	        admin {
//	            token changeme
//	        }
//	    }
//	}
package radd
