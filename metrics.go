// ABOUTME: Prometheus metrics following the CoreDNS plugin convention.
// ABOUTME: Tracks DNS requests, response rcodes, update calls, record counts, and zone writes.

package radd

import (
	"github.com/coredns/coredns/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: plugin.Namespace,
	Subsystem: pluginName,
	Name:      "request_count_total",
	Help:      "Counter of DNS requests handled.",
}, []string{"zone"})

var responseCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: plugin.Namespace,
	Subsystem: pluginName,
	Name:      "response_rcode_count_total",
	Help:      "Counter of DNS responses by rcode.",
}, []string{"zone", "rcode"})

var updateCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: plugin.Namespace,
	Subsystem: pluginName,
	Name:      "update_count_total",
	Help:      "Counter of host update calls by status code.",
}, []string{"status"})

var recordGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: plugin.Namespace,
	Subsystem: pluginName,
	Name:      "records",
	Help:      "Current number of registered hosts by activity state.",
}, []string{"state"})

var zoneWriteCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: plugin.Namespace,
	Subsystem: pluginName,
	Name:      "zone_write_count_total",
	Help:      "Counter of zone file writes and nameserver reload outcomes.",
}, []string{"result"})
