// Package metrics instruments the dataflow runtime with Prometheus
// counters, gauges, and histograms, registered once per domain; this
// package does not serve them over HTTP. It plays the same
// role the teacher's statemanager.Manager played -- a guarded
// in-memory aggregate callers poll -- but backed by prometheus's own
// concurrency-safe collectors instead of a hand-rolled mutex+map, since
// nothing downstream here needs per-operation history, only current
// rates and totals.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Domain holds the collectors for one domain's run loop. Each domain
// registers its own instance against a shared registry with a
// "domain" label so per-shard dashboards can filter.
type Domain struct {
	PacketsProcessed *prometheus.CounterVec
	PacketQueueDepth prometheus.Gauge
	ProcessDuration  *prometheus.HistogramVec
	ReplaysActive    prometheus.Gauge
	ReplaysCompleted prometheus.Counter
	Misses           prometheus.Counter
	Evictions        prometheus.Counter
}

// NewDomain constructs and registers a Domain's collectors, labeled
// with addr so metrics from different domain-shards don't collide in
// the registry.
func NewDomain(reg prometheus.Registerer, addr string) *Domain {
	d := &Domain{
		PacketsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowcore",
			Subsystem: "domain",
			Name:      "packets_processed_total",
			Help:      "Packets processed by this domain's run loop, by kind.",
			ConstLabels: prometheus.Labels{"domain": addr},
		}, []string{"kind"}),
		PacketQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "flowcore",
			Subsystem:   "domain",
			Name:        "packet_queue_depth",
			Help:        "Number of packets currently queued in this domain's input channel.",
			ConstLabels: prometheus.Labels{"domain": addr},
		}),
		ProcessDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "flowcore",
			Subsystem:   "domain",
			Name:        "packet_process_seconds",
			Help:        "Time spent processing one packet, by kind.",
			ConstLabels: prometheus.Labels{"domain": addr},
			Buckets:     prometheus.DefBuckets,
		}, []string{"kind"}),
		ReplaysActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "flowcore",
			Subsystem:   "domain",
			Name:        "replays_active",
			Help:        "In-flight partial replays for this domain.",
			ConstLabels: prometheus.Labels{"domain": addr},
		}),
		ReplaysCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "flowcore",
			Subsystem:   "domain",
			Name:        "replays_completed_total",
			Help:        "Completed partial replays for this domain.",
			ConstLabels: prometheus.Labels{"domain": addr},
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "flowcore",
			Subsystem:   "domain",
			Name:        "reader_misses_total",
			Help:        "Reader lookups that missed and triggered a replay.",
			ConstLabels: prometheus.Labels{"domain": addr},
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "flowcore",
			Subsystem:   "domain",
			Name:        "evictions_total",
			Help:        "Keys evicted from partial state by the eviction policy.",
			ConstLabels: prometheus.Labels{"domain": addr},
		}),
	}

	reg.MustRegister(
		d.PacketsProcessed, d.PacketQueueDepth, d.ProcessDuration,
		d.ReplaysActive, d.ReplaysCompleted, d.Misses, d.Evictions,
	)
	return d
}
