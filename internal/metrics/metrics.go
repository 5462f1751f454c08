// Package metrics holds the repeater's Prometheus counters and gauges,
// registered against a private registry rather than the global
// prometheus.DefaultRegisterer (this is a library component, not a
// standalone binary; a private registry keeps it safe to embed).
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry groups every metric the data plane and connection lifecycle
// update. A nil *Registry is valid and every method on it is a no-op, so
// callers that don't care about metrics (unit tests, the benchmark
// harness) can pass nil instead of threading a stub through.
type Registry struct {
	registry *prometheus.Registry

	framesAdmitted    prometheus.Counter
	framesDropped     *prometheus.CounterVec
	watermark         prometheus.Gauge
	reconnects        *prometheus.CounterVec
	sessionsActive    prometheus.Gauge
	sessionsTotal     prometheus.Counter
	sessionQueueDepth prometheus.Histogram
	processCPUPercent prometheus.Gauge
	processRSSBytes   prometheus.Gauge
	connsRateLimited  prometheus.Counter
}

// New builds a Registry with all metrics registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		framesAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repeater_frames_admitted_total",
			Help: "Frames that passed the sequence filter and were broadcast.",
		}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repeater_frames_dropped_total",
			Help: "Frames dropped by the sequence filter or by a slow-consumer session disconnect, by reason.",
		}, []string{"reason"}),
		watermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "repeater_watermark",
			Help: "Largest seqId admitted so far.",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repeater_upstream_reconnects_total",
			Help: "Upstream reconnect attempts, by upstream id.",
		}, []string{"upstream_id"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "repeater_sessions_active",
			Help: "Currently live downstream sessions.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repeater_sessions_total",
			Help: "Downstream sessions accepted since start.",
		}),
		sessionQueueDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "repeater_session_queue_depth",
			Help:    "Per-session send queue depth observed at enqueue time.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		processCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "repeater_process_cpu_percent",
			Help: "Process CPU usage percent, sampled periodically.",
		}),
		processRSSBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "repeater_process_rss_bytes",
			Help: "Process resident set size in bytes, sampled periodically.",
		}),
		connsRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repeater_connections_rate_limited_total",
			Help: "Downstream connection attempts rejected by the accept-rate limiter.",
		}),
	}

	reg.MustRegister(
		r.framesAdmitted,
		r.framesDropped,
		r.watermark,
		r.reconnects,
		r.sessionsActive,
		r.sessionsTotal,
		r.sessionQueueDepth,
		r.processCPUPercent,
		r.processRSSBytes,
		r.connsRateLimited,
	)

	return r
}

// Gatherer exposes the private registry for the /metrics HTTP handler.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

func (r *Registry) FrameAdmitted() {
	if r == nil {
		return
	}
	r.framesAdmitted.Inc()
}

func (r *Registry) FrameDropped(reason string) {
	if r == nil {
		return
	}
	r.framesDropped.WithLabelValues(reason).Inc()
}

func (r *Registry) SetWatermark(seq int64) {
	if r == nil {
		return
	}
	r.watermark.Set(float64(seq))
}

func (r *Registry) ReconnectAttempt(upstreamID int) {
	if r == nil {
		return
	}
	r.reconnects.WithLabelValues(strconv.Itoa(upstreamID)).Inc()
}

func (r *Registry) SessionJoined() {
	if r == nil {
		return
	}
	r.sessionsTotal.Inc()
	r.sessionsActive.Inc()
}

func (r *Registry) SessionLeft() {
	if r == nil {
		return
	}
	r.sessionsActive.Dec()
}

func (r *Registry) ObserveSessionQueueDepth(depth int) {
	if r == nil {
		return
	}
	r.sessionQueueDepth.Observe(float64(depth))
}

func (r *Registry) SetProcessCPUPercent(pct float64) {
	if r == nil {
		return
	}
	r.processCPUPercent.Set(pct)
}

func (r *Registry) SetProcessRSSBytes(bytes uint64) {
	if r == nil {
		return
	}
	r.processRSSBytes.Set(float64(bytes))
}

func (r *Registry) ConnectionRateLimited() {
	if r == nil {
		return
	}
	r.connsRateLimited.Inc()
}
