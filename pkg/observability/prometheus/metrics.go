package prometheus

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluxorio/recordlog/pkg/appendlog"
	"github.com/fluxorio/recordlog/pkg/recordlog"
	"github.com/fluxorio/recordlog/pkg/tcp"
)

const namespace = "recordlog"

// Metrics holds the daemon's Prometheus metrics. It observes the record
// log and the mirror store directly, and samples socket and log state at
// scrape time.
type Metrics struct {
	registry *prometheus.Registry
	factory  promauto.Factory

	// Record log
	RecordsCommitted prometheus.Counter
	RecordBytes      prometheus.Histogram
	RecordsEvicted   prometheus.Counter
	EvictedBytes     prometheus.Counter
	WritesTruncated  prometheus.Counter
	TruncatedBytes   prometheus.Counter
	PendingDrops     prometheus.Counter
	PendingDropBytes prometheus.Counter
	OpenRejected     prometheus.Counter

	// Mirror store
	MirrorPersisted      prometheus.Counter
	MirrorPersistedBytes prometheus.Counter
	MirrorRejected       prometheus.Counter
	MirrorRotations      prometheus.Counter

	// Relay
	RelayPublished *prometheus.CounterVec

	// Admin HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	_ recordlog.Observer = (*Metrics)(nil)
	_ appendlog.Observer = (*Metrics)(nil)
)

// NewMetrics registers every metric, plus the Go runtime and process
// collectors, on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		factory:  f,

		RecordsCommitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_committed_total",
			Help:      "Records completed by a terminator and stored in the ring.",
		}),
		RecordBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "record_size_bytes",
			Help:      "Size of committed records.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 10), // 16B to 4MB
		}),
		RecordsEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_evicted_total",
			Help:      "Oldest records released to make room for new ones.",
		}),
		EvictedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_bytes_total",
			Help:      "Bytes released by eviction.",
		}),
		WritesTruncated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_truncated_total",
			Help:      "Writes cut short by the maximum record size.",
		}),
		TruncatedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "truncated_bytes_total",
			Help:      "Input bytes dropped by truncation.",
		}),
		PendingDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pending_drops_total",
			Help:      "Pending records discarded after reaching the maximum record size.",
		}),
		PendingDropBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pending_dropped_bytes_total",
			Help:      "Bytes discarded with overflowing pending records.",
		}),
		OpenRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "open_rejected_total",
			Help:      "Open attempts refused because a session was already open.",
		}),

		MirrorPersisted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "persisted_total",
			Help:      "Entries written to mirror segments.",
		}),
		MirrorPersistedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "persisted_bytes_total",
			Help:      "Framed bytes written to mirror segments.",
		}),
		MirrorRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "rejected_total",
			Help:      "Mirror appends refused by backpressure or errors.",
		}),
		MirrorRotations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "rotations_total",
			Help:      "Mirror segment rotations.",
		}),

		RelayPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "published_total",
			Help:      "Records published to NATS, by result.",
		}, []string{"result"}),

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "http_requests_total",
			Help:      "Admin HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "http_request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// OnCommit implements recordlog.Observer.
func (m *Metrics) OnCommit(info recordlog.CommitInfo) {
	m.RecordsCommitted.Inc()
	m.RecordBytes.Observe(float64(len(info.Data)))
	if info.Evicted {
		m.RecordsEvicted.Inc()
		m.EvictedBytes.Add(float64(info.EvictedLen))
	}
}

// OnTruncate implements recordlog.Observer.
func (m *Metrics) OnTruncate(info recordlog.TruncateInfo) {
	m.WritesTruncated.Inc()
	m.TruncatedBytes.Add(float64(info.Requested - info.Accepted))
}

// OnOverflowDrop implements recordlog.Observer.
func (m *Metrics) OnOverflowDrop(dropped int) {
	m.PendingDrops.Inc()
	m.PendingDropBytes.Add(float64(dropped))
}

// OnOpenRejected implements recordlog.Observer.
func (m *Metrics) OnOpenRejected() {
	m.OpenRejected.Inc()
}

// OnPersisted implements appendlog.Observer.
func (m *Metrics) OnPersisted(_ appendlog.Offset, bytes int) {
	m.MirrorPersisted.Inc()
	m.MirrorPersistedBytes.Add(float64(bytes))
}

// OnRejected implements appendlog.Observer.
func (m *Metrics) OnRejected(error) {
	m.MirrorRejected.Inc()
}

// OnRotate implements appendlog.Observer.
func (m *Metrics) OnRotate(int) {
	m.MirrorRotations.Inc()
}

// RecordRelayPublish counts one relay publish attempt.
func (m *Metrics) RecordRelayPublish(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RelayPublished.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records one admin request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
}

// RegisterSocket samples TCP server metrics at scrape time.
func (m *Metrics) RegisterSocket(sample func() tcp.ServerMetrics) {
	gauge := func(name, help string, v func(tcp.ServerMetrics) float64) {
		m.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "socket", Name: name, Help: help,
		}, func() float64 { return v(sample()) })
	}
	counter := func(name, help string, v func(tcp.ServerMetrics) float64) {
		m.factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "socket", Name: name, Help: help,
		}, func() float64 { return v(sample()) })
	}

	gauge("queued_connections", "Connections waiting for a worker.",
		func(s tcp.ServerMetrics) float64 { return float64(s.QueuedConnections) })
	gauge("active_connections", "Connections queued or being served.",
		func(s tcp.ServerMetrics) float64 { return float64(s.ActiveConnections) })
	gauge("queue_utilization", "Queued connections as a percentage of the queue bound.",
		func(s tcp.ServerMetrics) float64 { return s.QueueUtilization })
	gauge("ccu_utilization", "Load as a percentage of workers plus queue.",
		func(s tcp.ServerMetrics) float64 { return s.CCUUtilization })
	counter("accepted_total", "Accepted connections.",
		func(s tcp.ServerMetrics) float64 { return float64(s.TotalAccepted) })
	counter("rejected_total", "Connections closed at accept by backpressure.",
		func(s tcp.ServerMetrics) float64 { return float64(s.RejectedConnections) })
	counter("handled_total", "Connections handed to the record handler.",
		func(s tcp.ServerMetrics) float64 { return float64(s.HandledConnections) })
	counter("errors_total", "Connections whose handler failed or panicked.",
		func(s tcp.ServerMetrics) float64 { return float64(s.ErrorConnections) })
}

// RegisterLog samples retained log contents once per scrape. Sampling takes
// the buffer lock and gives up after timeout; a failed sample leaves the log
// gauges out of that scrape and increments recordlog_log_sample_failures_total.
func (m *Metrics) RegisterLog(log *recordlog.Log, timeout time.Duration) {
	m.registerLogSampler(log.Stats, timeout)
}

func (m *Metrics) registerLogSampler(sample func(context.Context) (recordlog.Stats, error), timeout time.Duration) {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	m.registry.MustRegister(&logCollector{
		sample:  sample,
		timeout: timeout,
		failures: m.factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_sample_failures_total",
			Help:      "Scrapes that could not take the log's buffer lock in time.",
		}),
		records:  desc("retained_records", "Records currently in the ring."),
		bytes:    desc("retained_bytes", "Bytes currently in the ring."),
		pending:  desc("pending_bytes", "Bytes of the unterminated pending record."),
		capacity: desc("capacity_records", "Ring capacity in records."),
	})
}

// logCollector reads Log.Stats once per Collect.
type logCollector struct {
	sample   func(context.Context) (recordlog.Stats, error)
	timeout  time.Duration
	failures prometheus.Counter

	records, bytes, pending, capacity *prometheus.Desc
}

func (c *logCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.records
	ch <- c.bytes
	ch <- c.pending
	ch <- c.capacity
}

func (c *logCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	st, err := c.sample(ctx)
	if err != nil {
		c.failures.Inc()
		return
	}
	ch <- prometheus.MustNewConstMetric(c.records, prometheus.GaugeValue, float64(st.Records))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(st.Bytes))
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(st.PendingBytes))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(st.Capacity))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
