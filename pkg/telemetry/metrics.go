package telemetry

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rawproto/rawhttp/pkg/conn"
	"github.com/rawproto/rawhttp/pkg/frame"
	"github.com/rawproto/rawhttp/pkg/timing"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "rawhttp").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus collectors.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the request duration buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "rawhttp",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// jitterBuckets span 1µs to about 65ms.
var jitterBuckets = prometheus.ExponentialBuckets(1e-6, 4, 9)

// Metrics records frame, request and timing statistics. It implements
// conn.Observer and race.Recorder. A nil *Metrics records nothing.
type Metrics struct {
	framesSent      *prometheus.CounterVec
	framesReceived  *prometheus.CounterVec
	bytesSent       *prometheus.CounterVec
	bytesReceived   *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec
	paceJitter      *prometheus.HistogramVec
	releaseSpread   prometheus.Histogram
	openConns       *prometheus.GaugeVec
}

var _ conn.Observer = (*Metrics)(nil)

// NewMetrics registers the collectors. Registering twice on the same
// registry panics, so callers create one Metrics per registry.
//
// Metrics collected:
//   - rawhttp_frames_sent_total, rawhttp_frames_received_total: by protocol and frame type
//   - rawhttp_bytes_sent_total, rawhttp_bytes_received_total: frame bytes by protocol
//   - rawhttp_requests_total: by protocol and status class
//   - rawhttp_request_duration_seconds: request round trips by protocol
//   - rawhttp_errors_total: by protocol and error kind
//   - rawhttp_pace_jitter_seconds: absolute jitter of paced sends
//   - rawhttp_release_spread_seconds: spread of synchronized releases
//   - rawhttp_open_connections: by protocol
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}

	return &Metrics{
		framesSent:     counter("frames_sent_total", "Frames written, by protocol and frame type", "protocol", "type"),
		framesReceived: counter("frames_received_total", "Frames read, by protocol and frame type", "protocol", "type"),
		bytesSent:      counter("bytes_sent_total", "Frame bytes written", "protocol"),
		bytesReceived:  counter("bytes_received_total", "Frame bytes read", "protocol"),
		requests:       counter("requests_total", "Completed requests by status class", "protocol", "status"),
		errors:         counter("errors_total", "Request errors by kind", "protocol", "kind"),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "request_duration_seconds",
			Help:        "Request round trip duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"protocol"}),

		paceJitter: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pace_jitter_seconds",
			Help:        "Absolute difference between requested and actual paced delays",
			ConstLabels: config.ConstLabels,
			Buckets:     jitterBuckets,
		}, []string{"protocol"}),

		releaseSpread: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "release_spread_seconds",
			Help:        "Time between the first and last gate release of a race",
			ConstLabels: config.ConstLabels,
			Buckets:     jitterBuckets,
		}),

		openConns: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "open_connections",
			Help:        "Connections currently open",
			ConstLabels: config.ConstLabels,
		}, []string{"protocol"}),
	}
}

// protocolLabel is the short protocol name used as a label value.
func protocolLabel(fam frame.Family) string {
	switch fam {
	case frame.FamilyH1:
		return "h1"
	case frame.FamilyH2:
		return "h2"
	case frame.FamilyH3:
		return "h3"
	default:
		return "unknown"
	}
}

// typeLabel folds unknown and reserved frame types into one value so
// grease frames do not explode label cardinality.
func typeLabel(f frame.Frame) string {
	k := f.Kind()
	for _, prefix := range []string{"UNKNOWN", "RESERVED"} {
		if strings.HasPrefix(k, prefix) {
			return prefix
		}
	}
	return k
}

// FrameSent implements conn.Observer.
func (m *Metrics) FrameSent(fam frame.Family, f frame.Frame, n int) {
	if m == nil {
		return
	}
	p := protocolLabel(fam)
	m.framesSent.WithLabelValues(p, typeLabel(f)).Inc()
	m.bytesSent.WithLabelValues(p).Add(float64(n))
}

// FrameReceived implements conn.Observer.
func (m *Metrics) FrameReceived(fam frame.Family, f frame.Frame, n int) {
	if m == nil {
		return
	}
	p := protocolLabel(fam)
	m.framesReceived.WithLabelValues(p, typeLabel(f)).Inc()
	m.bytesReceived.WithLabelValues(p).Add(float64(n))
}

// Paced implements conn.Observer.
func (m *Metrics) Paced(fam frame.Family, r timing.Report) {
	if m == nil {
		return
	}
	h := m.paceJitter.WithLabelValues(protocolLabel(fam))
	for _, g := range r.Gaps {
		j := g.Jitter()
		if j < 0 {
			j = -j
		}
		h.Observe(j.Seconds())
	}
}

// ReleaseSpread implements race.Recorder.
func (m *Metrics) ReleaseSpread(gates int, spread time.Duration) {
	if m == nil {
		return
	}
	m.releaseSpread.Observe(spread.Seconds())
}

// RecordRequest records a finished request. err selects the error kind;
// status is ignored when err is set.
func (m *Metrics) RecordRequest(fam frame.Family, status int, d time.Duration, err error) {
	if m == nil {
		return
	}
	p := protocolLabel(fam)
	m.requestDuration.WithLabelValues(p).Observe(d.Seconds())
	if err != nil {
		m.errors.WithLabelValues(p, errorKind(err)).Inc()
		m.requests.WithLabelValues(p, "error").Inc()
		return
	}
	m.requests.WithLabelValues(p, statusClass(status)).Inc()
}

// ConnOpened counts a new connection.
func (m *Metrics) ConnOpened(fam frame.Family) {
	if m == nil {
		return
	}
	m.openConns.WithLabelValues(protocolLabel(fam)).Inc()
}

// ConnClosed counts a closed connection.
func (m *Metrics) ConnClosed(fam frame.Family) {
	if m == nil {
		return
	}
	m.openConns.WithLabelValues(protocolLabel(fam)).Dec()
}

func errorKind(err error) string {
	if k := rerrors.KindOf(err); k != "" {
		return string(k)
	}
	return "internal"
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return string(rune('0'+status/100)) + "xx"
}
