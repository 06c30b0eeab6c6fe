// Package metrics exposes Prometheus collectors for transfers. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"relay/internal/server/registry"
)

const namespace = "relay"

// Upload failure reasons.
const (
	ReasonValidation = "validation"
	ReasonTooLarge   = "too_large"
	ReasonStorage    = "storage"
	ReasonBundle     = "bundle"
	ReasonExhausted  = "exhausted"
)

// Metrics holds the collectors of one server instance.
type Metrics struct {
	factory promauto.Factory

	uploads        *prometheus.CounterVec
	uploadFailures *prometheus.CounterVec
	uploadBytes    prometheus.Counter
	uploadFiles    prometheus.Histogram
	downloads      *prometheus.CounterVec
	pickups        *prometheus.CounterVec
	collisions     *prometheus.CounterVec
	swept          prometheus.Counter
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in
// tests to keep them isolated.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		factory: factory,

		uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Completed uploads by artifact kind",
		}, []string{"kind"}),

		uploadFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_failures_total",
			Help:      "Failed uploads by reason",
		}, []string{"reason"}),

		uploadBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes of uploaded file content stored",
		}),

		uploadFiles: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_files",
			Help:      "Number of files per upload",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		}),

		downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Artifact downloads by route",
		}, []string{"route"}),

		pickups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pickups_total",
			Help:      "Pickup code lookups by result",
		}, []string{"result"}),

		collisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identifier_collisions_total",
			Help:      "Generated identifiers that were already taken",
		}, []string{"namespace"}),

		swept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_transfers_total",
			Help:      "Transfers evicted by the TTL sweeper",
		}),
	}
}

// WatchRegistry exports the live registry size as gauges.
func (m *Metrics) WatchRegistry(stats func() registry.Stats) {
	if m == nil {
		return
	}
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registry_links",
		Help:      "Link tokens currently resolvable",
	}, func() float64 { return float64(stats().Links) })
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registry_pickups",
		Help:      "Pickup codes currently resolvable",
	}, func() float64 { return float64(stats().Pickups) })
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registry_reserved",
		Help:      "Identifiers reserved by uploads in flight",
	}, func() float64 { return float64(stats().Reserved) })
}

func (m *Metrics) UploadCompleted(kind registry.Kind, files int, bytes int64) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(string(kind)).Inc()
	m.uploadFiles.Observe(float64(files))
	m.uploadBytes.Add(float64(bytes))
}

func (m *Metrics) UploadFailed(reason string) {
	if m == nil {
		return
	}
	m.uploadFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) Download(route string) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(route).Inc()
}

func (m *Metrics) Pickup(found bool) {
	if m == nil {
		return
	}
	result := "miss"
	if found {
		result = "hit"
	}
	m.pickups.WithLabelValues(result).Inc()
}

// Collision matches the registry collision hook signature.
func (m *Metrics) Collision(namespace string) {
	if m == nil {
		return
	}
	m.collisions.WithLabelValues(namespace).Inc()
}

func (m *Metrics) Swept(n int) {
	if m == nil {
		return
	}
	m.swept.Add(float64(n))
}
