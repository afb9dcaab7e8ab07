package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a sweep run.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	PairsTotal     *prometheus.CounterVec
	ErrorsTotal    *prometheus.CounterVec
	PairDuration   *prometheus.HistogramVec
	EncodedBytes   *prometheus.HistogramVec
	ImagesTotal    *prometheus.CounterVec
	ArtifactsTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PairsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imagesweep_pairs_total",
			Help: "Sweep pairs processed, by scale, quality and outcome",
		}, []string{"scale", "quality", "outcome"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imagesweep_errors_total",
			Help: "Errors encountered, by kind",
		}, []string{"kind"}),
		PairDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagesweep_pair_duration_seconds",
			Help:    "Encode plus inference time per pair",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		}, []string{"scale"}),
		EncodedBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagesweep_encoded_bytes",
			Help:    "Size of the encoded variant sent to the model",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12),
		}, []string{"quality"}),
		ImagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imagesweep_images_total",
			Help: "Source images processed, by outcome",
		}, []string{"outcome"}),
		ArtifactsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imagesweep_artifacts_total",
			Help: "Artifacts written, by type and outcome",
		}, []string{"type", "outcome"}),
	}
}

// Registry exposes the private registry for exporters and tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObservePair records the outcome of one (scale, quality) pair
func (m *Metrics) ObservePair(scalePercent, quality int, success bool, seconds float64, encodedBytes int) {
	if m == nil {
		return
	}
	scale := strconv.Itoa(scalePercent)
	q := strconv.Itoa(quality)
	m.PairsTotal.WithLabelValues(scale, q, outcome(success)).Inc()
	m.PairDuration.WithLabelValues(scale).Observe(seconds)
	if encodedBytes > 0 {
		m.EncodedBytes.WithLabelValues(q).Observe(float64(encodedBytes))
	}
}

func (m *Metrics) IncErrorsTotal(kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncImagesTotal(success bool) {
	if m == nil {
		return
	}
	m.ImagesTotal.WithLabelValues(outcome(success)).Inc()
}

func (m *Metrics) IncArtifactsTotal(kind string, success bool) {
	if m == nil {
		return
	}
	m.ArtifactsTotal.WithLabelValues(kind, outcome(success)).Inc()
}

// WriteTextfile dumps all metrics in the node-exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
