package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservePair(t *testing.T) {
	m := NewMetrics()
	m.ObservePair(67, 50, true, 1.5, 4096)
	m.ObservePair(67, 50, false, 0.2, 0)
	m.ObservePair(100, 90, true, 2.0, 8192)

	if got := testutil.ToFloat64(m.PairsTotal.WithLabelValues("67", "50", "success")); got != 1 {
		t.Errorf("Expected 1 success, got %f", got)
	}
	if got := testutil.ToFloat64(m.PairsTotal.WithLabelValues("67", "50", "failure")); got != 1 {
		t.Errorf("Expected 1 failure, got %f", got)
	}
	if got := testutil.CollectAndCount(m.PairsTotal); got != 3 {
		t.Errorf("Expected 3 series, got %d", got)
	}
}

func TestCounters(t *testing.T) {
	m := NewMetrics()
	m.IncErrorsTotal("transport")
	m.IncErrorsTotal("transport")
	m.IncImagesTotal(true)
	m.IncArtifactsTotal("json", false)

	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("transport")); got != 2 {
		t.Errorf("Expected 2 transport errors, got %f", got)
	}
	if got := testutil.ToFloat64(m.ImagesTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("Expected 1 image, got %f", got)
	}
	if got := testutil.ToFloat64(m.ArtifactsTotal.WithLabelValues("json", "failure")); got != 1 {
		t.Errorf("Expected 1 failed artifact, got %f", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObservePair(100, 100, true, 1, 1)
	m.IncErrorsTotal("x")
	m.IncImagesTotal(false)
	m.IncArtifactsTotal("render", true)
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if m.Registry() != nil {
		t.Error("Expected nil registry")
	}
}

func TestWriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.ObservePair(33, 10, true, 0.5, 2048)

	path := filepath.Join(t.TempDir(), "sweep.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `imagesweep_pairs_total{outcome="success",quality="10",scale="33"} 1`) {
		t.Errorf("Unexpected textfile content:\n%s", data)
	}
}
