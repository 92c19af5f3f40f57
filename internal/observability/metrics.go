package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters and histograms of mask runs. They
// live on a private registry: a CLI run exports them once through the
// node_exporter textfile collector instead of serving /metrics.
type Metrics struct {
	Registry *prometheus.Registry

	BlocksProcessed prometheus.Counter
	Pixels          *prometheus.CounterVec // labels: class={water,dry,nodata}
	RunDuration     prometheus.Histogram
	Reprojections   *prometheus.CounterVec // labels: result={cached,warped,failed}
	RunsFailed      *prometheus.CounterVec // labels: stage
}

// NewMetrics creates and registers all run metrics on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		BlocksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ndwi",
			Name:      "blocks_processed_total",
			Help:      "Blocks classified and written to a mask raster.",
		}),
		Pixels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ndwi",
			Name:      "pixels_total",
			Help:      "Classified pixels by class.",
		}, []string{"class"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ndwi",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete mask run, including reprojection.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		Reprojections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ndwi",
			Name:      "reprojections_total",
			Help:      "Band reprojections by result.",
		}, []string{"result"}),
		RunsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ndwi",
			Name:      "runs_failed_total",
			Help:      "Mask runs aborted, by the stage that failed.",
		}, []string{"stage"}),
	}

	m.Registry.MustRegister(
		m.BlocksProcessed,
		m.Pixels,
		m.RunDuration,
		m.Reprojections,
		m.RunsFailed,
	)

	return m
}

// WriteTextfile writes the current metric values in the text exposition
// format, for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
