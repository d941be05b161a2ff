// Package metrics defines the Prometheus collectors of a hexatlas run.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	CityRuns       *prometheus.CounterVec
	StageSeconds   *prometheus.HistogramVec
	CellsProduced  *prometheus.GaugeVec
	ExternalErrors *prometheus.CounterVec
	FetchedPoints  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		CityRuns: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "hexatlas_city_runs_total",
			Help: "Total number of city pipeline runs by outcome.",
		}, []string{"status"}),
		StageSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hexatlas_stage_duration_seconds",
			Help:    "Duration of pipeline stages.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"stage"}),
		CellsProduced: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "hexatlas_cells",
			Help: "Number of cells in the last feature table built for a city.",
		}, []string{"city"}),
		ExternalErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "hexatlas_external_errors_total",
			Help: "Total number of failures of external collaborators by kind.",
		}, []string{"kind"}),
		FetchedPoints: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "hexatlas_fetched_points_total",
			Help: "Total number of points of interest fetched by category.",
		}, []string{"category"}),
	}
}

// WriteTextfile writes every metric gathered by g to path in the text format
// read by the node exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}

	return nil
}
