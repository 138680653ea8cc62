package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Import metrics
	ImportRows     *prometheus.CounterVec
	ImportDuration prometheus.Histogram

	// Backup metrics
	Backups          *prometheus.CounterVec
	BackupBytes      prometheus.Gauge
	BackupDuration   prometheus.Histogram
	Restores         *prometheus.CounterVec
	RestoreDuration  prometheus.Histogram
	BackupsPruned    prometheus.Counter
	BackupsRemaining prometheus.Gauge

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
	DatabaseLatency    *prometheus.HistogramVec

	// Notification metrics
	Notifications *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics on the default registry
func NewMetrics(namespace, subsystem string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace, subsystem)
}

// NewMetricsWith registers the metrics on reg. Tests pass a fresh registry.
func NewMetricsWith(reg prometheus.Registerer, namespace, subsystem string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ImportRows: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "import_rows_total",
			Help:      "Total number of imported spreadsheet rows by outcome",
		}, []string{"outcome"}),
		ImportDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "import_duration_seconds",
			Help:      "Time spent importing one spreadsheet",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),

		Backups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backups_total",
			Help:      "Total number of backup runs by status",
		}, []string{"status"}),
		BackupBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backup_last_size_bytes",
			Help:      "Size of the most recent backup artifact",
		}),
		BackupDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backup_duration_seconds",
			Help:      "Time spent producing and uploading a backup",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		Restores: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "restores_total",
			Help:      "Total number of restore runs by status",
		}, []string{"status"}),
		RestoreDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "restore_duration_seconds",
			Help:      "Time spent restoring a backup",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		BackupsPruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backups_pruned_total",
			Help:      "Total number of backup artifacts deleted by retention",
		}),
		BackupsRemaining: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backups_remaining",
			Help:      "Number of backup artifacts kept after the last retention run",
		}),

		DatabaseOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
		DatabaseLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operation_duration_seconds",
			Help:      "Duration of database operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),

		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifications_total",
			Help:      "Total number of notifications sent by channel and status",
		}, []string{"channel", "status"}),
	}
}

// NewTestMetrics returns metrics bound to a private registry.
func NewTestMetrics() *Metrics {
	return NewMetricsWith(prometheus.NewRegistry(), "test", "")
}

// ObserveDB records one database operation that began at start.
func (m *Metrics) ObserveDB(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.DatabaseOperations.WithLabelValues(operation, status).Inc()
	m.DatabaseLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
