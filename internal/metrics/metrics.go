// Package metrics provides Prometheus metrics for propdb.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors used by propdb.
type Metrics struct {
	// Cache metrics, labelled by cache name
	CacheHitsTotal      *prometheus.CounterVec
	CacheMissesTotal    *prometheus.CounterVec
	CacheEvictionsTotal *prometheus.CounterVec
	CacheEntries        *prometheus.GaugeVec

	// Storage metrics
	StorageOperationsTotal *prometheus.CounterVec
	TxDuration             *prometheus.HistogramVec
	StorageSizeBytes       prometheus.Gauge

	// Property store metrics
	PropertySavesTotal   *prometheus.CounterVec
	PropertySaveDuration prometheus.Histogram
	PropertyRowsWritten  *prometheus.CounterVec
	PropertiesDropped    *prometheus.CounterVec

	// Catalog and definition metrics
	PrototypesCreatedTotal prometheus.Counter
	DefinitionMergesTotal  prometheus.Counter
	DefinitionsStored      *prometheus.CounterVec
}

// New creates all collectors and registers them with reg. A nil reg
// produces working but unregistered collectors.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "propdb"
	}
	f := promauto.With(reg)
	m := &Metrics{}

	m.CacheHitsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of lookup cache hits",
		},
		[]string{"cache"},
	)
	m.CacheMissesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of lookup cache misses",
		},
		[]string{"cache"},
	)
	m.CacheEvictionsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of entries evicted from lookup caches",
		},
		[]string{"cache"},
	)
	m.CacheEntries = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Current number of entries per lookup cache",
		},
		[]string{"cache"},
	)

	m.StorageOperationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Total number of row writes by table and operation",
		},
		[]string{"table", "op"},
	)
	m.TxDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tx_duration_seconds",
			Help:      "Duration of storage transactions in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode", "status"},
	)
	m.StorageSizeBytes = f.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_size_bytes",
			Help:      "Storage size observed at the last committed write",
		},
	)

	m.PropertySavesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "property_saves_total",
			Help:      "Total number of property map saves",
		},
		[]string{"mode", "status"},
	)
	m.PropertySaveDuration = f.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "property_save_duration_seconds",
			Help:      "Duration of property map saves in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)
	m.PropertyRowsWritten = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "property_rows_written_total",
			Help:      "Total number of property rows inserted or deleted",
		},
		[]string{"op"},
	)
	m.PropertiesDropped = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "properties_dropped_total",
			Help:      "Properties skipped on save, by reason",
		},
		[]string{"reason"},
	)

	m.PrototypesCreatedTotal = f.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prototypes_created_total",
			Help:      "Total number of property prototypes created",
		},
	)
	m.DefinitionMergesTotal = f.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "definition_merges_total",
			Help:      "Total number of definition merges performed",
		},
	)
	m.DefinitionsStored = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "definitions_stored_total",
			Help:      "Definition revisions written or removed",
		},
		[]string{"op"},
	)

	return m
}

// Nop returns unregistered collectors, for components built without metrics.
func Nop() *Metrics {
	return New("", nil)
}
