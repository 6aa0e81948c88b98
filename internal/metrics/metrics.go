// Package metrics declares the Prometheus collectors shared by the storage
// backends and the migration engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreCalls counts remote calls by backend, operation and result.
	StoreCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "til_store_calls_total",
		Help: "Remote file store calls by backend, operation and result",
	}, []string{"backend", "operation", "result"})

	// StoreRetries counts retried remote calls.
	StoreRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "til_store_retries_total",
		Help: "Remote file store calls retried after a rate limit or transient failure",
	}, []string{"backend", "operation"})

	// StoreDuration tracks remote call latency, retries included.
	StoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "til_store_call_duration_seconds",
		Help:    "Remote file store call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"backend", "operation"})

	// CacheLookups counts snapshot cache hits and misses.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "til_cache_lookups_total",
		Help: "Decoded note snapshot lookups by result",
	}, []string{"backend", "result"})

	// WriteConflicts counts optimistic writes that lost a race.
	WriteConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "til_write_conflicts_total",
		Help: "Conditional writes rejected because the held revision was stale",
	}, []string{"backend", "operation"})

	// MigratedNotes counts migration outcomes per note.
	MigratedNotes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "til_migration_notes_total",
		Help: "Notes processed by the migration engine by result",
	}, []string{"source", "target", "result"})
)
