// Package metrics exposes the bridge runtime's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts operations by variant kind and lifecycle event.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_operations_total",
			Help: "Total number of bridge operations by kind and event",
		},
		[]string{"kind", "event"},
	)

	// SchedulerTickDuration tracks one full scheduler tick, draining all
	// due tasks.
	SchedulerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bridge_scheduler_tick_duration_seconds",
			Help:    "Scheduler tick duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// TaskFailuresTotal counts task failures by kind and disposition.
	TaskFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_task_failures_total",
			Help: "Total number of scheduler task failures",
		},
		[]string{"kind", "disposition"},
	)

	// EvmRequestErrors counts failed outbound EVM RPC requests by method.
	EvmRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_evm_request_errors_total",
			Help: "Total number of failed EVM RPC requests",
		},
		[]string{"method"},
	)

	// MintBatchSize tracks how many orders each batchMint carried.
	MintBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bridge_mint_batch_size",
			Help:    "Number of mint orders per batchMint transaction",
			Buckets: []float64{1, 2, 5, 10, 20, 50},
		},
	)

	// IndexerConsensusFailures counts consensus rounds that ended without
	// a threshold agreement.
	IndexerConsensusFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_indexer_consensus_failures_total",
			Help: "Total number of failed indexer consensus rounds",
		},
	)
)
