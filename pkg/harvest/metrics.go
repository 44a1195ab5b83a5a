package harvest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the harvest engine.
var (
	partitionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_partitions_total",
		Help: "Total partitions traversed",
	})

	partitionFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_partition_failures_total",
		Help: "Total partitions abandoned after a fatal error",
	})

	partitionSplitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_partition_splits_total",
		Help: "Total partitions split after hitting the provider result cap",
	})

	pagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_pages_total",
		Help: "Total search pages fetched",
	})

	harvestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_repositories_total",
		Help: "Total unique repositories emitted downstream",
	})

	duplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_duplicates_total",
		Help: "Total repositories filtered as already seen in this run",
	})

	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_dropped_records_total",
		Help: "Total malformed records dropped during mapping",
	})
)
