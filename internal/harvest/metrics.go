package harvest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts completed crawl cycles per source and mode.
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_cycles_total",
		Help: "The total number of completed crawl cycles.",
	}, []string{"source", "mode"})
	// CycleFailures counts cycles that ended early on an error.
	CycleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_cycle_failures_total",
		Help: "The total number of crawl cycles aborted by an error.",
	}, []string{"source"})
	// PagesFetched counts listing pages retrieved from sources.
	PagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_pages_fetched_total",
		Help: "The total number of listing pages fetched.",
	}, []string{"source"})
	// ListingsIngested counts listings successfully written to the store.
	ListingsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_listings_ingested_total",
		Help: "The total number of listings ingested.",
	}, []string{"source"})
	// IngestFailures counts listings dropped because ingestion failed.
	IngestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_ingest_failures_total",
		Help: "The total number of listings dropped due to ingestion errors.",
	}, []string{"source"})
)
