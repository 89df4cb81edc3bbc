// Package metrics exposes the controller counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timeline_load_sessions_started_total",
		Help: "Load sessions started, by merge mode",
	}, []string{"mode"})

	SessionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timeline_load_sessions_completed_total",
		Help: "Load session completions, by outcome (applied, failed, stale)",
	}, []string{"outcome"})

	EntriesRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timeline_entries_removed_total",
		Help: "Entries removed by external events, by event kind",
	}, []string{"kind"})

	EventsIgnored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timeline_events_ignored_total",
		Help: "Removal events that did not authorize a removal or arrived while stopped",
	})

	CollectionSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "timeline_collection_size",
		Help: "Current number of entries held per feed",
	}, []string{"feed"})

	LoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "timeline_load_duration_seconds",
		Help:    "Duration of load session fetches",
		Buckets: prometheus.DefBuckets,
	})
)
