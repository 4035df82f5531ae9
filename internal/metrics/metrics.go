// Package metrics exposes prometheus instrumentation for the search
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SearchesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eventscope",
		Name:      "searches_started_total",
		Help:      "Number of searches started.",
	})

	SearchesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventscope",
		Name:      "searches_finished_total",
		Help:      "Number of searches finished, by terminal status.",
	}, []string{"status"})

	ArticlesScraped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eventscope",
		Name:      "articles_scraped_total",
		Help:      "Number of articles scraped across all searches.",
	})

	ArticlesExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eventscope",
		Name:      "articles_extracted_total",
		Help:      "Number of articles successfully extracted into events.",
	})

	EventsMatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "eventscope",
		Name:      "events_matched_total",
		Help:      "Number of events that survived relevance scoring.",
	})

	LLMFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventscope",
		Name:      "llm_failures_total",
		Help:      "Number of failed per-article LLM extractions, by kind.",
	}, []string{"kind"})

	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "eventscope",
		Name:      "search_duration_seconds",
		Help:      "Wall-clock duration of completed searches.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
)
