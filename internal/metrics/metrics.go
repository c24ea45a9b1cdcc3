// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "companion"

var (
	// GenerationAttempts counts calls to the generation API.
	// Labels: outcome (ok, safety_blocked, malformed, crisis, transient, fatal)
	GenerationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "generation",
		Name:      "attempts_total",
		Help:      "Generation API attempts by outcome",
	}, []string{"outcome"})

	// GenerationLatency measures a whole Generate call including retries.
	GenerationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "generation",
		Name:      "latency_seconds",
		Help:      "Generation latency including backoff",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
	})

	RetrievedExcerpts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "retrieval",
		Name:      "excerpts",
		Help:      "Journal excerpts surviving the similarity threshold per query",
		Buckets:   []float64{0, 1, 2, 3},
	})

	// RetrievalFailures counts absorbed retrieval errors.
	// Labels: stage (embed, query, lookup)
	RetrievalFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "retrieval",
		Name:      "failures_total",
		Help:      "Retrieval failures absorbed into an empty result",
	}, []string{"stage"})

	CrisisResponses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chat",
		Name:      "crisis_responses_total",
		Help:      "Replies replaced by the crisis resources message",
	})

	TitleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chat",
		Name:      "title_failures_total",
		Help:      "Background title generations that failed",
	})
)
