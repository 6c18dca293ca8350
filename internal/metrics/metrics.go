// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scoring path labels.
const (
	PathFast       = "fast"
	PathNoCache    = "nocache"
	PathSequential = "sequential"
	PathRemote     = "remote"
)

var (
	ForwardPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cappr_forward_passes_total",
		Help: "Model forward passes by scoring path",
	}, []string{"path"})

	ForwardsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cappr_forward_passes_skipped_total",
		Help: "Completion forward passes skipped because every completion was a single token",
	})

	TokensScored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cappr_tokens_scored_total",
		Help: "Completion tokens whose log-probability was computed",
	})

	RemoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cappr_remote_requests_total",
		Help: "Remote completion API requests by outcome",
	}, []string{"outcome"})

	RemoteRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cappr_remote_retries_total",
		Help: "Remote completion API requests retried after a transient failure",
	})

	ScoringDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cappr_scoring_duration_seconds",
		Help:    "Wall time of one scoring call",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})
)

// ObserveSince records the time elapsed since start for path.
func ObserveSince(path string, start time.Time) {
	ScoringDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
}

// CountTokens adds the number of values in lps to TokensScored.
func CountTokens(lps [][]float64) {
	n := 0
	for _, row := range lps {
		n += len(row)
	}
	TokensScored.Add(float64(n))
}
