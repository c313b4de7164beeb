package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	global *Metrics
	once   sync.Once
)

// Metrics holds the Prometheus collectors of the chat service.
//
//   - mapleportal_chat_turns_total{route,status}
//   - mapleportal_retrieval_seconds
//   - mapleportal_ingested_chunks_total
type Metrics struct {
	ChatTurns        *prometheus.CounterVec
	RetrievalSeconds prometheus.Histogram
	IngestedChunks   prometheus.Counter
}

// Get registers the collectors on first use and returns them.
func Get() *Metrics {
	once.Do(func() {
		global = &Metrics{
			ChatTurns: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "mapleportal",
					Name:      "chat_turns_total",
					Help:      "Completed chat turns by route and outcome",
				},
				[]string{"route", "status"},
			),
			RetrievalSeconds: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: "mapleportal",
					Name:      "retrieval_seconds",
					Help:      "Latency of knowledge base searches",
					Buckets:   prometheus.DefBuckets,
				},
			),
			IngestedChunks: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "mapleportal",
					Name:      "ingested_chunks_total",
					Help:      "Chunks written to the knowledge base",
				},
			),
		}
	})
	return global
}
