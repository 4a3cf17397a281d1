package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// pipelineMetrics holds the Prometheus metrics owned by a Pipeline.
type pipelineMetrics struct {
	// documentsIngested counts documents passed to a successful Ingest.
	documentsIngested prometheus.Counter

	// chunksIngested counts chunks inserted into the index.
	chunksIngested prometheus.Counter

	// embedBatchesTotal counts ingest embed calls by outcome: "ok" or "error".
	embedBatchesTotal *prometheus.CounterVec

	// answersTotal counts Answer calls by outcome: "ok", "not_ready",
	// "invalid", "rate_limited", "unavailable" or "error".
	answersTotal *prometheus.CounterVec

	// retrievalSeconds records question embedding plus index search latency.
	retrievalSeconds prometheus.Histogram

	// generationSeconds records answer generation latency.
	generationSeconds prometheus.Histogram

	// ready is 1 once ingestion succeeded, 0 otherwise.
	ready prometheus.Gauge
}

// newPipelineMetrics registers the pipeline metrics against reg. A nil reg
// creates unregistered metrics, which keeps unit tests hermetic.
func newPipelineMetrics(reg prometheus.Registerer) *pipelineMetrics {
	factory := promauto.With(reg)

	return &pipelineMetrics{
		documentsIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hbrag",
			Subsystem: "pipeline",
			Name:      "documents_ingested_total",
			Help:      "Total number of documents ingested into the index.",
		}),

		chunksIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "hbrag",
			Subsystem: "pipeline",
			Name:      "chunks_ingested_total",
			Help:      "Total number of chunks embedded and inserted into the index.",
		}),

		embedBatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hbrag",
			Subsystem: "pipeline",
			Name:      "embed_batches_total",
			Help:      "Total number of ingest embed calls, partitioned by outcome.",
		}, []string{"outcome"}),

		answersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hbrag",
			Subsystem: "pipeline",
			Name:      "answers_total",
			Help:      "Total number of answer requests, partitioned by outcome.",
		}, []string{"outcome"}),

		retrievalSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hbrag",
			Subsystem: "pipeline",
			Name:      "retrieval_duration_seconds",
			Help:      "Latency of question embedding plus index search.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),

		generationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hbrag",
			Subsystem: "pipeline",
			Name:      "generation_duration_seconds",
			Help:      "Latency of answer generation calls.",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),

		ready: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hbrag",
			Subsystem: "pipeline",
			Name:      "ready",
			Help:      "1 when the pipeline has a searchable index, 0 otherwise.",
		}),
	}
}
