package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for one process.
// Every method is safe on a nil receiver so callers need no guards.
//
// Metrics:
//   - fixrecall_analyses_total{outcome}
//   - fixrecall_analysis_duration_seconds{outcome}
//   - fixrecall_stage_duration_seconds{stage}
//   - fixrecall_degraded_total{component}
//   - fixrecall_feedback_total{result}
//   - fixrecall_reindex_total{result}
//   - fixrecall_index_chunks
//   - fixrecall_index_generation
type Metrics struct {
	AnalysesTotal    *prometheus.CounterVec
	AnalysisDuration *prometheus.HistogramVec
	StageDuration    *prometheus.HistogramVec
	DegradedTotal    *prometheus.CounterVec
	FeedbackTotal    *prometheus.CounterVec
	ReindexTotal     *prometheus.CounterVec
	IndexChunks      prometheus.Gauge
	IndexGeneration  prometheus.Gauge
}

// NewMetrics registers the collectors with reg. Use a fresh registry per
// process (or per test) to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AnalysesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fixrecall_analyses_total",
				Help: "Analyses by terminal outcome",
			},
			[]string{"outcome"}, // returned, unrecorded, failed
		),
		AnalysisDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fixrecall_analysis_duration_seconds",
				Help:    "End-to-end analysis duration",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
			},
			[]string{"outcome"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fixrecall_stage_duration_seconds",
				Help:    "Duration of each pipeline stage",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~30s
			},
			[]string{"stage"},
		),
		DegradedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fixrecall_degraded_total",
				Help: "Analyses that skipped an optional stage",
			},
			[]string{"component"}, // retrieval, reranker, evaluation, reputation
		),
		FeedbackTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fixrecall_feedback_total",
				Help: "Feedback events by result",
			},
			[]string{"result"}, // applied, duplicate, rejected
		),
		ReindexTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fixrecall_reindex_total",
				Help: "Reindex runs by result",
			},
			[]string{"result"},
		),
		IndexChunks: f.NewGauge(prometheus.GaugeOpts{
			Name: "fixrecall_index_chunks",
			Help: "Chunks in the current index generation",
		}),
		IndexGeneration: f.NewGauge(prometheus.GaugeOpts{
			Name: "fixrecall_index_generation",
			Help: "ID of the current index generation",
		}),
	}
}

// ObserveAnalysis records one finished analysis.
func (m *Metrics) ObserveAnalysis(outcome Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.AnalysesTotal.WithLabelValues(string(outcome)).Inc()
	m.AnalysisDuration.WithLabelValues(string(outcome)).Observe(d.Seconds())
}

// ObserveStage records the duration of one pipeline stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// IncDegraded counts a degraded-mode event for component.
func (m *Metrics) IncDegraded(component string) {
	if m == nil {
		return
	}
	m.DegradedTotal.WithLabelValues(component).Inc()
}

// IncFeedback counts a feedback event by result.
func (m *Metrics) IncFeedback(result string) {
	if m == nil {
		return
	}
	m.FeedbackTotal.WithLabelValues(result).Inc()
}

// ObserveReindex counts a reindex run and, on success, updates the index gauges.
func (m *Metrics) ObserveReindex(err error, generation uint64, chunks int) {
	if m == nil {
		return
	}
	if err != nil {
		m.ReindexTotal.WithLabelValues("error").Inc()
		return
	}
	m.ReindexTotal.WithLabelValues("ok").Inc()
	m.SetIndex(generation, chunks)
}

// SetIndex updates the current generation gauges.
func (m *Metrics) SetIndex(generation uint64, chunks int) {
	if m == nil {
		return
	}
	m.IndexGeneration.Set(float64(generation))
	m.IndexChunks.Set(float64(chunks))
}
