package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	mlPlatform = "ml_platform"

	jobTransitionsTotal = "job_transitions_total"
	jobPhase            = "job_phase"
	pipelineCacheTotal  = "pipeline_cache_requests_total"
	ragAnswersTotal     = "rag_answers_total"
	predictionsTotal    = "predictions_total"
	clusteringRunsTotal = "clustering_runs_total"

	// Labels
	phaseLabel   = "phase"
	resultLabel  = "result"
	outcomeLabel = "outcome"
)

// Cache results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Answer and prediction outcomes.
const (
	OutcomeAnswered = "answered"
	OutcomeNotReady = "not_ready"
	OutcomeError    = "error"
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeMismatch = "mismatch"
	OutcomeUnloaded = "not_loaded"
	OutcomeFailed   = "failed"
)

/**
* Metrics definition
**/
var jobTransitionsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: mlPlatform,
		Name:      jobTransitionsTotal,
		Help:      "number of training job phase transitions, by target phase",
	},
	[]string{phaseLabel},
)

var jobPhaseMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: mlPlatform,
		Name:      jobPhase,
		Help:      "1 for the phase the current training job is in, 0 otherwise",
	},
	[]string{phaseLabel},
)

var pipelineCacheTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: mlPlatform,
		Name:      pipelineCacheTotal,
		Help:      "number of pipeline cache lookups by result",
	},
	[]string{resultLabel},
)

var ragAnswersTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: mlPlatform,
		Name:      ragAnswersTotal,
		Help:      "number of questions answered by the retrieval engine, by outcome",
	},
	[]string{outcomeLabel},
)

var predictionsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: mlPlatform,
		Name:      predictionsTotal,
		Help:      "number of prediction attempts, by outcome",
	},
	[]string{outcomeLabel},
)

var clusteringRunsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: mlPlatform,
		Name:      clusteringRunsTotal,
		Help:      "number of clustering runs, by outcome",
	},
	[]string{outcomeLabel},
)

func IncreaseJobTransitionMetric(phase string) {
	jobTransitionsTotalMetric.With(prometheus.Labels{phaseLabel: phase}).Inc()
}

// UpdateJobPhaseMetric sets current to 1 and every other phase to 0.
func UpdateJobPhaseMetric(current string, phases []string) {
	for _, p := range phases {
		v := 0.0
		if p == current {
			v = 1
		}
		jobPhaseMetric.With(prometheus.Labels{phaseLabel: p}).Set(v)
	}
}

func IncreasePipelineCacheMetric(result string) {
	pipelineCacheTotalMetric.With(prometheus.Labels{resultLabel: result}).Inc()
}

func IncreaseRAGAnswerMetric(outcome string) {
	ragAnswersTotalMetric.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
}

func IncreasePredictionMetric(outcome string) {
	predictionsTotalMetric.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
}

func IncreaseClusteringMetric(outcome string) {
	clusteringRunsTotalMetric.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobTransitionsTotalMetric)
	prometheus.MustRegister(jobPhaseMetric)
	prometheus.MustRegister(pipelineCacheTotalMetric)
	prometheus.MustRegister(ragAnswersTotalMetric)
	prometheus.MustRegister(predictionsTotalMetric)
	prometheus.MustRegister(clusteringRunsTotalMetric)
}
