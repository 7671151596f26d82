package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyst_pipeline_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	Outcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyst_pipeline_outcomes_total",
			Help: "Total number of processed queries by terminal outcome",
		},
		[]string{"outcome"},
	)

	EvaluationScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analyst_pipeline_evaluation_score",
			Help:    "Scores given to generated code",
			Buckets: []float64{20, 40, 60, 80, 100},
		},
	)
)

const (
	stageIntent     = "intent"
	stageAnalyze    = "analyze"
	stageEvaluate   = "evaluate"
	stageRegenerate = "regenerate"

	outcomeBlocked    = "blocked"
	outcomeAnswered   = "answered"
	outcomeNoCode     = "no_code"
	outcomeApproved   = "approved"
	outcomeImproved   = "improved"
	outcomeRewrite    = "rewrite"
	outcomeRegenerate = "regenerated"
	outcomeError      = "error"
)
