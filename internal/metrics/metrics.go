// Package metrics holds the Prometheus collectors shared by the API and worker binaries.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohans/labelx/labelx"
)

var (
	tasksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labelx_tasks_created_total",
		Help: "Task submissions by outcome (accepted or the error kind)",
	}, []string{"outcome"})

	stageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labelx_stage_transitions_total",
		Help: "Stage status transitions recorded in the state table",
	}, []string{"stage", "status"})

	orphansFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "labelx_orphan_chains_total",
		Help: "Queued chains found without a state row",
	})

	orphansBackfilled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "labelx_orphan_backfills_total",
		Help: "State rows written by the reconciler",
	})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "labelx_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})
)

// ObserveCreate counts one CreateTask outcome.
func ObserveCreate(err error) {
	outcome := "accepted"
	if err != nil {
		outcome = string(labelx.KindOf(err))
		if outcome == "" {
			outcome = "unknown"
		}
	}
	tasksCreated.WithLabelValues(outcome).Inc()
}

// ObserveStage matches labelx.ProcessorConfig.OnStageStatus.
func ObserveStage(taskType string, status labelx.Status) {
	stage := "stage1"
	if taskType == labelx.TypeGenerate {
		stage = "stage2"
	}
	stageTransitions.WithLabelValues(stage, string(status)).Inc()
}

func OrphanFound()      { orphansFound.Inc() }
func OrphanBackfilled() { orphansBackfilled.Inc() }

func ObserveHTTP(route, status string, elapsed time.Duration) {
	httpDuration.WithLabelValues(route, status).Observe(elapsed.Seconds())
}
