// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Batch Runs
// =============================================================================

// runnerMetrics holds the collectors of one Runner. They are registered on
// the Registerer given to the Runner, or left unregistered when it is nil.
type runnerMetrics struct {
	// jobs counts finished jobs.
	// Labels: kind (kpi, variability), outcome (defined, undefined, error)
	jobs *prometheus.CounterVec

	// dependent counts jobs whose input failed the independence test.
	// Labels: kind
	dependent *prometheus.CounterVec

	// duration measures job computation time.
	// Labels: kind
	duration *prometheus.HistogramVec

	// runs counts run-level metric computations.
	// Labels: converged (true, false), status (success, error)
	runs *prometheus.CounterVec

	// batches counts completed batches.
	// Labels: status (success, canceled)
	batches *prometheus.CounterVec
}

func newRunnerMetrics(reg prometheus.Registerer) *runnerMetrics {
	factory := promauto.With(reg)
	return &runnerMetrics{
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replicability",
			Subsystem: "batch",
			Name:      "jobs_total",
			Help:      "Finished analysis jobs by kind and outcome",
		}, []string{"kind", "outcome"}),

		dependent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replicability",
			Subsystem: "batch",
			Name:      "independence_failures_total",
			Help:      "Jobs whose input failed the independence test",
		}, []string{"kind"}),

		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "replicability",
			Subsystem: "batch",
			Name:      "job_duration_seconds",
			Help:      "Analysis job computation time in seconds",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"kind"}),

		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replicability",
			Subsystem: "batch",
			Name:      "runs_total",
			Help:      "Run-level metric computations by convergence and status",
		}, []string{"converged", "status"}),

		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "replicability",
			Subsystem: "batch",
			Name:      "batches_total",
			Help:      "Completed batches by status",
		}, []string{"status"}),
	}
}

func (m *runnerMetrics) recordJob(res Result) {
	kind := res.Kind.String()
	m.jobs.WithLabelValues(kind, res.Outcome()).Inc()
	m.duration.WithLabelValues(kind).Observe(res.Duration.Seconds())
	if res.Err == nil && !res.Independent() {
		m.dependent.WithLabelValues(kind).Inc()
	}
}

func (m *runnerMetrics) recordRun(converged bool, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c := "false"
	if converged {
		c = "true"
	}
	m.runs.WithLabelValues(c, status).Inc()
}
