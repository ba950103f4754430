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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/replicability/services/replicability/datatypes"
	"github.com/AleutianAI/replicability/services/replicability/metric"
	"github.com/AleutianAI/replicability/services/replicability/telemetry"
	"github.com/AleutianAI/replicability/services/replicability/variability"
)

// ErrInvalidExperiment is returned when an Experiment fails validation.
var ErrInvalidExperiment = errors.New("invalid experiment")

// Series is one repetition of an experiment: the raw samples of each run in
// run order.
type Series struct {
	Label string
	Runs  [][]float64
}

// Experiment is the full three-scale analysis of one condition: every run
// is reduced to a metric, every series of metrics to a KPI, and the sequel
// of KPIs to a variability score.
type Experiment struct {
	Name string

	// Measure reduces each run to its metric.
	Measure datatypes.MeasureSpec

	// KPI defines the bound computed over each series.
	KPI datatypes.EstimatorSpec

	// Variability defines the score computed over the sequel of KPIs.
	Variability datatypes.EstimatorSpec

	Series []Series

	// Convergence is consulted for every run when set.
	Convergence metric.ConvergenceTester

	// Artifacts requests plotting inputs for every KPI and the score.
	Artifacts datatypes.ArtifactSet
}

// Validate checks every specification and that each series has runs.
func (e Experiment) Validate() error {
	var errs []error
	if err := e.Measure.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("measure: %w", err))
	}
	if err := e.KPI.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("kpi: %w", err))
	}
	if _, err := variability.MinSampleSize(e.Variability); err != nil {
		errs = append(errs, fmt.Errorf("variability: %w", err))
	}
	if len(e.Series) == 0 {
		errs = append(errs, errors.New("no series"))
	}
	for i, s := range e.Series {
		if len(s.Runs) == 0 {
			errs = append(errs, fmt.Errorf("series %d (%s): no runs", i+1, s.Label))
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidExperiment}, errs...)...)
	}
	return nil
}

// SeriesReport is the outcome of one series.
type SeriesReport struct {
	Label string

	// Metrics holds one metric per run, nil if a run failed.
	Metrics []metric.Metric

	// Converged is true when every run converged.
	Converged bool

	// KPI is the series' KPI job result.
	KPI Result
}

// ExperimentReport is the outcome of RunExperiment.
type ExperimentReport struct {
	BatchID string
	Name    string
	Series  []SeriesReport

	// Sequel holds the defined KPI values that entered the score, in
	// series order.
	Sequel []float64

	// Excluded lists the series whose KPI was undefined or failed.
	Excluded []string

	// Variability is the score job result over Sequel.
	Variability Result

	Started  time.Time
	Duration time.Duration
}

// RunExperiment runs the full upward data flow of one experiment.
//
// Description:
//
//	Series are processed concurrently. Within a series each run is reduced
//	with metric.Compute and the resulting series is evaluated as a KPI job.
//	A run failure fails that series' KPI. The defined KPI values then form
//	the sequel, scored as a variability job. Series whose KPI is undefined
//	or failed are listed in Excluded rather than aborting the experiment.
//
// Inputs:
//   - ctx: Cancellation and trace context. Passed to the convergence tester.
//   - exp: The experiment. Validated first.
//
// Outputs:
//   - *ExperimentReport: Nil only when exp is invalid.
//   - error: ErrInvalidExperiment, or ctx's error when cancelled before
//     every series started.
//
// Thread Safety: Safe for concurrent use if the convergence tester is.
func (r *Runner) RunExperiment(ctx context.Context, exp Experiment) (*ExperimentReport, error) {
	if err := exp.Validate(); err != nil {
		return nil, err
	}

	report := &ExperimentReport{
		BatchID: uuid.NewString(),
		Name:    exp.Name,
		Series:  make([]SeriesReport, len(exp.Series)),
		Started: time.Now(),
	}

	ctx, span := telemetry.StartSpan(ctx, "batch.experiment", trace.WithAttributes(
		attribute.String("batch.id", report.BatchID),
		attribute.String("experiment.name", exp.Name),
		attribute.Int("experiment.series", len(exp.Series)),
	))
	defer span.End()
	logger := telemetry.LoggerWithBatch(ctx, r.logger, report.BatchID)
	logger.Info("experiment started",
		slog.String("name", exp.Name),
		slog.Int("series", len(exp.Series)),
		slog.String("measure", exp.Measure.String()),
	)

	scheduled := r.schedule(ctx, len(exp.Series), func(ctx context.Context, i int) {
		report.Series[i] = r.runSeries(ctx, report.BatchID, exp, i)
	})
	if err := ctx.Err(); err != nil && scheduled < len(exp.Series) {
		for i := scheduled; i < len(exp.Series); i++ {
			label := seriesLabel(exp.Series[i], i)
			report.Series[i] = SeriesReport{Label: label, KPI: Result{Label: label, Kind: KindKPI, Err: err}}
		}
		report.Duration = time.Since(report.Started)
		r.metrics.batches.WithLabelValues("canceled").Inc()
		telemetry.RecordError(span, err)
		return report, fmt.Errorf("experiment %s: %w", exp.Name, err)
	}

	for _, sr := range report.Series {
		if sr.KPI.KPI != nil && sr.KPI.KPI.Value.IsDefined() {
			v, _ := sr.KPI.KPI.Value.Float64()
			report.Sequel = append(report.Sequel, v)
			continue
		}
		report.Excluded = append(report.Excluded, sr.Label)
	}
	if len(report.Excluded) > 0 {
		logger.Warn("series excluded from sequel",
			slog.Int("excluded", len(report.Excluded)),
			slog.Int("series", len(report.Series)),
		)
	}

	report.Variability = r.runJob(ctx, report.BatchID, Job{
		Label:     exp.Name,
		Kind:      KindVariability,
		Samples:   report.Sequel,
		Spec:      exp.Variability,
		Artifacts: exp.Artifacts,
	})
	report.Duration = time.Since(report.Started)

	r.metrics.batches.WithLabelValues("success").Inc()
	telemetry.SetSpanOK(span)
	logger.Info("experiment finished",
		slog.String("outcome", report.Variability.Outcome()),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

// runSeries reduces every run of series i and evaluates its KPI.
func (r *Runner) runSeries(ctx context.Context, batchID string, exp Experiment, i int) SeriesReport {
	s := exp.Series[i]
	sr := SeriesReport{Label: seriesLabel(s, i), Converged: true}

	var opts []metric.Option
	if exp.Convergence != nil {
		opts = append(opts, metric.WithConvergence(exp.Convergence))
	}

	values := make([]float64, 0, len(s.Runs))
	metrics := make([]metric.Metric, 0, len(s.Runs))
	for j, run := range s.Runs {
		m, err := metric.Compute(ctx, run, exp.Measure, opts...)
		r.metrics.recordRun(m.Converged, err)
		if err != nil {
			sr.Converged = false
			sr.KPI = Result{
				Label: sr.Label,
				Kind:  KindKPI,
				Err:   fmt.Errorf("run %d: %w", j+1, err),
			}
			r.metrics.recordJob(sr.KPI)
			r.report(ctx, batchID, time.Now(), sr.KPI)
			return sr
		}
		sr.Converged = sr.Converged && m.Converged
		metrics = append(metrics, m)
		values = append(values, m.Value)
	}
	sr.Metrics = metrics

	sr.KPI = r.runJob(ctx, batchID, Job{
		Label:     sr.Label,
		Kind:      KindKPI,
		Samples:   values,
		Spec:      exp.KPI,
		Artifacts: exp.Artifacts,
	})
	return sr
}

func seriesLabel(s Series, i int) string {
	if s.Label != "" {
		return s.Label
	}
	return fmt.Sprintf("series-%d", i+1)
}
