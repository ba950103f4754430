// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package batch evaluates many KPI and variability jobs concurrently.
//
// Every computation in the replicability core is a pure function of its
// inputs, so jobs are independent and the runner only bounds parallelism.
// A job that fails or lacks data never aborts the batch: its Result carries
// the error or the Undefined value and the remaining jobs run to completion.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/replicability/services/replicability/datatypes"
	"github.com/AleutianAI/replicability/services/replicability/kpi"
	"github.com/AleutianAI/replicability/services/replicability/metric"
	"github.com/AleutianAI/replicability/services/replicability/telemetry"
	"github.com/AleutianAI/replicability/services/replicability/variability"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("invalid batch configuration")

	// ErrUnknownKind is reported in a Result whose job kind is not supported.
	ErrUnknownKind = errors.New("unknown job kind")
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config tunes a Runner.
type Config struct {
	// Parallelism caps concurrently running jobs. Zero means GOMAXPROCS.
	Parallelism int `json:"parallelism" yaml:"parallelism"`
}

// DefaultConfig returns one job per available CPU.
func DefaultConfig() Config {
	return Config{Parallelism: runtime.GOMAXPROCS(0)}
}

// Validate checks every field.
func (c Config) Validate() error {
	if c.Parallelism < 0 {
		return fmt.Errorf("%w: parallelism %d < 0", ErrInvalidConfig, c.Parallelism)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Jobs and Results
// -----------------------------------------------------------------------------

// Kind selects the computation a job runs.
type Kind int

const (
	// KindKPI bounds a percentile of a series of metrics.
	KindKPI Kind = iota

	// KindVariability scores the spread of a sequel of KPIs.
	KindVariability
)

func (k Kind) String() string {
	switch k {
	case KindKPI:
		return "kpi"
	case KindVariability:
		return "variability"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// Job is one unit of batch work.
type Job struct {
	// Label identifies the job in results, logs and telemetry.
	Label string

	Kind Kind

	// Samples is the series (KindKPI) or sequel (KindVariability).
	Samples []float64

	Spec datatypes.EstimatorSpec

	// Artifacts requests plotting inputs in the result.
	Artifacts datatypes.ArtifactSet
}

// Result is the outcome of one Job. Exactly one of KPI, Score and Err is set.
type Result struct {
	Label    string
	Kind     Kind
	KPI      *kpi.KPI
	Score    *variability.Score
	Err      error
	Duration time.Duration
}

// Outcome classifies the result as "error", "undefined" or "defined".
func (r Result) Outcome() string {
	switch {
	case r.Err != nil:
		return "error"
	case r.KPI != nil && r.KPI.Value.IsDefined(),
		r.Score != nil && r.Score.Absolute.IsDefined():
		return "defined"
	default:
		return "undefined"
	}
}

// Independent reports the independence verdict, false for failed jobs.
func (r Result) Independent() bool {
	switch {
	case r.KPI != nil:
		return r.KPI.Independent
	case r.Score != nil:
		return r.Score.Independent
	default:
		return false
	}
}

// Report is the outcome of one batch.
type Report struct {
	// BatchID is unique per Run call.
	BatchID string

	// Results holds one entry per job, in job order.
	Results []Result

	Started  time.Time
	Duration time.Duration
}

// Failed returns the results that carry an error.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Runner
// -----------------------------------------------------------------------------

// Option configures a Runner.
type Option func(*Runner)

// WithKPIComputer replaces the default KPI computer.
func WithKPIComputer(c *kpi.Computer) Option {
	return func(r *Runner) {
		if c != nil {
			r.kpis = c
		}
	}
}

// WithVariabilityComputer replaces the default variability computer.
func WithVariabilityComputer(c *variability.Computer) Option {
	return func(r *Runner) {
		if c != nil {
			r.scores = c
		}
	}
}

// WithSink sends every job result to a telemetry sink.
func WithSink(s telemetry.Sink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRegisterer registers the runner's Prometheus collectors on reg. A
// Registerer can host the collectors of a single Runner.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Runner) { r.registerer = reg }
}

// Runner executes batches of jobs.
//
// Thread Safety: Safe for concurrent use. Each Run call applies its own
// parallelism limit.
type Runner struct {
	config     Config
	kpis       *kpi.Computer
	scores     *variability.Computer
	sink       telemetry.Sink
	logger     *slog.Logger
	registerer prometheus.Registerer
	metrics    *runnerMetrics
}

// NewRunner creates a Runner.
//
// Outputs:
//   - *Runner: Never nil on success.
//   - error: ErrInvalidConfig if the configuration is rejected.
func NewRunner(config Config, opts ...Option) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Parallelism == 0 {
		config.Parallelism = runtime.GOMAXPROCS(0)
	}
	r := &Runner{
		config: config,
		kpis:   kpi.NewComputer(),
		scores: variability.NewComputer(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.metrics = newRunnerMetrics(r.registerer)
	return r, nil
}

// Run evaluates jobs concurrently.
//
// Description:
//
//	Jobs run on at most Config.Parallelism goroutines. Results are returned
//	in job order. Per-job errors are stored in the job's Result and never
//	stop the batch. Cancelling ctx stops scheduling: jobs not yet started
//	get ctx's error in their Result and Run returns it wrapped.
//
// Inputs:
//   - ctx: Cancellation and trace context. Must not be nil.
//   - jobs: Work to run. May be empty.
//
// Outputs:
//   - *Report: Always non-nil.
//   - error: Non-nil only when ctx was cancelled before every job started.
//
// Thread Safety: Safe for concurrent use.
func (r *Runner) Run(ctx context.Context, jobs []Job) (*Report, error) {
	report := &Report{
		BatchID: uuid.NewString(),
		Results: make([]Result, len(jobs)),
		Started: time.Now(),
	}

	ctx, span := telemetry.StartSpan(ctx, "batch.run", trace.WithAttributes(
		attribute.String("batch.id", report.BatchID),
		attribute.Int("batch.jobs", len(jobs)),
	))
	defer span.End()
	logger := telemetry.LoggerWithBatch(ctx, r.logger, report.BatchID)
	logger.Info("batch started", slog.Int("jobs", len(jobs)), slog.Int("parallelism", r.config.Parallelism))

	scheduled := r.schedule(ctx, len(jobs), func(ctx context.Context, i int) {
		report.Results[i] = r.runJob(ctx, report.BatchID, jobs[i])
	})

	report.Duration = time.Since(report.Started)
	// A cancellation after the last job started leaves every result intact.
	if err := ctx.Err(); err != nil && scheduled < len(jobs) {
		for i := scheduled; i < len(jobs); i++ {
			report.Results[i] = Result{Label: jobs[i].Label, Kind: jobs[i].Kind, Err: err}
		}
		r.metrics.batches.WithLabelValues("canceled").Inc()
		telemetry.RecordError(span, err)
		logger.Warn("batch cancelled", slog.Int("scheduled", scheduled), slog.String("error", err.Error()))
		return report, fmt.Errorf("batch %s: %w", report.BatchID, err)
	}

	r.metrics.batches.WithLabelValues("success").Inc()
	telemetry.SetSpanOK(span)
	logger.Info("batch finished",
		slog.Int("failed", len(report.Failed())),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

// schedule calls fn for indexes 0..n-1 on a bounded errgroup and returns
// how many calls were started before ctx was cancelled.
func (r *Runner) schedule(ctx context.Context, n int, fn func(ctx context.Context, i int)) int {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Parallelism)

	scheduled := 0
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		scheduled++
		g.Go(func() error {
			fn(gCtx, i)
			return nil
		})
	}
	// Work items never return errors; failures live in their results.
	_ = g.Wait()
	return scheduled
}

// runJob computes a single job and reports it to metrics and the sink.
func (r *Runner) runJob(ctx context.Context, batchID string, job Job) Result {
	start := time.Now()
	res := Result{Label: job.Label, Kind: job.Kind}

	switch job.Kind {
	case KindKPI:
		k, err := r.kpis.ComputeWithArtifacts(job.Samples, job.Spec, job.Artifacts)
		if err != nil {
			res.Err = err
		} else {
			res.KPI = &k
		}
	case KindVariability:
		s, err := r.scores.ComputeWithArtifacts(job.Samples, job.Spec, job.Artifacts)
		if err != nil {
			res.Err = err
		} else {
			res.Score = &s
		}
	default:
		res.Err = fmt.Errorf("%w: %s", ErrUnknownKind, job.Kind)
	}
	res.Duration = time.Since(start)

	r.metrics.recordJob(res)
	r.report(ctx, batchID, start, res)
	return res
}

func (r *Runner) report(ctx context.Context, batchID string, start time.Time, res Result) {
	if res.Err != nil {
		r.logger.Debug("job failed",
			slog.String("batch_id", batchID),
			slog.String("label", res.Label),
			slog.String("kind", res.Kind.String()),
			slog.String("error", res.Err.Error()),
		)
	}
	if r.sink == nil {
		return
	}

	var err error
	switch {
	case res.Err != nil:
		err = r.sink.RecordError(ctx, &telemetry.ErrorData{
			BatchID:   batchID,
			Label:     res.Label,
			Operation: res.Kind.String(),
			ErrorType: ErrorType(res.Err),
			Message:   res.Err.Error(),
			Timestamp: start,
		})
	case res.KPI != nil:
		err = r.sink.RecordKPI(ctx, &telemetry.KPIData{
			BatchID:   batchID,
			Label:     res.Label,
			KPI:       *res.KPI,
			Duration:  res.Duration,
			Timestamp: start,
		})
	case res.Score != nil:
		err = r.sink.RecordVariability(ctx, &telemetry.VariabilityData{
			BatchID:   batchID,
			Label:     res.Label,
			Score:     *res.Score,
			Duration:  res.Duration,
			Timestamp: start,
		})
	}
	if err != nil {
		r.logger.Warn("telemetry sink rejected record",
			slog.String("label", res.Label),
			slog.String("error", err.Error()),
		)
	}
}

// ErrorType classifies an analysis error for metrics and telemetry.
func ErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, datatypes.ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, datatypes.ErrOutOfBounds):
		return "out_of_bounds"
	case errors.Is(err, datatypes.ErrNonFiniteSample):
		return "non_finite_sample"
	case errors.Is(err, datatypes.ErrEmptySample):
		return "empty_sample"
	case errors.Is(err, datatypes.ErrBoundOrder):
		return "bound_order"
	case errors.Is(err, metric.ErrConvergence):
		return "convergence"
	case errors.Is(err, ErrUnknownKind):
		return "unknown_kind"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
