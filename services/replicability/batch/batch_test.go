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
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/replicability/services/replicability/datatypes"
	"github.com/AleutianAI/replicability/services/replicability/metric"
	"github.com/AleutianAI/replicability/services/replicability/telemetry"
)

var (
	series = []float64{105.07, 105.04, 104.68, 104.92, 105.08}
	sequel = []float64{99.12, 99.31, 99.53, 99.40, 99.22}
	bounds = datatypes.Bounds{Low: 0, High: 120}
)

// recordingSink collects every record it receives.
type recordingSink struct {
	mu     sync.Mutex
	kpis   []*telemetry.KPIData
	scores []*telemetry.VariabilityData
	errors []*telemetry.ErrorData
}

func (s *recordingSink) RecordKPI(_ context.Context, d *telemetry.KPIData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kpis = append(s.kpis, d)
	return nil
}

func (s *recordingSink) RecordVariability(_ context.Context, d *telemetry.VariabilityData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores = append(s.scores, d)
	return nil
}

func (s *recordingSink) RecordError(_ context.Context, d *telemetry.ErrorData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, d)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func mustSpec(t *testing.T, p, c float64) datatypes.EstimatorSpec {
	t.Helper()
	spec, err := datatypes.NewEstimatorSpec(p, c, bounds)
	require.NoError(t, err)
	return spec
}

func newRunner(t *testing.T, opts ...Option) *Runner {
	t.Helper()
	r, err := NewRunner(Config{Parallelism: 4}, opts...)
	require.NoError(t, err)
	return r
}

// -----------------------------------------------------------------------------
// Configuration Tests
// -----------------------------------------------------------------------------

func TestConfig(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Positive(t, DefaultConfig().Parallelism)

	_, err := NewRunner(Config{Parallelism: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	r, err := NewRunner(Config{})
	require.NoError(t, err)
	assert.Positive(t, r.config.Parallelism, "zero parallelism means GOMAXPROCS")
}

// -----------------------------------------------------------------------------
// Run Tests
// -----------------------------------------------------------------------------

func TestRun_MixedJobs(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := &recordingSink{}
	r := newRunner(t, WithRegisterer(reg), WithSink(sink))

	jobs := []Job{
		{Label: "scenario", Kind: KindKPI, Samples: series, Spec: mustSpec(t, 25, 75)},
		{Label: "short", Kind: KindKPI, Samples: series[:2], Spec: mustSpec(t, 25, 75)},
		{Label: "invalid", Kind: KindKPI, Samples: series, Spec: datatypes.EstimatorSpec{Percentile: 25, Confidence: 75}},
		{Label: "sequel", Kind: KindVariability, Samples: sequel, Spec: mustSpec(t, 75, 75)},
		{Label: "bogus", Kind: Kind(9), Samples: series},
	}

	report, err := r.Run(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, report.Results, len(jobs))
	assert.NotEmpty(t, report.BatchID)

	for i, res := range report.Results {
		assert.Equal(t, jobs[i].Label, res.Label, "results keep job order")
	}

	scenario := report.Results[0]
	require.NoError(t, scenario.Err)
	require.NotNil(t, scenario.KPI)
	assert.Equal(t, "104.68", scenario.KPI.Value.String())
	assert.Equal(t, "defined", scenario.Outcome())
	assert.True(t, scenario.Independent())

	assert.Equal(t, "undefined", report.Results[1].Outcome())
	assert.ErrorIs(t, report.Results[2].Err, datatypes.ErrInvalidBounds)
	assert.Equal(t, "error", report.Results[2].Outcome())

	score := report.Results[3]
	require.NotNil(t, score.Score)
	assert.InDelta(t, 0.41, score.Score.Absolute.Or(0), 1e-9)

	assert.ErrorIs(t, report.Results[4].Err, ErrUnknownKind)
	assert.Len(t, report.Failed(), 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.jobs.WithLabelValues("kpi", "defined")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.jobs.WithLabelValues("kpi", "undefined")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.jobs.WithLabelValues("kpi", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.jobs.WithLabelValues("variability", "defined")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.dependent.WithLabelValues("kpi")), "two samples cannot pass independence")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.batches.WithLabelValues("success")))

	count, err := testutil.GatherAndCount(reg, "replicability_batch_jobs_total")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	assert.Len(t, sink.kpis, 2)
	assert.Len(t, sink.scores, 1)
	require.Len(t, sink.errors, 2)
	for _, d := range sink.kpis {
		assert.Equal(t, report.BatchID, d.BatchID)
	}
}

func TestRun_ManyJobsKeepOrder(t *testing.T) {
	r := newRunner(t)
	jobs := make([]Job, 200)
	for i := range jobs {
		s := []float64{float64(i), float64(i) + 0.5, float64(i) + 0.25, float64(i) + 0.75, float64(i) + 0.1}
		jobs[i] = Job{
			Label:   fmt.Sprintf("job-%d", i),
			Kind:    KindKPI,
			Samples: s,
			Spec:    datatypes.EstimatorSpec{Percentile: 25, Confidence: 75, Bounds: datatypes.Bounds{Low: 0, High: 300}},
		}
	}

	report, err := r.Run(context.Background(), jobs)
	require.NoError(t, err)
	for i, res := range report.Results {
		require.NoError(t, res.Err)
		assert.Equal(t, float64(i), res.KPI.Value.Or(-1), "job %d", i)
	}
}

func TestRun_Empty(t *testing.T) {
	report, err := newRunner(t).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, report.Results)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newRunner(t)
	jobs := []Job{
		{Label: "a", Kind: KindKPI, Samples: series, Spec: mustSpec(t, 25, 75)},
		{Label: "b", Kind: KindKPI, Samples: series, Spec: mustSpec(t, 25, 75)},
	}
	report, err := r.Run(ctx, jobs)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	require.Len(t, report.Results, 2)
	for _, res := range report.Results {
		assert.ErrorIs(t, res.Err, context.Canceled)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.batches.WithLabelValues("canceled")))
}

// cancellingSink cancels its context once it has seen want KPI records.
type cancellingSink struct {
	recordingSink
	want   int
	cancel context.CancelFunc
}

func (s *cancellingSink) RecordKPI(ctx context.Context, d *telemetry.KPIData) error {
	_ = s.recordingSink.RecordKPI(ctx, d)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.kpis) == s.want {
		s.cancel()
	}
	return nil
}

func TestRun_CancelledAfterLastJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs := []Job{
		{Label: "a", Kind: KindKPI, Samples: series, Spec: mustSpec(t, 25, 75)},
		{Label: "b", Kind: KindKPI, Samples: series, Spec: mustSpec(t, 25, 75)},
		{Label: "c", Kind: KindKPI, Samples: series, Spec: mustSpec(t, 25, 75)},
	}
	sink := &cancellingSink{want: len(jobs), cancel: cancel}
	r := newRunner(t, WithSink(sink))

	report, err := r.Run(ctx, jobs)
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	for _, res := range report.Results {
		require.NoError(t, res.Err)
		assert.Equal(t, "defined", res.Outcome())
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.batches.WithLabelValues("success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.metrics.batches.WithLabelValues("canceled")))
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("kpi spec: %w", datatypes.ErrInvalidPercentile), "invalid_parameter"},
		{datatypes.ErrOutOfBounds, "out_of_bounds"},
		{datatypes.ErrNonFiniteSample, "non_finite_sample"},
		{datatypes.ErrEmptySample, "empty_sample"},
		{datatypes.ErrBoundOrder, "bound_order"},
		{fmt.Errorf("%w: boom", metric.ErrConvergence), "convergence"},
		{ErrUnknownKind, "unknown_kind"},
		{context.DeadlineExceeded, "canceled"},
		{errors.New("other"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorType(tt.err), "%v", tt.err)
	}
}
