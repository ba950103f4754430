// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/replicability/services/replicability/bound"
	"github.com/AleutianAI/replicability/services/replicability/datatypes"
)

const analysisFile = "testdata/analysis.yaml"

// execute runs a fresh command tree with telemetry exporters disabled
// unless args enable them.
func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")

	cmd := newRootCmd()
	var out, errb bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errb)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errb.String(), err
}

// -----------------------------------------------------------------------------
// size
// -----------------------------------------------------------------------------

func TestSize_JSON(t *testing.T) {
	out, _, err := execute(t, "size", "--percentiles", "25,90", "--confidences", "95", "-r", "1", "--json")
	require.NoError(t, err)

	var rows []bound.SizingRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	for _, row := range rows {
		want, err := bound.MinSampleSizeRobust(row.Percentile, 95, datatypes.DirectionAuto, 1)
		require.NoError(t, err)
		assert.Equal(t, want, row.MinSize)
		assert.Equal(t, 1, row.Robustness)
	}
	assert.Equal(t, datatypes.DirectionLower, rows[0].Direction)
	assert.Equal(t, datatypes.DirectionUpper, rows[1].Direction)
}

func TestSize_Table(t *testing.T) {
	out, _, err := execute(t, "size", "--percentiles", "50", "--confidences", "90")
	require.NoError(t, err)
	assert.Contains(t, out, "Minimal series length")
	assert.Contains(t, out, "Min runs")
	assert.Contains(t, out, "upper")
	assert.Contains(t, out, "|", "non-terminal output uses ASCII borders")
}

func TestSize_Rejects(t *testing.T) {
	_, _, err := execute(t, "size", "--percentiles", "0")
	assert.ErrorIs(t, err, datatypes.ErrInvalidParameter)
}

// -----------------------------------------------------------------------------
// analyze
// -----------------------------------------------------------------------------

func TestAnalyze_JSON(t *testing.T) {
	out, _, err := execute(t, "analyze", analysisFile, "--json")
	require.NoError(t, err)

	var got analysisOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))

	require.Len(t, got.Experiments, 1)
	exp := got.Experiments[0]
	assert.Equal(t, "bbr/throughput", exp.Name)
	assert.NotEmpty(t, exp.BatchID)
	assert.Equal(t, []float64{99.12, 99.31, 99.53, 99.40, 99.22}, exp.Sequel)
	assert.Empty(t, exp.Excluded)
	require.Len(t, exp.Series, 5)
	for _, s := range exp.Series {
		assert.Len(t, s.Metrics, 5)
		assert.Equal(t, "defined", s.KPI.Outcome)
	}
	require.NotNil(t, exp.Variability.Score)
	assert.InDelta(t, 0.41, exp.Variability.Score.Absolute.Or(0), 1e-9)
	assert.InDelta(t, 0.41/120, exp.Variability.Score.Relative.Or(0), 1e-9)

	require.NotNil(t, got.Jobs)
	require.Len(t, got.Jobs.Results, 2)
	latency := got.Jobs.Results[0]
	assert.Equal(t, "latency", latency.Label)
	require.NotNil(t, latency.KPI)
	assert.InDelta(t, 104.68, latency.KPI.Value.Or(0), 1e-9)
	assert.Equal(t, 1, latency.KPI.Rank)
	assert.True(t, latency.Independent)

	short := got.Jobs.Results[1]
	assert.Equal(t, "variability", short.Kind)
	assert.Equal(t, "undefined", short.Outcome)
}

func TestAnalyze_Table(t *testing.T) {
	out, _, err := execute(t, "analyze", analysisFile, "--plain")
	require.NoError(t, err)
	assert.Contains(t, out, "Experiment bbr/throughput")
	assert.Contains(t, out, "Variability over 5 KPIs")
	assert.Contains(t, out, "99.53")
	assert.Contains(t, out, "104.68")
	assert.Contains(t, out, "undefined")
}

func TestAnalyze_MetricsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.prom")
	_, _, err := execute(t, "analyze", analysisFile,
		"--json", "--metric-exporter", "prometheus", "--metrics-file", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "replicability_batch_jobs_total")
	assert.Contains(t, string(data), `outcome="defined"`)
}

func TestAnalyze_FailOnUntrusted(t *testing.T) {
	_, _, err := execute(t, "analyze", analysisFile, "--json", "--fail-on-untrusted")
	assert.ErrorIs(t, err, errUntrusted)
}

func TestAnalyze_Errors(t *testing.T) {
	_, _, err := execute(t, "analyze", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, _, err = execute(t, "analyze")
	assert.Error(t, err, "file argument is required")

	_, _, err = execute(t, "analyze", analysisFile, "--trace-exporter", "jaeger")
	assert.Error(t, err)
}

// -----------------------------------------------------------------------------
// logging
// -----------------------------------------------------------------------------

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "debug", "json")
	require.NoError(t, err)
	logger.Debug("hello")
	assert.Contains(t, buf.String(), `"service":"replicability"`)

	_, err = newLogger(&buf, "loud", "text")
	assert.Error(t, err)

	_, err = newLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestLogLevelFlag(t *testing.T) {
	_, _, err := execute(t, "--log-level", "verbose", "size")
	assert.Error(t, err)

	_, stderr, err := execute(t, "--log-level", "debug", "size", "--json")
	require.NoError(t, err)
	assert.Contains(t, stderr, "sizing table computed")
}
