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
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/replicability/cmd/replicability/config"
	"github.com/AleutianAI/replicability/services/replicability/batch"
	"github.com/AleutianAI/replicability/services/replicability/kpi"
	"github.com/AleutianAI/replicability/services/replicability/telemetry"
	"github.com/AleutianAI/replicability/services/replicability/variability"
)

// errUntrusted is returned by analyze --fail-on-untrusted.
var errUntrusted = errors.New("untrusted results")

type analyzeOptions struct {
	parallelism     int
	traceExporter   string
	metricExporter  string
	otlpEndpoint    string
	metricsFile     string
	failOnUntrusted bool
}

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze FILE",
		Short: "Run the experiments and jobs of an analysis file",
		Long: `Analyze loads a YAML analysis file and runs every experiment
(metric, KPI and variability score) and every standalone job in it.

Telemetry exporters default to the file's telemetry section, then the
OTEL_* environment variables. Flags override both.`,
		Example: `  replicability analyze analysis.yaml
  replicability analyze analysis.yaml --json --metrics-file metrics.prom`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, root, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.parallelism, "parallelism", "p", 0, "Concurrent jobs, 0 for GOMAXPROCS (overrides the file)")
	f.StringVar(&opts.traceExporter, "trace-exporter", "", "Trace exporter: none, stdout or otlp")
	f.StringVar(&opts.metricExporter, "metric-exporter", "", "Metric exporter: none, stdout or prometheus")
	f.StringVar(&opts.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint for traces")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the run")
	f.BoolVar(&opts.failOnUntrusted, "fail-on-untrusted", false, "Exit non-zero when any result is undefined, dependent or failed")
	return cmd
}

// analysis is everything one analyze invocation produced.
type analysis struct {
	Experiments []*batch.ExperimentReport
	Jobs        *batch.Report
}

// untrusted counts results that are failed, undefined or dependent.
func (a analysis) untrusted() int {
	n := 0
	count := func(r batch.Result) {
		if r.Outcome() != "defined" || !r.Independent() {
			n++
		}
	}
	for _, exp := range a.Experiments {
		for _, s := range exp.Series {
			count(s.KPI)
		}
		count(exp.Variability)
	}
	if a.Jobs != nil {
		for _, r := range a.Jobs.Results {
			count(r)
		}
	}
	return n
}

func runAnalyze(cmd *cobra.Command, root *rootOptions, opts *analyzeOptions, path string) error {
	ctx := cmd.Context()
	logger := root.logger

	file, err := config.Load(path)
	if err != nil {
		return err
	}
	experiments := make([]batch.Experiment, 0, len(file.Experiments))
	for _, ec := range file.Experiments {
		exp, err := ec.Experiment()
		if err != nil {
			return err
		}
		experiments = append(experiments, exp)
	}
	jobs := make([]batch.Job, 0, len(file.Jobs))
	for _, jc := range file.Jobs {
		job, err := jc.Job()
		if err != nil {
			return err
		}
		jobs = append(jobs, job)
	}

	reg := prometheus.NewRegistry()
	tcfg := file.Telemetry.Apply(telemetry.DefaultConfig())
	if opts.traceExporter != "" {
		tcfg.TraceExporter = opts.traceExporter
	}
	if opts.metricExporter != "" {
		tcfg.MetricExporter = opts.metricExporter
	}
	if opts.otlpEndpoint != "" {
		tcfg.OTLPEndpoint = opts.otlpEndpoint
	}
	tcfg.Registerer = reg
	tcfg.Writer = cmd.ErrOrStderr()

	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	sink, err := telemetry.NewOTelSink(telemetry.DefaultOTelConfig())
	if err != nil {
		return fmt.Errorf("create telemetry sink: %w", err)
	}
	defer sink.Close()

	parallelism := file.Parallelism
	if cmd.Flags().Changed("parallelism") {
		parallelism = opts.parallelism
	}
	runner, err := batch.NewRunner(batch.Config{Parallelism: parallelism},
		batch.WithKPIComputer(kpi.NewComputer(kpi.WithLogger(logger))),
		batch.WithVariabilityComputer(variability.NewComputer(variability.WithLogger(logger))),
		batch.WithSink(sink),
		batch.WithLogger(logger),
		batch.WithRegisterer(reg),
	)
	if err != nil {
		return err
	}

	var result analysis
	for _, exp := range experiments {
		rep, err := runner.RunExperiment(ctx, exp)
		if err != nil {
			return err
		}
		result.Experiments = append(result.Experiments, rep)
	}
	if len(jobs) > 0 {
		rep, err := runner.Run(ctx, jobs)
		if err != nil {
			return err
		}
		result.Jobs = rep
	}

	out := cmd.OutOrStdout()
	if root.jsonOutput {
		err = writeJSON(out, analysisJSON(result))
	} else {
		err = newPrinter(out, root.plain).analysis(result)
	}
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if opts.metricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.metricsFile, reg); err != nil {
			return fmt.Errorf("write metrics file: %w", err)
		}
		logger.Info("metrics written", slog.String("path", opts.metricsFile))
	}

	if opts.failOnUntrusted {
		if n := result.untrusted(); n > 0 {
			return fmt.Errorf("%w: %d", errUntrusted, n)
		}
	}
	return nil
}
