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
	"log/slog"

	"github.com/spf13/cobra"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	logLevel   string
	logFormat  string
	jsonOutput bool
	plain      bool

	// logger is built in PersistentPreRunE.
	logger *slog.Logger
}

// --- Global Command Variables ---
var rootCmd = newRootCmd()

// newRootCmd builds the command tree. Tests build a fresh tree per case.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "replicability",
		Short: "Replicability analysis for benchmark experiments",
		Long: `Replicability computes distribution-free confidence bounds on
percentiles of repeated benchmark runs.

Each run is reduced to a metric, each series of metrics to a KPI, and the
sequel of KPIs across repeated series to a variability score. Every result
carries an autocorrelation-based independence verdict.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	pf.StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	pf.BoolVar(&opts.jsonOutput, "json", false, "Print results as JSON")
	pf.BoolVar(&opts.plain, "plain", false, "Disable colors and rounded borders")

	cmd.AddCommand(newAnalyzeCmd(opts), newSizeCmd(opts))
	return cmd
}
