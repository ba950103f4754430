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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/replicability/services/replicability/bound"
)

type sizeOptions struct {
	percentiles []float64
	confidences []float64
	robustness  int
}

func newSizeCmd(root *rootOptions) *cobra.Command {
	opts := &sizeOptions{}
	cmd := &cobra.Command{
		Use:   "size",
		Short: "Print the minimal number of runs per percentile and confidence",
		Long: `Size prints, for each percentile and confidence pair, the shortest
series that yields a defined bound. Robustness adds that many samples
beyond the bound so the result survives as many outliers.`,
		Example: `  replicability size --percentiles 25,50,75 --confidences 75,95
  replicability size --robustness 2 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := bound.SizingTable(opts.percentiles, opts.confidences, opts.robustness)
			if err != nil {
				return err
			}
			root.logger.Debug("sizing table computed", slog.Int("rows", len(rows)))

			out := cmd.OutOrStdout()
			if root.jsonOutput {
				err = writeJSON(out, rows)
			} else {
				err = newPrinter(out, root.plain).sizing(rows)
			}
			if err != nil {
				return fmt.Errorf("write table: %w", err)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.Float64SliceVar(&opts.percentiles, "percentiles", []float64{25, 50, 75, 90}, "Target percentiles in (0,100)")
	f.Float64SliceVar(&opts.confidences, "confidences", []float64{75, 90, 95}, "Confidence levels in (0,100)")
	f.IntVarP(&opts.robustness, "robustness", "r", 0, "Extra samples kept beyond each bound")
	return cmd
}
