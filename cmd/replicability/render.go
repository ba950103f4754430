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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/replicability/services/replicability/batch"
	"github.com/AleutianAI/replicability/services/replicability/bound"
	"github.com/AleutianAI/replicability/services/replicability/datatypes"
	"github.com/AleutianAI/replicability/services/replicability/kpi"
	"github.com/AleutianAI/replicability/services/replicability/metric"
	"github.com/AleutianAI/replicability/services/replicability/variability"
)

// Palette - deep ocean teals.
var (
	colorTealBright  = lipgloss.Color("#2CD7C7")
	colorTealPrimary = lipgloss.Color("#20B9B4")
	colorTealDeep    = lipgloss.Color("#16858E")
	colorSlate       = lipgloss.Color("#2C4A54")
	colorWarning     = lipgloss.Color("#F4D03F")
	colorError       = lipgloss.Color("#E74C3C")
)

type styles struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Header   lipgloss.Style
	Cell     lipgloss.Style
	Border   lipgloss.Style
}

// printer renders reports as tables.
type printer struct {
	w      io.Writer
	styled bool
	st     styles
}

// newPrinter styles output only when w is a terminal and plain is false.
func newPrinter(w io.Writer, plain bool) *printer {
	p := &printer{w: w, styled: !plain && isTerminal(w)}
	r := lipgloss.NewRenderer(w)
	cell := r.NewStyle().Padding(0, 1)
	if !p.styled {
		p.st = styles{
			Title:    r.NewStyle(),
			Subtitle: r.NewStyle(),
			Muted:    r.NewStyle(),
			Success:  r.NewStyle(),
			Warning:  r.NewStyle(),
			Error:    r.NewStyle(),
			Header:   cell,
			Cell:     cell,
			Border:   r.NewStyle(),
		}
		return p
	}
	p.st = styles{
		Title:    r.NewStyle().Bold(true).Foreground(colorTealBright),
		Subtitle: r.NewStyle().Foreground(colorTealPrimary),
		Muted:    r.NewStyle().Foreground(colorSlate),
		Success:  r.NewStyle().Foreground(colorTealBright),
		Warning:  r.NewStyle().Foreground(colorWarning),
		Error:    r.NewStyle().Foreground(colorError),
		Header:   cell.Bold(true).Foreground(colorTealPrimary),
		Cell:     cell,
		Border:   r.NewStyle().Foreground(colorTealDeep),
	}
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) table(headers []string, rows [][]string) string {
	border := lipgloss.ASCIIBorder()
	if p.styled {
		border = lipgloss.RoundedBorder()
	}
	return table.New().
		Border(border).
		BorderStyle(p.st.Border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.st.Header
			}
			return p.st.Cell
		}).
		String()
}

func (p *printer) println(s string) error {
	_, err := fmt.Fprintln(p.w, s)
	return err
}

// -----------------------------------------------------------------------------
// Sizing
// -----------------------------------------------------------------------------

func (p *printer) sizing(rows []bound.SizingRow) error {
	cells := make([][]string, len(rows))
	for i, r := range rows {
		cells[i] = []string{
			fmtFloat(r.Percentile),
			fmtFloat(r.Confidence),
			r.Direction.String(),
			strconv.Itoa(r.Robustness),
			strconv.Itoa(r.MinSize),
		}
	}
	if err := p.println(p.st.Title.Render("Minimal series length")); err != nil {
		return err
	}
	return p.println(p.table([]string{"Percentile", "Confidence", "Bound", "Robustness", "Min runs"}, cells))
}

// -----------------------------------------------------------------------------
// Analysis
// -----------------------------------------------------------------------------

func (p *printer) analysis(a analysis) error {
	for _, exp := range a.Experiments {
		if err := p.experiment(exp); err != nil {
			return err
		}
	}
	if a.Jobs != nil {
		return p.jobs(a.Jobs)
	}
	return nil
}

func (p *printer) experiment(rep *batch.ExperimentReport) error {
	head := p.st.Title.Render("Experiment "+rep.Name) + " " +
		p.st.Muted.Render(fmt.Sprintf("batch %s, %s", rep.BatchID, rep.Duration.Round(time.Millisecond)))
	if err := p.println(head); err != nil {
		return err
	}

	rows := make([][]string, len(rep.Series))
	for i, s := range rep.Series {
		rows[i] = []string{
			s.Label,
			strconv.Itoa(len(s.Metrics)),
			p.yesNo(s.Converged),
			p.resultValue(s.KPI),
			resultRank(s.KPI),
			resultSize(s.KPI),
			p.independent(s.KPI),
		}
	}
	if err := p.println(p.table([]string{"Series", "Runs", "Converged", "KPI", "Rank", "n / min", "Independent"}, rows)); err != nil {
		return err
	}

	v := rep.Variability
	row := []string{"-", "-", p.resultValue(v), "-", resultSize(v), p.independent(v)}
	if v.Score != nil {
		row[0] = fmtValue(v.Score.Upper)
		row[1] = fmtValue(v.Score.Lower)
		row[3] = fmtPercent(v.Score.RelativePercent())
	}
	if err := p.println(p.st.Subtitle.Render("Variability over " + strconv.Itoa(len(rep.Sequel)) + " KPIs")); err != nil {
		return err
	}
	if err := p.println(p.table([]string{"Upper", "Lower", "Absolute", "Relative", "n / min", "Independent"}, [][]string{row})); err != nil {
		return err
	}
	if len(rep.Excluded) > 0 {
		return p.println(p.st.Warning.Render("Excluded from sequel: " + strings.Join(rep.Excluded, ", ")))
	}
	return nil
}

func (p *printer) jobs(rep *batch.Report) error {
	head := p.st.Title.Render("Jobs") + " " +
		p.st.Muted.Render(fmt.Sprintf("batch %s, %s", rep.BatchID, rep.Duration.Round(time.Millisecond)))
	if err := p.println(head); err != nil {
		return err
	}
	rows := make([][]string, len(rep.Results))
	for i, r := range rep.Results {
		rows[i] = []string{
			r.Label,
			r.Kind.String(),
			p.resultValue(r),
			resultSize(r),
			p.independent(r),
			resultNote(r),
		}
	}
	return p.println(p.table([]string{"Label", "Kind", "Value", "n / min", "Independent", "Note"}, rows))
}

// resultValue is the KPI value or the absolute variability score.
func (p *printer) resultValue(r batch.Result) string {
	switch {
	case r.Err != nil:
		return p.st.Error.Render("error")
	case r.KPI != nil && !r.KPI.Value.IsDefined(),
		r.Score != nil && !r.Score.Absolute.IsDefined():
		return p.st.Warning.Render("undefined")
	case r.KPI != nil:
		return fmtValue(r.KPI.Value)
	case r.Score != nil:
		return fmtValue(r.Score.Absolute)
	default:
		return "-"
	}
}

func (p *printer) independent(r batch.Result) string {
	if r.Err != nil {
		return "-"
	}
	return p.yesNo(r.Independent())
}

func (p *printer) yesNo(ok bool) string {
	if ok {
		return p.st.Success.Render("yes")
	}
	return p.st.Error.Render("no")
}

func resultRank(r batch.Result) string {
	if r.KPI == nil || r.KPI.Rank == 0 {
		return "-"
	}
	return strconv.Itoa(r.KPI.Rank)
}

func resultSize(r batch.Result) string {
	switch {
	case r.KPI != nil:
		return fmt.Sprintf("%d / %d", r.KPI.N, r.KPI.MinSampleSize)
	case r.Score != nil:
		return fmt.Sprintf("%d / %d", r.Score.N, r.Score.MinSampleSize)
	default:
		return "-"
	}
}

func resultNote(r batch.Result) string {
	switch {
	case r.Err != nil:
		return r.Err.Error()
	case r.Score != nil && r.Score.Absolute.IsDefined():
		return "relative " + fmtPercent(r.Score.RelativePercent())
	case !r.Independent():
		if r.KPI != nil {
			return r.KPI.IndependenceReason
		}
		if r.Score != nil {
			return r.Score.IndependenceReason
		}
	}
	return ""
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', 6, 64)
}

func fmtValue(v datatypes.Value) string {
	f, ok := v.Float64()
	if !ok {
		return "undefined"
	}
	return fmtFloat(f)
}

func fmtPercent(v datatypes.Value) string {
	f, ok := v.Float64()
	if !ok {
		return "undefined"
	}
	return strconv.FormatFloat(f, 'f', 3, 64) + "%"
}

// -----------------------------------------------------------------------------
// JSON
// -----------------------------------------------------------------------------

type resultJSON struct {
	Label       string             `json:"label"`
	Kind        string             `json:"kind"`
	Outcome     string             `json:"outcome"`
	Independent bool               `json:"independent"`
	KPI         *kpi.KPI           `json:"kpi,omitempty"`
	Score       *variability.Score `json:"score,omitempty"`
	Error       string             `json:"error,omitempty"`
	ErrorType   string             `json:"error_type,omitempty"`
	DurationMS  float64            `json:"duration_ms"`
}

type seriesJSON struct {
	Label     string          `json:"label"`
	Metrics   []metric.Metric `json:"metrics"`
	Converged bool            `json:"converged"`
	KPI       resultJSON      `json:"kpi"`
}

type experimentJSON struct {
	BatchID     string       `json:"batch_id"`
	Name        string       `json:"name"`
	Series      []seriesJSON `json:"series"`
	Sequel      []float64    `json:"sequel"`
	Excluded    []string     `json:"excluded,omitempty"`
	Variability resultJSON   `json:"variability"`
	DurationMS  float64      `json:"duration_ms"`
}

type batchJSON struct {
	BatchID    string       `json:"batch_id"`
	Results    []resultJSON `json:"results"`
	DurationMS float64      `json:"duration_ms"`
}

type analysisOutput struct {
	Experiments []experimentJSON `json:"experiments,omitempty"`
	Jobs        *batchJSON       `json:"jobs,omitempty"`
}

func analysisJSON(a analysis) analysisOutput {
	var out analysisOutput
	for _, exp := range a.Experiments {
		ej := experimentJSON{
			BatchID:     exp.BatchID,
			Name:        exp.Name,
			Series:      make([]seriesJSON, len(exp.Series)),
			Sequel:      exp.Sequel,
			Excluded:    exp.Excluded,
			Variability: toResultJSON(exp.Variability),
			DurationMS:  millis(exp.Duration),
		}
		for i, s := range exp.Series {
			ej.Series[i] = seriesJSON{
				Label:     s.Label,
				Metrics:   s.Metrics,
				Converged: s.Converged,
				KPI:       toResultJSON(s.KPI),
			}
		}
		out.Experiments = append(out.Experiments, ej)
	}
	if a.Jobs != nil {
		bj := &batchJSON{
			BatchID:    a.Jobs.BatchID,
			Results:    make([]resultJSON, len(a.Jobs.Results)),
			DurationMS: millis(a.Jobs.Duration),
		}
		for i, r := range a.Jobs.Results {
			bj.Results[i] = toResultJSON(r)
		}
		out.Jobs = bj
	}
	return out
}

func toResultJSON(r batch.Result) resultJSON {
	out := resultJSON{
		Label:       r.Label,
		Kind:        r.Kind.String(),
		Outcome:     r.Outcome(),
		Independent: r.Independent(),
		KPI:         r.KPI,
		Score:       r.Score,
		DurationMS:  millis(r.Duration),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
		out.ErrorType = batch.ErrorType(r.Err)
	}
	return out
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
