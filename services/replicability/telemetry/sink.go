// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/replicability/services/replicability/kpi"
	"github.com/AleutianAI/replicability/services/replicability/variability"
)

// -----------------------------------------------------------------------------
// Records
// -----------------------------------------------------------------------------

// KPIData is one computed KPI.
type KPIData struct {
	// BatchID groups records from one batch run.
	BatchID string

	// Label names the series, e.g. "bbr/throughput/run-set-1".
	Label string

	KPI kpi.KPI

	// Duration is the computation time.
	Duration time.Duration

	// Timestamp is when the computation started. Zero means now.
	Timestamp time.Time
}

// VariabilityData is one computed variability score.
type VariabilityData struct {
	BatchID   string
	Label     string
	Score     variability.Score
	Duration  time.Duration
	Timestamp time.Time
}

// ErrorData is one failed computation.
type ErrorData struct {
	BatchID string
	Label   string

	// Operation is "kpi", "variability" or "metric".
	Operation string

	// ErrorType is a short classification, e.g. "invalid_parameter".
	ErrorType string

	Message   string
	Timestamp time.Time
}

// Sink receives analysis telemetry.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Sink interface {
	RecordKPI(ctx context.Context, data *KPIData) error
	RecordVariability(ctx context.Context, data *VariabilityData) error
	RecordError(ctx context.Context, data *ErrorData) error
	Close() error
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// OTelConfig configures the OpenTelemetry sink.
//
// Thread Safety: Immutable after creation; safe for concurrent read access.
type OTelConfig struct {
	// ServiceVersion is reported as the instrumentation version.
	ServiceVersion string

	// TracerProvider is the tracer provider to use.
	// If nil, uses the global tracer provider.
	TracerProvider trace.TracerProvider

	// MeterProvider is the meter provider to use.
	// If nil, uses the global meter provider.
	MeterProvider metric.MeterProvider

	// TraceEnabled enables span creation. Default: true.
	TraceEnabled bool

	// MetricsEnabled enables metric recording. Default: true.
	MetricsEnabled bool
}

// DefaultOTelConfig returns a configuration with tracing and metrics on.
func DefaultOTelConfig() *OTelConfig {
	return &OTelConfig{
		ServiceVersion: "1.0.0",
		TraceEnabled:   true,
		MetricsEnabled: true,
	}
}

// -----------------------------------------------------------------------------
// OpenTelemetry Sink
// -----------------------------------------------------------------------------

// OTelSink exports analysis results via OpenTelemetry.
//
// Description:
//
//	Each record becomes a span carrying the full result as attributes and
//	a set of metric points: computation counts by outcome, the bound or
//	score values as gauges, and computation time.
//
// Thread Safety: Safe for concurrent use.
//
// Example:
//
//	sink, err := telemetry.NewOTelSink(telemetry.DefaultOTelConfig())
//	if err != nil {
//	    return fmt.Errorf("create otel sink: %w", err)
//	}
//	defer sink.Close()
type OTelSink struct {
	config *OTelConfig
	tracer trace.Tracer
	meter  metric.Meter

	kpiTotal            metric.Int64Counter
	kpiValue            metric.Float64Gauge
	sampleSize          metric.Int64Histogram
	variabilityTotal    metric.Int64Counter
	variabilityAbsolute metric.Float64Gauge
	variabilityRelative metric.Float64Histogram
	duration            metric.Float64Histogram
	errorsTotal         metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

// NewOTelSink creates an OpenTelemetry sink.
//
// Inputs:
//   - config: Sink configuration. Must not be nil.
//
// Outputs:
//   - *OTelSink: The created sink. Never nil on success.
//   - error: Non-nil if config is nil or an instrument cannot be created.
//
// Limitations:
//   - Without configured providers, telemetry is discarded (no-op).
func NewOTelSink(config *OTelConfig) (*OTelSink, error) {
	if config == nil {
		return nil, ErrInvalidConfig
	}
	cfg := *config

	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	s := &OTelSink{
		config: &cfg,
		tracer: tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion)),
		meter:  mp.Meter(instrumentationName, metric.WithInstrumentationVersion(cfg.ServiceVersion)),
	}
	if cfg.MetricsEnabled {
		if err := s.initializeMetrics(); err != nil {
			return nil, errors.Join(ErrInvalidConfig, err)
		}
	}
	return s, nil
}

func (s *OTelSink) initializeMetrics() error {
	var err error

	s.kpiTotal, err = s.meter.Int64Counter(
		"replicability.kpi.total",
		metric.WithDescription("KPIs computed, by definedness and independence"),
		metric.WithUnit("{kpi}"),
	)
	if err != nil {
		return err
	}

	s.kpiValue, err = s.meter.Float64Gauge(
		"replicability.kpi.value",
		metric.WithDescription("Last defined KPI bound per series label"),
	)
	if err != nil {
		return err
	}

	s.sampleSize, err = s.meter.Int64Histogram(
		"replicability.sample.size",
		metric.WithDescription("Series and sequel lengths"),
		metric.WithUnit("{sample}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 5, 8, 10, 20, 30, 50, 100, 300),
	)
	if err != nil {
		return err
	}

	s.variabilityTotal, err = s.meter.Int64Counter(
		"replicability.variability.total",
		metric.WithDescription("Variability scores computed, by definedness and independence"),
		metric.WithUnit("{score}"),
	)
	if err != nil {
		return err
	}

	s.variabilityAbsolute, err = s.meter.Float64Gauge(
		"replicability.variability.absolute",
		metric.WithDescription("Last defined absolute variability score per sequel label"),
	)
	if err != nil {
		return err
	}

	s.variabilityRelative, err = s.meter.Float64Histogram(
		"replicability.variability.relative",
		metric.WithDescription("Relative variability scores"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1),
	)
	if err != nil {
		return err
	}

	s.duration, err = s.meter.Float64Histogram(
		"replicability.computation.duration",
		metric.WithDescription("Computation time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	s.errorsTotal, err = s.meter.Int64Counter(
		"replicability.errors.total",
		metric.WithDescription("Failed computations"),
		metric.WithUnit("{error}"),
	)
	return err
}

// RecordKPI records one KPI.
//
// Outputs:
//   - error: ErrNilContext, ErrNilData or ErrSinkClosed.
//
// Thread Safety: Safe for concurrent use.
func (s *OTelSink) RecordKPI(ctx context.Context, data *KPIData) error {
	if err := s.check(ctx, data == nil); err != nil {
		return err
	}

	k := data.KPI
	outcome := []attribute.KeyValue{
		attribute.Bool("defined", k.Value.IsDefined()),
		attribute.Bool("independent", k.Independent),
	}

	if s.config.TraceEnabled {
		attrs := append(commonAttrs(data.BatchID, data.Label),
			attribute.Bool("kpi.defined", k.Value.IsDefined()),
			attribute.Bool("kpi.independent", k.Independent),
			attribute.Int("kpi.n", k.N),
			attribute.Int("kpi.min_sample_size", k.MinSampleSize),
			attribute.Int("kpi.rank", k.Rank),
			attribute.Float64("kpi.percentile", k.Spec.Percentile),
			attribute.Float64("kpi.confidence", k.Spec.Confidence),
			attribute.String("kpi.direction", k.Direction.String()),
			attribute.String("kpi.independence_reason", k.IndependenceReason),
		)
		if v, ok := k.Value.Float64(); ok {
			attrs = append(attrs, attribute.Float64("kpi.value", v))
		}
		_, span := s.tracer.Start(ctx, "kpi.record", spanOptions(attrs, data.Timestamp)...)
		span.End()
	}

	if s.config.MetricsEnabled {
		s.kpiTotal.Add(ctx, 1, metric.WithAttributes(outcome...))
		s.sampleSize.Record(ctx, int64(k.N), metric.WithAttributes(attribute.String("level", "series")))
		s.duration.Record(ctx, data.Duration.Seconds(), metric.WithAttributes(attribute.String("operation", "kpi")))
		if v, ok := k.Value.Float64(); ok {
			s.kpiValue.Record(ctx, v, metric.WithAttributes(attribute.String("label", data.Label)))
		}
	}
	return nil
}

// RecordVariability records one variability score.
//
// Outputs:
//   - error: ErrNilContext, ErrNilData or ErrSinkClosed.
//
// Thread Safety: Safe for concurrent use.
func (s *OTelSink) RecordVariability(ctx context.Context, data *VariabilityData) error {
	if err := s.check(ctx, data == nil); err != nil {
		return err
	}

	sc := data.Score
	outcome := []attribute.KeyValue{
		attribute.Bool("defined", sc.Absolute.IsDefined()),
		attribute.Bool("independent", sc.Independent),
	}

	if s.config.TraceEnabled {
		attrs := append(commonAttrs(data.BatchID, data.Label),
			attribute.Bool("variability.defined", sc.Absolute.IsDefined()),
			attribute.Bool("variability.independent", sc.Independent),
			attribute.Int("variability.n", sc.N),
			attribute.Int("variability.min_sample_size", sc.MinSampleSize),
			attribute.Float64("variability.percentile", sc.Spec.Percentile),
			attribute.Float64("variability.confidence", sc.Spec.Confidence),
			attribute.String("variability.independence_reason", sc.IndependenceReason),
		)
		if v, ok := sc.Upper.Float64(); ok {
			attrs = append(attrs, attribute.Float64("variability.upper", v))
		}
		if v, ok := sc.Lower.Float64(); ok {
			attrs = append(attrs, attribute.Float64("variability.lower", v))
		}
		if v, ok := sc.Absolute.Float64(); ok {
			attrs = append(attrs, attribute.Float64("variability.absolute", v))
		}
		if v, ok := sc.Relative.Float64(); ok {
			attrs = append(attrs, attribute.Float64("variability.relative", v))
		}
		_, span := s.tracer.Start(ctx, "variability.record", spanOptions(attrs, data.Timestamp)...)
		span.End()
	}

	if s.config.MetricsEnabled {
		s.variabilityTotal.Add(ctx, 1, metric.WithAttributes(outcome...))
		s.sampleSize.Record(ctx, int64(sc.N), metric.WithAttributes(attribute.String("level", "sequel")))
		s.duration.Record(ctx, data.Duration.Seconds(), metric.WithAttributes(attribute.String("operation", "variability")))
		if v, ok := sc.Absolute.Float64(); ok {
			s.variabilityAbsolute.Record(ctx, v, metric.WithAttributes(attribute.String("label", data.Label)))
		}
		if v, ok := sc.Relative.Float64(); ok {
			s.variabilityRelative.Record(ctx, v)
		}
	}
	return nil
}

// RecordError records one failed computation.
//
// Outputs:
//   - error: ErrNilContext, ErrNilData or ErrSinkClosed.
//
// Thread Safety: Safe for concurrent use.
func (s *OTelSink) RecordError(ctx context.Context, data *ErrorData) error {
	if err := s.check(ctx, data == nil); err != nil {
		return err
	}

	operation := orUnknown(data.Operation)
	errorType := orUnknown(data.ErrorType)

	if s.config.TraceEnabled {
		attrs := append(commonAttrs(data.BatchID, data.Label),
			attribute.String("error.operation", operation),
			attribute.String("error.type", errorType),
			attribute.String("error.message", data.Message),
		)
		_, span := s.tracer.Start(ctx, "error.record", spanOptions(attrs, data.Timestamp)...)
		span.SetStatus(codes.Error, data.Message)
		span.End()
	}

	if s.config.MetricsEnabled {
		s.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("error_type", errorType),
		))
	}
	return nil
}

// Close marks the sink as closed. Providers are not shut down as they may
// be shared.
//
// Thread Safety: Safe for concurrent use. Idempotent.
func (s *OTelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *OTelSink) check(ctx context.Context, nilData bool) error {
	if ctx == nil {
		return ErrNilContext
	}
	if nilData {
		return ErrNilData
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	return nil
}

func commonAttrs(batchID, label string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("batch.id", batchID),
		attribute.String("label", orUnknown(label)),
	}
}

func spanOptions(attrs []attribute.KeyValue, ts time.Time) []trace.SpanStartOption {
	opts := []trace.SpanStartOption{trace.WithAttributes(attrs...)}
	if !ts.IsZero() {
		opts = append(opts, trace.WithTimestamp(ts))
	}
	return opts
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

var _ Sink = (*OTelSink)(nil)
