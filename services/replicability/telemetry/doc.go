// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry provides OpenTelemetry observability for replicability
// analyses.
//
// Init installs global tracer and meter providers for the configured
// exporters. OTelSink records each computed KPI and variability score as a
// span and a set of metric points, so a batch of analyses can be followed in
// any OTLP trace backend or scraped as Prometheus text.
//
// # Exporters
//
//   - Traces: otlp (gRPC), stdout, or none.
//   - Metrics: prometheus (client_golang registry), stdout, or none.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	shutdown, err := telemetry.Init(ctx, cfg)
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
//	sink, err := telemetry.NewOTelSink(telemetry.DefaultOTelConfig())
//
// # Environment Variables
//
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint (default: localhost:4317)
//   - OTEL_TRACES_EXPORTER: otlp, stdout, or none (default: none)
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, or none (default: none)
//   - REPLICABILITY_ENV: environment name (default: development)
//
// # Thread Safety
//
// All exported functions are safe for concurrent use after Init returns.
package telemetry
