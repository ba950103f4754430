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
	"io"
	"log/slog"
	"strings"
)

// newLogger builds the CLI logger. Logs go to w, normally stderr, so that
// reports on stdout stay parseable.
//
// Inputs:
//   - w: Destination.
//   - level: "debug", "info", "warn" or "error".
//   - format: "text" or "json".
//
// Outputs:
//   - *slog.Logger: Tagged with service=replicability.
//   - error: Unknown level or format.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format %q: want text or json", format)
	}
	handler = handler.WithAttrs([]slog.Attr{slog.String("service", "replicability")})
	return slog.New(handler), nil
}
