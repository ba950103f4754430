// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads analysis files for the replicability CLI.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidFile is returned when an analysis file fails to parse or
// validate.
var ErrInvalidFile = errors.New("invalid analysis file")

var validate = validator.New()

// Load reads and validates the analysis file at path.
func Load(path string) (*AnalysisFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read analysis file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates an analysis file. Unknown keys are rejected.
func Parse(data []byte) (*AnalysisFile, error) {
	var file AnalysisFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

// Validate checks struct tags and that there is something to run.
func (f *AnalysisFile) Validate() error {
	if len(f.Experiments) == 0 && len(f.Jobs) == 0 {
		return fmt.Errorf("%w: no experiments or jobs", ErrInvalidFile)
	}
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrInvalidFile, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	return nil
}
