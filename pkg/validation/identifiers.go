// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-provided identifiers before they reach file
// names, subprocess arguments or line-oriented logs.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// kernelNamePattern matches kernel names.
// Allows: letters, digits, underscore, dot, hyphen; must start alphanumeric.
// Max length: 64 characters
var kernelNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{0,63}$`)

// ValidateKernelName validates a kernel name.
//
// Names become output file names (C_<name>_<n>.dat) and metric and point
// tags, so path separators, whitespace and other punctuation are rejected.
//
// Example:
//
//	if err := validation.ValidateKernelName(d.Name); err != nil {
//	    return nil, err
//	}
func ValidateKernelName(name string) error {
	if name == "" {
		return fmt.Errorf("kernel name cannot be empty")
	}
	if !kernelNamePattern.MatchString(name) {
		return fmt.Errorf("invalid kernel name %q (must be 1-64 letters, digits, '_', '.' or '-', starting alphanumeric)", name)
	}
	return nil
}

// ValidateLabel validates a method label as logged by a kernel.
//
// A label is the first field of a comma-separated timing line, so it may not
// contain commas, control characters or surrounding spaces.
func ValidateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("label cannot be empty")
	}
	if strings.TrimSpace(label) != label {
		return fmt.Errorf("label %q has surrounding whitespace", label)
	}
	if strings.ContainsRune(label, ',') {
		return fmt.Errorf("label %q contains a comma", label)
	}
	for _, r := range label {
		if unicode.IsControl(r) {
			return fmt.Errorf("label %q contains a control character", label)
		}
	}
	return nil
}

// ValidateKernelNames validates multiple names.
// Returns an error listing all invalid names if any fail validation.
func ValidateKernelNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateKernelName(n); err != nil {
			invalid = append(invalid, n)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid kernel names: %q", invalid)
	}
	return nil
}
