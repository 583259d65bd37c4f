// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package corpus

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the name of the manifest kept next to the cached matrices.
const ManifestFile = "corpus.yaml"

// ManifestEntry records how the inputs for one size were produced.
type ManifestEntry struct {
	Seed        uint64    `yaml:"seed"`
	GeneratedAt time.Time `yaml:"generated_at"`
	Reference   bool      `yaml:"reference"`
}

// Manifest maps a matrix size to the provenance of its cached inputs.
type Manifest struct {
	Entries map[int]ManifestEntry `yaml:"entries"`
}

func loadManifest(dir string) (*Manifest, error) {
	m := &Manifest{Entries: make(map[int]ManifestEntry)}

	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read corpus manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse corpus manifest: %w", err)
	}
	if m.Entries == nil {
		m.Entries = make(map[int]ManifestEntry)
	}
	return m, nil
}

func (m *Manifest) save(dir string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal corpus manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0644); err != nil {
		return fmt.Errorf("write corpus manifest: %w", err)
	}
	return nil
}
