// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kernel catalogs the matrix multiplication kernels a session can run.
package kernel

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/matbench/pkg/validation"
	"github.com/AleutianAI/matbench/services/bench"
)

// Descriptor identifies one kernel.
type Descriptor struct {
	// Name is the stable identifier used on the command line and in output
	// file names.
	Name string `yaml:"name" validate:"required"`

	// Label is the display name. The bundled kernels log it as their method.
	Label string `yaml:"label" validate:"required"`

	// Binary is the executable, relative to the build directory unless absolute.
	Binary string `yaml:"binary" validate:"required"`
}

// Registry is an immutable, ordered catalog of kernels.
//
// Description:
//
//	Registry order is the execution order for every size. Names are unique.
//	Adding a kernel means adding a Descriptor; nothing branches on names.
//
// Thread Safety: Safe for concurrent use; the registry never changes after
// construction.
type Registry struct {
	descs  []Descriptor
	byName map[string]int
}

// NewRegistry builds a registry from descriptors in the given order.
//
// Outputs:
//   - *Registry: The registry.
//   - error: ErrConfiguration for an empty field, an unsafe name or label,
//     or a duplicate name.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{
		descs:  make([]Descriptor, 0, len(descs)),
		byName: make(map[string]int, len(descs)),
	}
	for _, d := range descs {
		if d.Name == "" || d.Binary == "" {
			return nil, bench.Configurationf("kernel.NewRegistry", "kernel %q needs a name and a binary", d.Name)
		}
		if err := validation.ValidateKernelName(d.Name); err != nil {
			return nil, bench.Configurationf("kernel.NewRegistry", "%v", err)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, bench.Configurationf("kernel.NewRegistry", "kernel %q registered twice", d.Name)
		}
		if d.Label == "" {
			d.Label = strings.ToUpper(d.Name)
		}
		if err := validation.ValidateLabel(d.Label); err != nil {
			return nil, bench.Configurationf("kernel.NewRegistry", "kernel %q: %v", d.Name, err)
		}
		r.byName[d.Name] = len(r.descs)
		r.descs = append(r.descs, d)
	}
	return r, nil
}

// DefaultDescriptors lists the bundled kernels, slowest first.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{Name: "slow", Label: "SLOW", Binary: "slow"},
		{Name: "trancepose", Label: "TRANSPOSE", Binary: "trancepose"},
		{Name: "block", Label: "BLOCK_TRANSPOSE", Binary: "block"},
		{Name: "strass", Label: "STRASSEN_TRANSPOSE", Binary: "strass"},
		{Name: "parallel", Label: "PARALLEL_STRASSEN_TRANSPOSE", Binary: "parallel"},
		{Name: "simd", Label: "SIMD_PARALLEL_STRASSEN_TRANSPOSE", Binary: "simd"},
	}
}

// Default returns the registry of bundled kernels.
func Default() *Registry {
	r, err := NewRegistry(DefaultDescriptors()...)
	if err != nil {
		panic(fmt.Sprintf("kernel: invalid default registry: %v", err))
	}
	return r
}

// All returns every descriptor in registry order.
func (r *Registry) All() []Descriptor {
	return append([]Descriptor(nil), r.descs...)
}

// Names returns every kernel name in registry order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.descs))
	for i, d := range r.descs {
		names[i] = d.Name
	}
	return names
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return r.descs[i], true
}

// Resolve returns the binary reference registered for name.
//
// Outputs:
//   - string: The binary as registered.
//   - error: ErrNotFound when name is not registered.
func (r *Registry) Resolve(name string) (string, error) {
	d, ok := r.Get(name)
	if !ok {
		return "", &bench.Error{Kind: bench.ErrNotFound, Op: "kernel.Resolve", Kernel: name,
			Message: "kernel not registered"}
	}
	return d.Binary, nil
}

// Select returns the named kernels in registry order.
//
// Description:
//
//	An empty names list selects every kernel. Repeated names select the
//	kernel once. The caller's order never changes execution order.
//
// Outputs:
//   - []Descriptor: The selection.
//   - error: ErrConfiguration wrapping ErrNotFound for an unknown name.
func (r *Registry) Select(names []string) ([]Descriptor, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	want := make(map[string]bool, len(names))
	for _, name := range names {
		if _, err := r.Resolve(name); err != nil {
			return nil, &bench.Error{
				Kind:    bench.ErrConfiguration,
				Op:      "kernel.Select",
				Kernel:  name,
				Message: fmt.Sprintf("unknown method; known methods are %s", strings.Join(r.Names(), ", ")),
				Err:     err,
			}
		}
		want[name] = true
	}
	out := make([]Descriptor, 0, len(want))
	for _, d := range r.descs {
		if want[d.Name] {
			out = append(out, d)
		}
	}
	return out, nil
}

// BinaryPath resolves d's binary against binDir. Absolute binaries are
// returned unchanged. A result without a directory part is anchored to the
// working directory, since exec would otherwise search $PATH for it.
func BinaryPath(binDir string, d Descriptor) string {
	if filepath.IsAbs(d.Binary) {
		return d.Binary
	}
	path := filepath.Join(binDir, d.Binary)
	if !strings.ContainsRune(path, filepath.Separator) {
		path = "." + string(filepath.Separator) + path
	}
	return path
}

// ExistsOnDisk reports whether path names a regular file.
func ExistsOnDisk(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
