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
	"math/rand/v2"

	"github.com/AleutianAI/matbench/services/bench/matrix"
)

// streamID selects the PCG stream; together with the seed it fully defines
// the value sequence.
const streamID uint64 = 0x6d617462656e6368

// InputBound is the exclusive upper bound of generated input values.
const InputBound = 256

// Generator is the explicit pseudorandom state threaded through a session.
//
// Description:
//
//	Generator wraps a PCG source whose output sequence is fixed by its
//	published algorithm, so the same seed yields the same matrices on every
//	host and Go release. Each value consumes exactly one 64-bit draw; the top
//	eight bits are kept, which is uniform on [0, 256).
//
// Thread Safety: Not safe for concurrent use. A session owns one Generator.
type Generator struct {
	seed  uint64
	src   *rand.PCG
	draws uint64
}

// NewGenerator creates a generator positioned at the start of seed's stream.
func NewGenerator(seed uint64) *Generator {
	return &Generator{seed: seed, src: rand.NewPCG(seed, streamID)}
}

// Fill overwrites every element of m with a fresh value in [0, InputBound).
func (g *Generator) Fill(m *matrix.Matrix) {
	for i := range m.Data {
		m.Data[i] = uint32(g.src.Uint64() >> 56)
	}
	g.draws += uint64(len(m.Data))
}

// Seed returns the seed the generator was created with.
func (g *Generator) Seed() uint64 {
	return g.seed
}

// Draws returns how many values have been drawn so far.
func (g *Generator) Draws() uint64 {
	return g.draws
}
