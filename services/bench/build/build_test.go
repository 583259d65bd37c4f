// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package build

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/matbench/services/bench"
	"github.com/AleutianAI/matbench/services/bench/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_RunsMakeInDir(t *testing.T) {
	mock := &orchestrator.MockProcessManager{}
	b := New(mock, "/src/kernels")

	require.NoError(t, b.Build(context.Background()))

	calls := mock.GetCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "make", calls[0].Path)
	assert.Empty(t, calls[0].Args)
	assert.Equal(t, "/src/kernels", calls[0].Dir)
}

func TestBuild_Targets(t *testing.T) {
	mock := &orchestrator.MockProcessManager{}
	b := New(mock, ".")
	b.Command = "gmake"
	b.Targets = []string{"all", "-j4"}

	require.NoError(t, b.Build(context.Background()))
	assert.Equal(t, []string{"gmake", "all", "-j4"}, mock.GetCalls()[0].Argv())
}

func TestBuild_FailureIsProcessFailure(t *testing.T) {
	mock := &orchestrator.MockProcessManager{
		RunFunc: func(ctx context.Context, cmd orchestrator.Command) error {
			return errors.New("exit status 2")
		},
	}
	err := New(mock, "/src").Build(context.Background())

	require.ErrorIs(t, err, bench.ErrProcessFailure)
	assert.Contains(t, err.Error(), `command="make"`)
	assert.Contains(t, err.Error(), "exit status 2")
}
