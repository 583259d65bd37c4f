// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"testing"
	"time"

	"github.com/AleutianAI/matbench/services/bench"
	bstore "github.com/AleutianAI/matbench/services/bench/storage/badger"
	"github.com/AleutianAI/matbench/services/bench/timing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := bstore.OpenDB(bstore.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func session(id string, started time.Time) *Session {
	return &Session{
		ID:         id,
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Status:     StatusSucceeded,
		Sizes:      []int{32, 64},
		Kernels:    []string{"slow"},
		Records:    []timing.Record{{Method: "SLOW", Size: 32, Seconds: 0.1}},
	}
}

func TestStore_PutGet(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.Put(ctx, session("aaa111", base)))

	got, err := st.Get(ctx, "aaa111")
	require.NoError(t, err)
	assert.Equal(t, []int{32, 64}, got.Sizes)
	assert.Equal(t, 3*time.Second, got.Duration())
	assert.True(t, got.StartedAt.Equal(base))
}

func TestStore_GetByPrefix(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, st.Put(ctx, session("abc123", now)))
	require.NoError(t, st.Put(ctx, session("abd456", now.Add(time.Second))))

	got, err := st.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.ID)

	_, err = st.Get(ctx, "ab")
	assert.ErrorIs(t, err, bench.ErrConfiguration)

	_, err = st.Get(ctx, "zzz")
	assert.ErrorIs(t, err, bench.ErrNotFound)
}

func TestStore_ListNewestFirst(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"first", "second", "third"} {
		require.NoError(t, st.Put(ctx, session(id, base.Add(time.Duration(i)*time.Hour))))
	}

	all, err := st.List(ctx, 0)
	require.NoError(t, err)
	ids := make([]string, len(all))
	for i, s := range all {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"third", "second", "first"}, ids)

	two, err := st.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestStore_Latest(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	_, err := st.Latest(ctx, "")
	assert.ErrorIs(t, err, bench.ErrNotFound)

	base := time.Now()
	require.NoError(t, st.Put(ctx, session("old", base)))
	require.NoError(t, st.Put(ctx, session("new", base.Add(time.Minute))))

	latest, err := st.Latest(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "new", latest.ID)

	prev, err := st.Latest(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, "old", prev.ID)
}

func TestStore_PutRequiresID(t *testing.T) {
	err := newStore(t).Put(context.Background(), &Session{})
	assert.ErrorIs(t, err, bench.ErrConfiguration)
}

func TestHost_String(t *testing.T) {
	h := Host{Hostname: "box", OS: "linux", Arch: "amd64", CPUs: 8}
	assert.Equal(t, "box (linux/amd64, 8 cpus)", h.String())
}
