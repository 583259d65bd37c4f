// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func openMem(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestOpenDB_Persistent verifies data survives a reopen.
func TestOpenDB_Persistent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	ctx := context.Background()

	db, err := OpenDB(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.Path, db.Path())
	assert.False(t, db.InMemory())

	err = db.WithTxn(ctx, func(txn *badger.Txn) error {
		return SetJSON(txn, []byte("k"), entry{"a", 1})
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenDB(cfg)
	require.NoError(t, err)
	defer db.Close()

	var got entry
	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return GetJSON(txn, []byte("k"), &got)
	})
	require.NoError(t, err)
	assert.Equal(t, entry{"a", 1}, got)
}

// TestOpenDB_RequiresPath verifies that persistent mode requires a path.
func TestOpenDB_RequiresPath(t *testing.T) {
	_, err := OpenDB(Config{})
	assert.ErrorIs(t, err, ErrNoPath)
}

func TestConfigFunctions(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.SyncWrites)
	assert.False(t, cfg.InMemory)

	mem := InMemoryConfig()
	assert.True(t, mem.InMemory)
	assert.Zero(t, mem.GCDiscardRatio)
}

func TestGetJSON_Missing(t *testing.T) {
	db := openMem(t)
	err := db.WithReadTxn(context.Background(), func(txn *badger.Txn) error {
		var e entry
		return GetJSON(txn, []byte("absent"), &e)
	})
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestWithTxn_ErrorDiscards(t *testing.T) {
	db := openMem(t)
	ctx := context.Background()

	err := db.WithTxn(ctx, func(txn *badger.Txn) error {
		require.NoError(t, SetJSON(txn, []byte("k"), entry{"x", 1}))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		var e entry
		return GetJSON(txn, []byte("k"), &e)
	})
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestWithTxn_CancelledContext(t *testing.T) {
	db := openMem(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := db.WithTxn(ctx, func(txn *badger.Txn) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestKeysWithPrefix(t *testing.T) {
	db := openMem(t)
	ctx := context.Background()

	err := db.WithTxn(ctx, func(txn *badger.Txn) error {
		for _, k := range []string{"p/1", "p/2", "p/3", "q/1"} {
			if err := txn.Set([]byte(k), []byte("v")); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	_ = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		asStrings := func(keys [][]byte) []string {
			out := make([]string, len(keys))
			for i, k := range keys {
				out[i] = string(k)
			}
			return out
		}
		assert.Equal(t, []string{"p/1", "p/2", "p/3"}, asStrings(KeysWithPrefix(txn, []byte("p/"), false, 0)))
		assert.Equal(t, []string{"p/3", "p/2"}, asStrings(KeysWithPrefix(txn, []byte("p/"), true, 2)))
		return nil
	})
}

func TestOpenDB_LockedDirectory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()

	db, err := OpenDB(cfg)
	require.NoError(t, err)
	defer db.Close()

	_, err = OpenDB(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), cfg.Path)
}

func TestWithReadTxn_CancelledContext(t *testing.T) {
	db := openMem(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.WithReadTxn(ctx, func(*badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInMemory_HasNoPath(t *testing.T) {
	db := openMem(t)
	assert.True(t, db.InMemory())
	assert.Empty(t, db.Path())
}
