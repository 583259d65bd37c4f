// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger opens the embedded key-value store that keeps session
// history between runs.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

var (
	// ErrKeyNotFound is returned by GetJSON for an absent key.
	ErrKeyNotFound = errors.New("key not found")

	// ErrNoPath is returned by OpenDB for a persistent store without a directory.
	ErrNoPath = errors.New("history store needs a directory")
)

// maxCommitAttempts bounds WithTxn retries after a write conflict.
const maxCommitAttempts = 3

// Config configures the store.
type Config struct {
	// Path is the database directory. Required unless InMemory.
	Path string

	// InMemory keeps everything in memory; used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's internal messages at Debug and above. Nil
	// silences them.
	Logger *slog.Logger

	// GCDiscardRatio drives the value log GC passes run on Close. Zero skips GC.
	GCDiscardRatio float64
}

// DefaultConfig returns durable settings for a persistent store.
func DefaultConfig() Config {
	return Config{SyncWrites: true, GCDiscardRatio: 0.5}
}

// InMemoryConfig returns settings for an ephemeral store.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// slogAdapter satisfies badger.Logger. Badger's info chatter (compactions,
// replay) is demoted to Debug so a session's own output stays readable.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) emit(level slog.Level, format string, args []any) {
	a.logger.Log(context.Background(), level, strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (a slogAdapter) Errorf(format string, args ...any)   { a.emit(slog.LevelError, format, args) }
func (a slogAdapter) Warningf(format string, args ...any) { a.emit(slog.LevelWarn, format, args) }
func (a slogAdapter) Infof(format string, args ...any)    { a.emit(slog.LevelDebug, format, args) }
func (a slogAdapter) Debugf(format string, args ...any)   { a.emit(slog.LevelDebug, format, args) }

// DB is an open history store.
//
// Thread Safety: Safe for concurrent use. Only one process may hold a
// persistent store open at a time.
type DB struct {
	db  *badger.DB
	cfg Config
}

// OpenDB opens or creates the store.
//
// Outputs:
//   - *DB: The open store. The caller must Close it.
//   - error: ErrNoPath, or a badger failure such as another process holding
//     the directory lock.
func OpenDB(cfg Config) (*DB, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	if !cfg.InMemory {
		if cfg.Path == "" {
			return nil, ErrNoPath
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	var logger badger.Logger
	if cfg.Logger != nil {
		logger = slogAdapter{logger: cfg.Logger}
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history store %q: %w", cfg.Path, err)
	}
	return &DB{db: db, cfg: cfg}, nil
}

// Close reclaims value log space when configured, then closes the store.
func (d *DB) Close() error {
	if d.cfg.GCDiscardRatio > 0 && !d.cfg.InMemory {
		// Each pass rewrites at most one file; stop once nothing qualifies.
		for d.db.RunValueLogGC(d.cfg.GCDiscardRatio) == nil {
		}
	}
	return d.db.Close()
}

// Path returns the database directory; empty for in-memory stores.
func (d *DB) Path() string {
	if d.cfg.InMemory {
		return ""
	}
	return d.cfg.Path
}

// InMemory reports whether the store is ephemeral.
func (d *DB) InMemory() bool {
	return d.cfg.InMemory
}

// WithTxn runs fn in a read-write transaction and commits when fn succeeds.
// A commit that loses a write conflict reruns fn in a fresh transaction, so
// fn must not keep side effects outside txn.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = d.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("commit after %d attempts: %w", maxCommitAttempts, err)
}

// WithReadTxn runs fn against a consistent snapshot.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// SetJSON stores v at key inside txn.
func SetJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, data)
}

// GetJSON decodes the value at key into v.
//
// Outputs:
//   - error: ErrKeyNotFound when key is absent.
func GetJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	case err != nil:
		return err
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return nil
	})
}

// KeysWithPrefix returns every key under prefix in key order, or in reverse
// key order when reverse is set.
//
// Inputs:
//   - limit: Maximum keys returned. Zero or less returns all.
func KeysWithPrefix(txn *badger.Txn, prefix []byte, reverse bool, limit int) [][]byte {
	opts := badger.IteratorOptions{Prefix: prefix, Reverse: reverse}
	it := txn.NewIterator(opts)
	defer it.Close()

	// Reverse iteration seeks to the last key <= seek, so start just past
	// every key that carries the prefix.
	seek := prefix
	if reverse {
		seek = append(append([]byte(nil), prefix...), 0xFF)
	}

	var keys [][]byte
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
		if limit > 0 && len(keys) == limit {
			break
		}
	}
	return keys
}
