// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history stores the summary of every finished session so later
// sessions can be listed and compared.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/matbench/services/bench"
	"github.com/AleutianAI/matbench/services/bench/report"
	bstore "github.com/AleutianAI/matbench/services/bench/storage/badger"
	"github.com/AleutianAI/matbench/services/bench/timing"
	"github.com/AleutianAI/matbench/services/bench/verify"
	"github.com/dgraph-io/badger/v4"
)

// Session statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Host identifies the machine a session ran on.
type Host struct {
	Hostname string   `json:"hostname"`
	OS       string   `json:"os"`
	Arch     string   `json:"arch"`
	CPUs     int      `json:"cpus"`
	Features []string `json:"features,omitempty"`
}

// String renders the host as "hostname (os/arch, N cpus)".
func (h Host) String() string {
	return fmt.Sprintf("%s (%s/%s, %d cpus)", h.Hostname, h.OS, h.Arch, h.CPUs)
}

// Session is the stored summary of one benchmark session.
type Session struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`

	Seed    uint64   `json:"seed"`
	Sizes   []int    `json:"sizes"`
	Kernels []string `json:"kernels"`
	Policy  string   `json:"policy"`
	Host    Host     `json:"host"`

	Records      []timing.Record  `json:"records"`
	Skipped      int              `json:"skipped_lines"`
	Summaries    []report.Summary `json:"summaries"`
	Verification []verify.Result  `json:"verification,omitempty"`
}

// Duration returns the wall-clock length of the session.
func (s *Session) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

const (
	sessionPrefix = "session/"
	timePrefix    = "bytime/"
)

func sessionKey(id string) []byte {
	return []byte(sessionPrefix + id)
}

func timeKey(s *Session) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", timePrefix, s.StartedAt.UnixNano(), s.ID))
}

// Store persists sessions in badger.
//
// Keys:
//   - session/<id> → JSON Session
//   - bytime/<unix nanos, zero padded>/<id> → id, for newest-first listing
type Store struct {
	db *bstore.DB
}

// NewStore creates a Store over an open database.
func NewStore(db *bstore.DB) *Store {
	return &Store{db: db}
}

// Put stores s, replacing any session with the same ID.
func (st *Store) Put(ctx context.Context, s *Session) error {
	if s.ID == "" {
		return bench.Configurationf("history.Put", "session id is required")
	}
	return st.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := bstore.SetJSON(txn, sessionKey(s.ID), s); err != nil {
			return err
		}
		return txn.Set(timeKey(s), []byte(s.ID))
	})
}

// Get returns the session with id. A unique ID prefix is accepted.
//
// Outputs:
//   - error: ErrNotFound when nothing matches, ErrConfiguration when a
//     prefix matches several sessions.
func (st *Store) Get(ctx context.Context, id string) (*Session, error) {
	var out Session
	err := st.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		err := bstore.GetJSON(txn, sessionKey(id), &out)
		if !errors.Is(err, bstore.ErrKeyNotFound) {
			return err
		}
		keys := bstore.KeysWithPrefix(txn, sessionKey(id), false, 2)
		switch len(keys) {
		case 0:
			return &bench.Error{Kind: bench.ErrNotFound, Op: "history.Get", Message: fmt.Sprintf("no session %q", id)}
		case 1:
			return bstore.GetJSON(txn, keys[0], &out)
		default:
			return bench.Configurationf("history.Get", "session prefix %q is ambiguous", id)
		}
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns up to limit sessions, newest first. Zero or less lists all.
func (st *Store) List(ctx context.Context, limit int) ([]*Session, error) {
	var out []*Session
	err := st.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		for _, k := range bstore.KeysWithPrefix(txn, []byte(timePrefix), true, limit) {
			id := k[strings.LastIndexByte(string(k), '/')+1:]
			var s Session
			if err := bstore.GetJSON(txn, sessionKey(string(id)), &s); err != nil {
				return err
			}
			out = append(out, &s)
		}
		return nil
	})
	return out, err
}

// Latest returns the newest session, optionally skipping one ID.
//
// Outputs:
//   - error: ErrNotFound when no other session exists.
func (st *Store) Latest(ctx context.Context, excludeID string) (*Session, error) {
	sessions, err := st.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if s.ID != excludeID {
			return s, nil
		}
	}
	return nil, &bench.Error{Kind: bench.ErrNotFound, Op: "history.Latest", Message: "no stored sessions"}
}
