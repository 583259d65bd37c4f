// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"Warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LevelDebug.toSlogLevel())
	assert.Equal(t, slog.LevelWarn, LevelWarn.toSlogLevel())
	assert.Equal(t, slog.LevelInfo, Level(42).toSlogLevel())
}

func TestNew_ConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf, Service: "matbench"})

	l.Info("kernel finished", "kernel", "slow", "size", 64)
	l.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "kernel finished")
	assert.Contains(t, out, "kernel=slow")
	assert.Contains(t, out, "service=matbench")
	assert.NotContains(t, out, "hidden")
}

func TestNew_JSONConsole(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf, JSON: true, Level: LevelWarn})
	l.Info("dropped")
	l.Warn("skipped lines", "count", 2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "skipped lines", entry["msg"])
	assert.Equal(t, float64(2), entry["count"])
}

func TestNew_LogDir(t *testing.T) {
	var console bytes.Buffer
	dir := filepath.Join(t.TempDir(), "logs")
	l := New(Config{Output: &console, LogDir: dir, Service: "bench"})

	l.Error("process failed", "size", 128)
	require.NoError(t, l.Close())

	require.NotEmpty(t, l.FilePath())
	assert.True(t, strings.HasPrefix(filepath.Base(l.FilePath()), "bench_"))
	data, err := os.ReadFile(l.FilePath())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"process failed"`)
	assert.Contains(t, console.String(), "process failed")
}

func TestNew_QuietWithLogDir(t *testing.T) {
	var console bytes.Buffer
	l := New(Config{Output: &console, LogDir: t.TempDir(), Quiet: true})
	l.Info("to file only")
	require.NoError(t, l.Close())

	assert.Empty(t, console.String())
	data, err := os.ReadFile(l.FilePath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file only")
	assert.Contains(t, filepath.Base(l.FilePath()), "matbench_")
}

func TestNew_QuietWithoutLogDirFallsBack(t *testing.T) {
	var console bytes.Buffer
	l := New(Config{Output: &console, Quiet: true})
	l.Info("kept")
	assert.Contains(t, console.String(), "kept")
}

func TestNew_UnwritableLogDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	var console bytes.Buffer
	l := New(Config{Output: &console, LogDir: filepath.Join(blocker, "logs")})
	assert.Empty(t, l.FilePath())
	l.Info("still logs")
	assert.Contains(t, console.String(), "still logs")
	assert.NoError(t, l.Close())
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf})
	child := l.With("session", "abc123")

	child.Info("started")
	l.Info("parent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "session=abc123")
	assert.NotContains(t, lines[1], "session=")
}

func TestLogger_Slog(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf})
	l.Slog().Info("via slog", slog.Int("n", 3))
	assert.Contains(t, buf.String(), "n=3")
}

func TestLogger_CloseTwice(t *testing.T) {
	l := New(Config{Output: &bytes.Buffer{}, LogDir: t.TempDir()})
	require.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("nowhere")
	assert.NoError(t, l.Close())
}

func TestLogger_ConcurrentUse(t *testing.T) {
	l := New(Config{Output: &syncBuffer{}, LogDir: t.TempDir()})
	defer l.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Info("tick", "worker", i, "j", j)
			}
		}(i)
	}
	wg.Wait()
}

type failingHandler struct{}

func (failingHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("disk full") }
func (h failingHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h failingHandler) WithGroup(string) slog.Handler           { return h }

func TestMultiHandler(t *testing.T) {
	var a, b bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	}}
	logger := slog.New(h).With("k", "v").WithGroup("g")

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))
	logger.Info("only a", "x", 1)

	assert.Contains(t, a.String(), "only a")
	assert.Contains(t, a.String(), "k=v")
	assert.Contains(t, a.String(), "g.x=1")
	assert.Empty(t, b.String())

	failing := &multiHandler{handlers: []slog.Handler{failingHandler{}, slog.NewTextHandler(&b, nil)}}
	err := failing.Handle(context.Background(), slog.NewRecord(time.Time{}, slog.LevelInfo, "m", 0))
	assert.ErrorContains(t, err, "disk full")
	assert.Contains(t, b.String(), "m")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".matbench/logs"), expandPath("~/.matbench/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.Equal(t, "rel/dir", expandPath("rel/dir"))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}
