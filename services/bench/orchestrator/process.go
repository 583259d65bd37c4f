// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Command describes one child process.
type Command struct {
	// Path is the executable.
	Path string

	// Args are the positional arguments, not including Path.
	Args []string

	// Dir is the working directory. Empty means the harness's own.
	Dir string

	// Stdout and Stderr receive the child's output. Nil means the harness's
	// own streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Argv returns Path followed by Args.
func (c Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

// String renders the command as it would be typed.
func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}

// ProcessManager runs child processes.
//
// Every kernel and build invocation goes through this interface so tests can
// assert on commands without spawning anything.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ProcessManager interface {
	// Run executes cmd and waits for it to exit.
	//
	// # Outputs
	//
	//   - error: nil on exit status 0. Otherwise the launch error or the
	//     *exec.ExitError, with the tail of stderr when available.
	Run(ctx context.Context, cmd Command) error
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// stderrTail bounds how much child stderr is kept for error messages.
const stderrTail = 2048

// DefaultProcessManager implements ProcessManager using os/exec.
//
// Child output is streamed to the configured writers as it is produced.
type DefaultProcessManager struct{}

// NewDefaultProcessManager creates a new DefaultProcessManager.
func NewDefaultProcessManager() *DefaultProcessManager {
	return &DefaultProcessManager{}
}

// Run executes cmd synchronously.
func (pm *DefaultProcessManager) Run(ctx context.Context, cmd Command) error {
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir

	c.Stdout = cmd.Stdout
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	stderr := cmd.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	tail := &tailBuffer{limit: stderrTail}
	c.Stderr = io.MultiWriter(stderr, tail)

	if err := c.Run(); err != nil {
		if msg := strings.TrimSpace(tail.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}

// -----------------------------------------------------------------------------
// Mock
// -----------------------------------------------------------------------------

// MockProcessManager records commands and delegates to RunFunc.
//
// # Examples
//
//	mock := &MockProcessManager{
//	    RunFunc: func(ctx context.Context, cmd Command) error {
//	        return nil
//	    },
//	}
type MockProcessManager struct {
	// RunFunc is called when Run is invoked. Nil means success.
	RunFunc func(ctx context.Context, cmd Command) error

	// Calls records all invocations for verification.
	Calls []Command

	mu sync.Mutex
}

// Run records cmd and delegates to RunFunc.
func (m *MockProcessManager) Run(ctx context.Context, cmd Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, cmd)
	if m.RunFunc == nil {
		return nil
	}
	return m.RunFunc(ctx, cmd)
}

// GetCalls returns a copy of all recorded calls.
func (m *MockProcessManager) GetCalls() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Command, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// Compile-time interface compliance check.
var (
	_ ProcessManager = (*DefaultProcessManager)(nil)
	_ ProcessManager = (*MockProcessManager)(nil)
)
