// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders human-facing terminal output.
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	// Primary palette (brightest to darkest)
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // headers
	ColorTealDeep    = lipgloss.Color("#16858E") // borders
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text

	// Semantic colors
	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles holds the shared lipgloss styles.
var Styles = struct {
	Title    lipgloss.Style
	Header   lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Header:  lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary),
	Bold:    lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
)

// Mode selects how a Printer renders.
type Mode int

const (
	// ModePlain writes unstyled text with icons.
	ModePlain Mode = iota

	// ModeStyled adds colors and boxes.
	ModeStyled

	// ModeMachine writes "LEVEL: text" lines without icons.
	ModeMachine
)

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectMode returns ModeStyled for terminals and ModePlain otherwise.
func DetectMode(w io.Writer) Mode {
	if IsTerminal(w) {
		return ModeStyled
	}
	return ModePlain
}

// Printer writes status lines in one Mode.
type Printer struct {
	W    io.Writer
	Mode Mode
}

// NewPrinter creates a Printer for w in the mode suited to it.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{W: w, Mode: DetectMode(w)}
}

// Styled reports whether lipgloss styling is applied.
func (p *Printer) Styled() bool {
	return p.Mode == ModeStyled
}

// Render applies style when styled and returns text unchanged otherwise.
func (p *Printer) Render(style lipgloss.Style, text string) string {
	if !p.Styled() {
		return text
	}
	return style.Render(text)
}

// Title prints a heading. Machine mode omits it.
func (p *Printer) Title(text string) {
	if p.Mode == ModeMachine {
		return
	}
	fmt.Fprintln(p.W, p.Render(Styles.Title, text))
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	p.status("OK", IconSuccess, Styles.Success, text)
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	p.status("WARN", IconWarning, Styles.Warning, text)
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	p.status("ERROR", IconError, Styles.Error, text)
}

// Info prints a plain line.
func (p *Printer) Info(text string) {
	fmt.Fprintln(p.W, text)
}

func (p *Printer) status(level string, icon Icon, style lipgloss.Style, text string) {
	switch p.Mode {
	case ModeMachine:
		fmt.Fprintf(p.W, "%s: %s\n", level, text)
	case ModeStyled:
		fmt.Fprintf(p.W, "%s %s\n", style.Render(string(icon)), style.Render(text))
	default:
		fmt.Fprintf(p.W, "%s %s\n", icon, text)
	}
}

// Box prints content under a title, boxed when styled.
func (p *Printer) Box(title, content string) {
	if !p.Styled() {
		fmt.Fprintf(p.W, "%s\n%s\n", title, content)
		return
	}
	fmt.Fprintln(p.W, Styles.Box.Render(Styles.Title.Render(title)+"\n"+content))
}

// ErrorBox prints an error under a title, boxed when styled.
func (p *Printer) ErrorBox(title, content string) {
	if !p.Styled() {
		fmt.Fprintf(p.W, "%s: %s\n", title, content)
		return
	}
	fmt.Fprintln(p.W, Styles.ErrorBox.Render(Styles.Error.Bold(true).Render(title)+"\n"+content))
}
