// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging builds the slog.Logger the cmd/ binaries run with:
// text on stderr always, plus a dated JSON log file when a log
// directory is configured, with a component label stamped on every
// record. Library packages keep calling log/slog directly; this package
// owns construction, teardown, and the slog.Attr helpers for this
// repo's identifier types.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/deltasync/ids"
)

// Component names the binary or subsystem a log record came from. It is
// attached to every record as the "service" attribute so aggregated
// logs can be filtered by origin.
type Component string

const (
	ComponentServer  Component = "deltasync-server"
	ComponentClient  Component = "deltasync-client"
	ComponentHistory Component = "history"
)

// ClientAttr renders a connection's client id the way the transport and
// dispatcher key their per-connection log lines.
func ClientAttr(id ids.ClientID) slog.Attr {
	return slog.Uint64("clientId", uint64(id))
}

// ModelAttr renders a model snapshot id.
func ModelAttr(id ids.ModelID) slog.Attr {
	return slog.Uint64("modelId", uint64(id))
}

// DeltaAttr renders a delta id in its canonical string form.
func DeltaAttr(id ids.DeltaID) slog.Attr {
	return slog.String("deltaId", id.String())
}

// ParseLevel maps a config-file level name to a slog.Level,
// case-insensitively. Unknown names fall back to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config describes a Logger.
type Config struct {
	// Level is the minimum level kept; records below it are dropped.
	Level slog.Level

	// Component is stamped on every record as the "service" attribute.
	Component Component

	// LogDir, when non-empty, additionally writes every record as JSON
	// to {component}_{YYYY-MM-DD}.log inside it, creating the directory
	// if needed. A leading ~ expands to the user's home directory.
	LogDir string
}

// Logger owns the handler chain built from a Config and the log file,
// if one was opened. Call Close on shutdown to flush and release it.
type Logger struct {
	slog *slog.Logger
	file *os.File
}

// New builds a Logger from cfg. It fails only when cfg.LogDir is set
// and the directory or file cannot be created.
func New(cfg Config) (*Logger, error) {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)

	l := &Logger{}
	if cfg.LogDir != "" {
		dir := expandHome(cfg.LogDir)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("logging: creating log dir: %w", err)
		}
		name := string(cfg.Component)
		if name == "" {
			name = "deltasync"
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.log", name, time.Now().Format("2006-01-02")))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("logging: opening log file: %w", err)
		}
		l.file = f
		handler = tee{handler, slog.NewJSONHandler(f, opts)}
	}

	if cfg.Component != "" {
		handler = handler.WithAttrs([]slog.Attr{
			slog.String("service", string(cfg.Component)),
		})
	}
	l.slog = slog.New(handler)
	return l, nil
}

// ForComponent is the stderr-only common case for binaries with no log
// directory configured; it cannot fail.
func ForComponent(c Component, level slog.Level) *Logger {
	l, _ := New(Config{Level: level, Component: c})
	return l
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close syncs and closes the log file, if one was opened.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return fmt.Errorf("logging: syncing log file: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("logging: closing log file: %w", err)
	}
	return nil
}

// tee forwards each record to both handlers: the stderr text handler
// and the JSON file handler.
type tee struct {
	a, b slog.Handler
}

func (t tee) Enabled(ctx context.Context, level slog.Level) bool {
	return t.a.Enabled(ctx, level) || t.b.Enabled(ctx, level)
}

func (t tee) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	if t.a.Enabled(ctx, r.Level) {
		firstErr = t.a.Handle(ctx, r.Clone())
	}
	if t.b.Enabled(ctx, r.Level) {
		if err := t.b.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t tee) WithAttrs(attrs []slog.Attr) slog.Handler {
	return tee{t.a.WithAttrs(attrs), t.b.WithAttrs(attrs)}
}

func (t tee) WithGroup(name string) slog.Handler {
	return tee{t.a.WithGroup(name), t.b.WithGroup(name)}
}

// expandHome expands a leading ~ to the user's home directory, leaving
// every other path untouched.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
