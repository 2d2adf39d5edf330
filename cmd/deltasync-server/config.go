// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

// Config is the server's config.yaml shape, loaded by PersistentPreRun
// before any subcommand runs.
type Config struct {
	// ListenAddr is the address the HTTP/WebSocket server binds.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`

	// LogDir, when set, additionally writes logs as JSON to a dated
	// file in this directory (a leading ~ expands to the home
	// directory). Empty leaves file logging disabled.
	LogDir string `yaml:"log_dir"`

	// History configures the optional badger audit log. A zero value
	// leaves history recording disabled.
	History HistoryConfig `yaml:"history"`

	// Tracing configures the stdout span exporter.
	Tracing TracingConfig `yaml:"tracing"`
}

// HistoryConfig controls the history.Recorder wired into the store.
type HistoryConfig struct {
	// Enabled turns the audit log on.
	Enabled bool `yaml:"enabled"`

	// Path is the BadgerDB directory. Required when Enabled is true.
	Path string `yaml:"path"`
}

// TracingConfig controls the otel tracer provider.
type TracingConfig struct {
	// Enabled turns on the stdout span exporter. Spans are always
	// created (the handler always calls otel.Tracer(...).Start); this
	// only controls whether they're ever exported anywhere.
	Enabled bool `yaml:"enabled"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
	}
}
