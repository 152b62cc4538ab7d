// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the engine configuration model and its loading chain.
//
// Why three layers?
//
// Defaults make a bare `framegridgo scripts/` invocation work; the HCL file
// is where a project pins its frame rate, worker count and script location;
// environment variables let a deployment override single knobs without
// editing the file. Later layers win, and the CLI (applied by the app, not
// here) wins over all of them.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/framegridgo/internal/ctxlog"
)

// Model is the resolved engine configuration.
type Model struct {
	// FPS is the target frame rate driving the fixed-cadence clock.
	FPS uint
	// Workers bounds the script task worker pool.
	Workers int
	// ScriptsPath is the directory searched for .lua scripts.
	ScriptsPath string
	// MaxFrames stops the loop after this many frames; 0 runs until the
	// context is cancelled.
	MaxFrames uint64
	// UpdateTimeout bounds the per-cycle barrier wait.
	UpdateTimeout time.Duration
	LogLevel      string
	LogFormat     string
}

// Default returns the baseline configuration.
func Default() *Model {
	return &Model{
		FPS:           60,
		Workers:       4,
		ScriptsPath:   "scripts",
		MaxFrames:     0,
		UpdateTimeout: time.Second,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// hclFile is the top-level structure of an engine config file.
type hclFile struct {
	Engine *hclEngine `hcl:"engine,block"`
}

// hclEngine mirrors the `engine` block. Every attribute is optional;
// absent attributes keep their previous value in the chain.
type hclEngine struct {
	FPS             *uint   `hcl:"fps,optional"`
	Workers         *int    `hcl:"workers,optional"`
	ScriptsPath     *string `hcl:"scripts_path,optional"`
	MaxFrames       *uint64 `hcl:"max_frames,optional"`
	UpdateTimeoutMS *int    `hcl:"update_timeout_ms,optional"`
	LogLevel        *string `hcl:"log_level,optional"`
	LogFormat       *string `hcl:"log_format,optional"`
}

// envOverrides mirrors the environment surface. Pointer fields are only
// set when the variable is present.
type envOverrides struct {
	FPS             *uint   `env:"FRAMEGRID_FPS"`
	Workers         *int    `env:"FRAMEGRID_WORKERS"`
	ScriptsPath     *string `env:"FRAMEGRID_SCRIPTS_PATH"`
	MaxFrames       *uint64 `env:"FRAMEGRID_MAX_FRAMES"`
	UpdateTimeoutMS *int    `env:"FRAMEGRID_UPDATE_TIMEOUT_MS"`
	LogLevel        *string `env:"FRAMEGRID_LOG_LEVEL"`
	LogFormat       *string `env:"FRAMEGRID_LOG_FORMAT"`
}

// Load resolves the configuration chain: defaults, then the HCL file at
// path (skipped when path is empty), then environment overrides.
func Load(ctx context.Context, path string) (*Model, error) {
	logger := ctxlog.FromContext(ctx)
	m := Default()

	if path != "" {
		parser := hclparse.NewParser()
		file, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, diags)
		}
		var parsed hclFile
		if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, diags)
		}
		if parsed.Engine != nil {
			applyEngineBlock(m, parsed.Engine)
		}
		logger.Debug("Config file applied.", "path", path)
	}

	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}
	applyEnv(m, &overrides)

	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func applyEngineBlock(m *Model, b *hclEngine) {
	if b.FPS != nil {
		m.FPS = *b.FPS
	}
	if b.Workers != nil {
		m.Workers = *b.Workers
	}
	if b.ScriptsPath != nil {
		m.ScriptsPath = *b.ScriptsPath
	}
	if b.MaxFrames != nil {
		m.MaxFrames = *b.MaxFrames
	}
	if b.UpdateTimeoutMS != nil {
		m.UpdateTimeout = time.Duration(*b.UpdateTimeoutMS) * time.Millisecond
	}
	if b.LogLevel != nil {
		m.LogLevel = *b.LogLevel
	}
	if b.LogFormat != nil {
		m.LogFormat = *b.LogFormat
	}
}

func applyEnv(m *Model, o *envOverrides) {
	if o.FPS != nil {
		m.FPS = *o.FPS
	}
	if o.Workers != nil {
		m.Workers = *o.Workers
	}
	if o.ScriptsPath != nil {
		m.ScriptsPath = *o.ScriptsPath
	}
	if o.MaxFrames != nil {
		m.MaxFrames = *o.MaxFrames
	}
	if o.UpdateTimeoutMS != nil {
		m.UpdateTimeout = time.Duration(*o.UpdateTimeoutMS) * time.Millisecond
	}
	if o.LogLevel != nil {
		m.LogLevel = *o.LogLevel
	}
	if o.LogFormat != nil {
		m.LogFormat = *o.LogFormat
	}
}

func (m *Model) validate() error {
	if m.FPS < 1 {
		return fmt.Errorf("fps must be >= 1, got %d", m.FPS)
	}
	if m.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", m.Workers)
	}
	if m.UpdateTimeout <= 0 {
		return fmt.Errorf("update timeout must be positive, got %s", m.UpdateTimeout)
	}
	switch m.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", m.LogLevel)
	}
	switch m.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", m.LogFormat)
	}
	return nil
}
