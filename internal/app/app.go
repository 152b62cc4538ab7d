// Package app wires the engine together: configuration, logging, the
// module registry, the script engine, and the frame loop that interleaves
// rendering with parallel script update cycles.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/framegridgo/internal/cli"
	"github.com/vk/framegridgo/internal/config"
	"github.com/vk/framegridgo/internal/ctxlog"
	"github.com/vk/framegridgo/internal/dag"
	"github.com/vk/framegridgo/internal/fsutil"
	"github.com/vk/framegridgo/internal/registry"
	"github.com/vk/framegridgo/internal/scheduler"
	"github.com/vk/framegridgo/internal/script"
)

// App encapsulates the engine's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	cfg      *config.Model
	reg      *registry.Registry
	engine   *script.Engine
	sched    *scheduler.Scheduler
	renderer Renderer
}

// NewApp builds a fully initialized engine: config chain resolved, scripts
// loaded (registering their modules), dependency structure diagnosed, and
// the scheduler ready to dispatch.
func NewApp(ctx context.Context, outW io.Writer, opts *cli.Options) (*App, error) {
	// A minimal logger covers config loading; the real one follows the
	// resolved config.
	bootCtx := ctxlog.WithLogger(ctx, newLogger("info", "text", outW))
	cfg, err := config.Load(bootCtx, opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	applyCLI(cfg, opts)
	if opts.ScriptsPath != "" {
		cfg.ScriptsPath = opts.ScriptsPath
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	reg := registry.New()
	engine := script.NewEngine(ctx, reg)

	files, err := fsutil.FindFilesByExtension(cfg.ScriptsPath, ".lua")
	if err != nil {
		return nil, fmt.Errorf("failed to scan scripts path %s: %w", cfg.ScriptsPath, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .lua scripts found under %s", cfg.ScriptsPath)
	}
	for _, f := range files {
		if err := engine.LoadFile(ctx, f); err != nil {
			return nil, err
		}
	}
	logger.Info("Scripts loaded.", "files", len(files), "modules", reg.Len())

	diagnoseDependencies(ctx, reg)

	sched := scheduler.New(reg, engine,
		scheduler.WithWorkers(cfg.Workers),
		scheduler.WithBarrierTimeout(cfg.UpdateTimeout),
	)

	return &App{
		outW:     outW,
		logger:   logger,
		cfg:      cfg,
		reg:      reg,
		engine:   engine,
		sched:    sched,
		renderer: &logRenderer{every: cfg.FPS},
	}, nil
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.reg
}

// SetRenderer replaces the default renderer. The render pipeline proper is
// outside this engine; anything honoring the Renderer contract can sit on
// the other side of the frame boundary.
func (a *App) SetRenderer(r Renderer) {
	a.renderer = r
}

// applyCLI lays explicitly given flags over the resolved config.
func applyCLI(cfg *config.Model, opts *cli.Options) {
	if opts.FPS != nil {
		cfg.FPS = *opts.FPS
	}
	if opts.Frames != nil {
		cfg.MaxFrames = *opts.Frames
	}
	if opts.Workers != nil {
		cfg.Workers = *opts.Workers
	}
	if opts.LogFormat != nil {
		cfg.LogFormat = *opts.LogFormat
	}
	if opts.LogLevel != nil {
		cfg.LogLevel = *opts.LogLevel
	}
}

// diagnoseDependencies warns about cycles and dangling references in the
// declared dependency structure. Neither is fatal: dependencies are
// snapshot reads, so a cycle only means both modules see each other one
// cycle stale, and a dangling reference resolves to absent.
func diagnoseDependencies(ctx context.Context, reg *registry.Registry) {
	logger := ctxlog.FromContext(ctx)

	edges := make(map[string][]string)
	for id, deps := range reg.DependencyEdges() {
		strDeps := make([]string, len(deps))
		for i, d := range deps {
			strDeps[i] = string(d)
		}
		edges[string(id)] = strDeps
	}

	g, dangling := dag.FromEdges(edges)
	for _, d := range dangling {
		logger.Warn("Dependency declaration does not resolve to a registered module.", "edge", d)
	}
	if err := g.DetectCycles(); err != nil {
		logger.Warn("Dependency structure contains a cycle; members will observe each other one cycle stale.", "detail", err)
	}
}
