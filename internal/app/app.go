package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/mckenziephagen/mindboggle/internal/ctxlog"
	"github.com/mckenziephagen/mindboggle/internal/manifest"
	"github.com/mckenziephagen/mindboggle/internal/refcache"
	"github.com/mckenziephagen/mindboggle/internal/registry"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW      io.Writer
	logger    *slog.Logger
	registry  *registry.Registry
	model     *manifest.Model
	converter *manifest.Converter
	cache     *refcache.Cache
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger, reference
// cache, and registry. Startup failures here are installation or programmer
// errors, so it panics rather than returning them.
func NewApp(outW io.Writer, cfg *Config, loader *manifest.Loader, modules ...registry.Module) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	cacheRoot := refcache.ResolveRoot(cfg.CacheEnvVar, cfg.CacheRoot)
	cache, err := refcache.Open(cacheRoot)
	if err != nil {
		panic(fmt.Errorf("failed to open reference cache: %w", err))
	}
	logger.Debug("Reference cache opened.", "root", cache.Root())

	// Load all manifests into the format-agnostic model first.
	model, err := loader.Load(ctx, cfg.ManifestPaths...)
	if err != nil {
		panic(fmt.Errorf("failed to load tool manifests: %w", err))
	}
	logger.Debug("Manifests loaded and translated into unified model.",
		"tools", len(model.Tools), "transforms", len(model.Transforms))

	// Create and populate the registry with Go handlers.
	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules(cache)
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All Go modules registered.", "count", len(modules))

	if err := reg.Validate(ctx, model); err != nil {
		// A mismatch between manifests and code is a programmer error.
		panic(err)
	}
	logger.Debug("Registry validation passed.")

	return &App{
		outW:      outW,
		logger:    logger,
		registry:  reg,
		model:     model,
		converter: manifest.NewConverter(),
		cache:     cache,
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Cache returns the application's reference cache.
func (a *App) Cache() *refcache.Cache {
	return a.cache
}
