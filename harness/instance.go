// Package harness manages filesystem instance lifecycles for callers and tests.
package harness

import (
	"context"
	"log/slog"
	"testing"

	"github.com/brettbedarf/ephemfs/config"
	"github.com/brettbedarf/ephemfs/filesystem"
	"github.com/brettbedarf/ephemfs/internal/util"
	"github.com/brettbedarf/ephemfs/requests"
	"github.com/brettbedarf/ephemfs/sources"
)

// Instance is an isolated filesystem with its config and source registry.
// Instances share nothing; any number may coexist.
type Instance struct {
	*filesystem.FileSystem
	cfg      *config.Config
	registry *sources.Registry
}

// NewInstance creates an instance given your config. A nil config uses the
// defaults. Built-in content sources are registered.
func NewInstance(cfg *config.Config) (*Instance, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	fs, err := filesystem.NewFS(cfg)
	if err != nil {
		return nil, err
	}
	reg := sources.NewRegistry()
	sources.RegisterBuiltins(reg)

	logger := util.GetLogger("harness.NewInstance")
	logger.Debug().Str("name", cfg.Name).Str("wd", cfg.WorkingDir).Msg("Instance created")
	return &Instance{FileSystem: fs, cfg: cfg, registry: reg}, nil
}

// Dispose releases inst. A nil instance is ignored.
func Dispose(inst *Instance) {
	if inst == nil {
		return
	}
	inst.Dispose()
}

// ForTest creates an instance disposed automatically when tb finishes.
// Overrides are merged onto the defaults in order.
func ForTest(tb testing.TB, overrides ...*config.ConfigOverride) *Instance {
	tb.Helper()
	cfg := config.NewDefaultConfig()
	for _, o := range overrides {
		if o != nil {
			cfg.Merge(o)
		}
	}
	inst, err := NewInstance(cfg)
	if err != nil {
		tb.Fatalf("create filesystem instance: %v", err)
	}
	tb.Cleanup(func() { Dispose(inst) })
	return inst
}

func (inst *Instance) Config() *config.Config {
	return inst.cfg
}

// Registry returns the content source registry used by Seed
func (inst *Instance) Registry() *sources.Registry {
	return inst.registry
}

// Seed loads a node definition file and applies it
func (inst *Instance) Seed(ctx context.Context, path string) (dirs, files int, err error) {
	nodes, err := requests.LoadNodesFile(path, inst.registry)
	if nodes == nil {
		return 0, 0, err
	}
	dirs, files, applyErr := requests.Apply(ctx, inst.FileSystem, nodes)
	if err == nil {
		err = applyErr
	}
	return dirs, files, err
}

// Slog returns a log/slog logger routed through the instance's zerolog setup
func (inst *Instance) Slog() *slog.Logger {
	return util.NewSlogLogger(inst.cfg.Name, inst.cfg.LogLvl)
}
