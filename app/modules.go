package app

import (
	"context"
	"fmt"

	"github.com/L1ghtError/LimbWorker/errors"
	"github.com/L1ghtError/LimbWorker/processor"
	"github.com/L1ghtError/LimbWorker/processor/grayscale"
	"github.com/L1ghtError/LimbWorker/processor/loopback"
)

// builtinModule constructs a statically linked module by name.
func builtinModule(name string, grayscaleSlots int) (processor.Module, error) {
	switch name {
	case loopback.Name:
		return loopback.New(), nil
	case grayscale.Name:
		return grayscale.New(grayscaleSlots), nil
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "app", "builtinModule", "unknown builtin "+name)
	}
}

// loadModules registers builtins first so their indices are stable, then
// scans the plugin directories.
func (a *App) loadModules(ctx context.Context) error {
	for _, name := range a.cfg.Modules.Builtin {
		m, err := builtinModule(name, a.cfg.Modules.GrayscaleSlots)
		if err != nil {
			return err
		}
		if _, err := a.processors.Register(m); err != nil {
			return fmt.Errorf("register builtin %s: %w", name, err)
		}
	}
	for _, m := range a.extraModules {
		if _, err := a.processors.Register(m); err != nil {
			return fmt.Errorf("register module %s: %w", m.Name(), err)
		}
	}

	loaded, err := a.processors.Scan(ctx, a.cfg.Modules.ScanDirs)
	if err != nil {
		return fmt.Errorf("scan module directories: %w", err)
	}
	a.logger.Info("Processor modules registered",
		"builtin", len(a.cfg.Modules.Builtin)+len(a.extraModules),
		"dynamic", loaded,
		"total", a.processors.ProcessorCount())
	return nil
}

// initBackends allocates and initializes one container per module. A module
// whose container fails is logged and left out of the capabilities; the
// others continue.
func (a *App) initBackends(ctx context.Context) error {
	for _, info := range a.processors.Modules() {
		if err := ctx.Err(); err != nil {
			return err
		}

		ref, err := a.processors.AllocateContainer(info.Index)
		if err != nil {
			a.logger.Warn("Processor container allocation failed",
				"processor", info.Name, "index", info.Index, "error", err)
			continue
		}
		if err := ref.Container.Init(ctx); err != nil {
			kind, _ := errors.KindOf(err)
			a.logger.Warn("Processor container init failed",
				"processor", info.Name, "index", info.Index,
				"kind", kind.String(), "error", err)
			a.processors.DestroyContainer(ref.ID)
			continue
		}

		a.backends.Set(uint32(info.Index), ref.Container)
		if err := a.caps.Add(info.Index, info.Name); err != nil {
			return err
		}
		a.logger.Info("Processor available", "processor", info.Name, "index", info.Index)
	}

	a.metrics.CoreMetrics().Processors.Set(float64(a.backends.Len()))
	if a.backends.Len() == 0 {
		if a.cfg.Modules.RequireAny {
			return errors.WrapFatal(errors.Newf(errors.KindUninitialized, "no processor initialized"),
				"app", "initBackends", "processor startup")
		}
		a.logger.Warn("No processors available, ProcessImage requests will fail")
	}
	return nil
}
