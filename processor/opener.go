package processor

import (
	"fmt"
	"plugin"

	"github.com/L1ghtError/LimbWorker/errors"
)

// Opener performs the full load of a probed library and returns its module.
type Opener interface {
	Open(probe Probe) (Module, error)
}

// PluginOpener loads Go plugins built with -buildmode=plugin.
type PluginOpener struct{}

// Open implements Opener. The entry symbol may be declared as a func or as
// a package-level variable holding one.
func (PluginOpener) Open(probe Probe) (Module, error) {
	p, err := plugin.Open(probe.Path)
	if err != nil {
		return nil, fmt.Errorf("open plugin %s: %v: %w", probe.Path, err, errors.ErrAborted)
	}
	sym, err := p.Lookup(probe.Entry)
	if err != nil {
		return nil, fmt.Errorf("lookup %s in %s: %w", probe.Entry, probe.Path, errors.ErrNotFound)
	}

	var factory Factory
	switch f := sym.(type) {
	case func() Module:
		factory = f
	case *func() Module:
		factory = *f
	case Factory:
		factory = f
	case *Factory:
		factory = *f
	default:
		return nil, fmt.Errorf("%s in %s has type %T: %w", probe.Entry, probe.Path, sym, errors.ErrInvalidInput)
	}

	module := factory()
	if module == nil {
		return nil, fmt.Errorf("%s in %s returned no module: %w", probe.Entry, probe.Path, errors.ErrUninitialized)
	}
	return module, nil
}
