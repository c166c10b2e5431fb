// Package loopback provides a processor that returns a copy of its input.
// It is always registered and is useful for end-to-end checks of the
// dispatch path.
package loopback

import (
	"context"
	"image"
	"image/draw"

	"github.com/L1ghtError/LimbWorker/processor"
)

// Name is the module name reported in capabilities.
const Name = "loopback"

// Module is the loopback processor module.
type Module struct{}

// New returns the module.
func New() processor.Module { return Module{} }

// Name implements processor.Module.
func (Module) Name() string { return Name }

// AllocateContainer implements processor.Module.
func (Module) AllocateContainer() (processor.Container, error) {
	return &Container{}, nil
}

// DeallocateContainer implements processor.Module.
func (Module) DeallocateContainer(c processor.Container) { c.Deinit() }

// Container hands out a fresh handle on every acquire once initialized.
type Container struct {
	processor.Lifecycle
}

// Init implements processor.Container.
func (c *Container) Init(context.Context) error { return c.Begin() }

// Deinit implements processor.Container.
func (c *Container) Deinit() { c.End() }

// TryAcquire implements processor.Container.
func (c *Container) TryAcquire() processor.Handle {
	if !c.Ready() {
		return nil
	}
	return handle{}
}

// Reclaim implements processor.Container.
func (c *Container) Reclaim(processor.Handle) {}

type handle struct{}

func (handle) Process(_ context.Context, img image.Image, progress processor.ProgressFunc) (image.Image, error) {
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	if progress != nil {
		progress(1)
	}
	return out, nil
}
