// Package grayscale provides a processor that converts images to 8-bit
// luminance, reporting progress as rows complete.
package grayscale

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"runtime"

	"github.com/L1ghtError/LimbWorker/errors"
	"github.com/L1ghtError/LimbWorker/processor"
)

// Name is the module name reported in capabilities.
const Name = "grayscale"

// progressSteps is how many progress reports a full image produces.
const progressSteps = 10

// Module is the grayscale processor module.
type Module struct {
	slots int
}

// New returns a module whose containers allow slots concurrent handles.
// Zero means runtime.NumCPU().
func New(slots int) processor.Module {
	if slots <= 0 {
		slots = runtime.NumCPU()
	}
	return &Module{slots: slots}
}

// Name implements processor.Module.
func (m *Module) Name() string { return Name }

// AllocateContainer implements processor.Module.
func (m *Module) AllocateContainer() (processor.Container, error) {
	return &Container{slots: m.slots}, nil
}

// DeallocateContainer implements processor.Module.
func (m *Module) DeallocateContainer(c processor.Container) { c.Deinit() }

// Container bounds concurrent conversions.
type Container struct {
	processor.Lifecycle
	slots int
	pool  *processor.Pool
}

// Init implements processor.Container.
func (c *Container) Init(context.Context) error {
	if err := c.Begin(); err != nil {
		return err
	}
	c.pool = processor.NewPool(c.slots)
	return nil
}

// Deinit implements processor.Container.
func (c *Container) Deinit() { c.End() }

// TryAcquire implements processor.Container.
func (c *Container) TryAcquire() processor.Handle {
	if !c.Ready() || !c.pool.TryAcquire() {
		return nil
	}
	return &handle{}
}

// Reclaim implements processor.Container.
func (c *Container) Reclaim(h processor.Handle) {
	if h != nil && c.pool != nil {
		c.pool.Release()
	}
}

type handle struct{}

func (*handle) Process(ctx context.Context, img image.Image, progress processor.ProgressFunc) (image.Image, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("empty image: %w", errors.ErrInvalidInput)
	}
	out := image.NewGray(b)
	rows := b.Dy()
	step := rows / progressSteps
	if step < 1 {
		step = 1
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
		done := y - b.Min.Y + 1
		if done%step != 0 && done != rows {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("grayscale interrupted at row %d: %v: %w", done, err, errors.ErrAborted)
		}
		if progress != nil {
			progress(float32(done) / float32(rows))
		}
	}
	return out, nil
}
