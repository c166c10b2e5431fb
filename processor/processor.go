package processor

import (
	"context"
	"image"
)

const (
	// ABIVersion is the module interface version. A manifest whose major
	// component differs is rejected during the probe.
	ABIVersion = "1.0"

	// EntrySymbol is the exported factory every dynamic module provides.
	EntrySymbol = "GetProcessorModule"
)

// ProgressFunc receives execution progress in the range (0, 1].
type ProgressFunc func(progress float32)

// Handle runs one image through a backend. A handle is owned exclusively by
// its caller between TryAcquire and Reclaim.
type Handle interface {
	Process(ctx context.Context, img image.Image, progress ProgressFunc) (image.Image, error)
}

// Container hands out a bounded number of handles for one module.
type Container interface {
	// Init prepares backend resources. It may fail with a typed error.
	Init(ctx context.Context) error
	// Deinit releases backend resources. Calling it twice is safe.
	Deinit()
	// TryAcquire returns nil when every handle is in use.
	TryAcquire() Handle
	Reclaim(h Handle)
}

// Module is what a plugin exports through its GetProcessorModule factory.
// Modules that also implement io.Closer are closed when unloaded.
type Module interface {
	Name() string
	AllocateContainer() (Container, error)
	DeallocateContainer(c Container)
}

// Factory is the type of the exported entry symbol.
type Factory func() Module
