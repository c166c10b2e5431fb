package dispatch

import (
	"sync"

	"github.com/L1ghtError/LimbWorker/processor"
)

// ContainerSource resolves a model id to its initialized container.
type ContainerSource interface {
	Container(modelID uint32) (processor.Container, bool)
}

// Backends maps model ids to initialized containers. Model ids are the
// capability indices advertised by GetAppInfo.
type Backends struct {
	mu         sync.RWMutex
	containers map[uint32]processor.Container
}

// NewBackends creates an empty set.
func NewBackends() *Backends {
	return &Backends{containers: make(map[uint32]processor.Container)}
}

// Set makes c serve modelID.
func (b *Backends) Set(modelID uint32, c processor.Container) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.containers[modelID] = c
}

// Remove stops serving modelID and returns the container that served it.
func (b *Backends) Remove(modelID uint32) (processor.Container, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.containers[modelID]
	delete(b.containers, modelID)
	return c, ok
}

// Container implements ContainerSource.
func (b *Backends) Container(modelID uint32) (processor.Container, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.containers[modelID]
	return c, ok
}

// Len returns the number of served models.
func (b *Backends) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.containers)
}
