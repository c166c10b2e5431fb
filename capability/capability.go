// Package capability tracks which processors this worker can serve and
// renders the snapshot clients receive from GetAppInfo.
package capability

import (
	"encoding/json"
	"runtime"
	"sort"
	"sync"

	"github.com/L1ghtError/LimbWorker/errors"
)

// Entry is one available processor. Index is the model id clients send.
type Entry struct {
	Index int    `json:"i"`
	Name  string `json:"name"`
}

// Snapshot is a point-in-time copy of the registry.
type Snapshot struct {
	CPUThreads int     `json:"cpuThds"`
	Processors []Entry `json:"imgProc"`
}

// JSON encodes the snapshot in the wire format.
func (s Snapshot) JSON() ([]byte, error) {
	if s.Processors == nil {
		s.Processors = []Entry{}
	}
	return json.Marshal(s)
}

// Registry holds the processors that initialized successfully.
type Registry struct {
	mu      sync.RWMutex
	entries map[int]string
	threads int
}

// NewRegistry creates an empty registry reporting runtime.NumCPU threads.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[int]string),
		threads: runtime.NumCPU(),
	}
}

// Add records processor index under name.
func (r *Registry) Add(index int, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[index]; ok {
		return errors.Newf(errors.KindAlreadyExists, "capability %d", index)
	}
	r.entries[index] = name
	return nil
}

// Remove forgets processor index.
func (r *Registry) Remove(index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[index]; !ok {
		return errors.Newf(errors.KindNotFound, "capability %d", index)
	}
	delete(r.entries, index)
	return nil
}

// Has reports whether index is available.
func (r *Registry) Has(index int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[index]
	return ok
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Clear removes every entry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.entries)
}

// Snapshot returns a copy sorted by index.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	s := Snapshot{
		CPUThreads: r.threads,
		Processors: make([]Entry, 0, len(r.entries)),
	}
	for i, name := range r.entries {
		s.Processors = append(s.Processors, Entry{Index: i, Name: name})
	}
	r.mu.RUnlock()

	sort.Slice(s.Processors, func(a, b int) bool {
		return s.Processors[a].Index < s.Processors[b].Index
	})
	return s
}
