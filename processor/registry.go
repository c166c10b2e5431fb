package processor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/L1ghtError/LimbWorker/errors"
)

// LibraryExt is the dynamic library extension scanned for.
const LibraryExt = ".so"

// ContainerID identifies a container in the registry arena.
type ContainerID uint64

// ContainerRef is an allocated, not yet initialized, container.
type ContainerRef struct {
	ID        ContainerID
	Module    int
	Container Container
}

// ModuleInfo describes a registered module.
type ModuleInfo struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Path     string `json:"path,omitempty"`
	Digest   string `json:"digest,omitempty"`
	Builtin  bool   `json:"builtin"`
	Loaded   bool   `json:"loaded"`
	Children int    `json:"containers"`
}

type moduleEntry struct {
	module   Module
	path     string
	digest   string
	live     int
	unloaded bool
}

type containerEntry struct {
	module    int
	container Container
}

// Registry owns every loaded module and every container allocated from one.
// Module indices are stable for the life of the registry.
type Registry struct {
	mu         sync.RWMutex
	modules    []*moduleEntry
	containers map[ContainerID]containerEntry
	nextID     ContainerID
	closed     bool

	prober Prober
	opener Opener
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithProber replaces the ELF prober.
func WithProber(p Prober) Option {
	return func(r *Registry) { r.prober = p }
}

// WithOpener replaces the Go plugin opener.
func WithOpener(o Opener) Option {
	return func(r *Registry) { r.opener = o }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		containers: make(map[ContainerID]containerEntry),
		prober:     ELFProber{},
		opener:     PluginOpener{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "processor-registry")
	return r
}

// Register adds a statically linked module and returns its index.
func (r *Registry) Register(m Module) (int, error) {
	if m == nil {
		return -1, fmt.Errorf("register nil module: %w", errors.ErrInvalidInput)
	}
	return r.add(&moduleEntry{module: m})
}

func (r *Registry) add(e *moduleEntry) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return -1, fmt.Errorf("registry closed: %w", errors.ErrAborted)
	}
	r.modules = append(r.modules, e)
	return len(r.modules) - 1, nil
}

// Scan probes and loads every library found in dirs. A directory that does
// not exist is skipped. Per-library failures are logged and skipped; only
// context cancellation stops the scan. It returns the number of modules
// loaded.
func (r *Registry) Scan(ctx context.Context, dirs []string) (int, error) {
	loaded := 0
	for _, dir := range dirs {
		candidates, err := discover(dir)
		if err != nil {
			if os.IsNotExist(err) {
				r.logger.Debug("Module directory not found", "dir", dir)
			} else {
				r.logger.Warn("Cannot read module directory", "dir", dir, "error", err)
			}
			continue
		}

		for _, path := range candidates {
			if err := ctx.Err(); err != nil {
				return loaded, err
			}
			if r.hasPath(path) {
				continue
			}
			idx, err := r.load(path)
			if err != nil {
				r.logger.Warn("Skipping module", "path", path, "error", err)
				continue
			}
			loaded++
			r.logger.Info("Loaded module", "path", path, "index", idx)
		}
	}
	return loaded, nil
}

func (r *Registry) load(path string) (int, error) {
	probe, err := r.prober.Probe(path)
	if err != nil {
		return -1, fmt.Errorf("probe: %w", err)
	}
	module, err := r.opener.Open(probe)
	if err != nil {
		return -1, fmt.Errorf("load: %w", err)
	}
	return r.add(&moduleEntry{module: module, path: path, digest: probe.Digest})
}

func (r *Registry) hasPath(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.modules {
		if e.path == path {
			return true
		}
	}
	return false
}

// discover lists *.so files in dir and in its immediate sub-directories.
func discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if !e.IsDir() {
			if filepath.Ext(e.Name()) == LibraryExt {
				out = append(out, path)
			}
			continue
		}
		sub, err := os.ReadDir(path)
		if err != nil {
			continue
		}
		for _, s := range sub {
			if !s.IsDir() && filepath.Ext(s.Name()) == LibraryExt {
				out = append(out, filepath.Join(path, s.Name()))
			}
		}
	}
	return out, nil
}

// ProcessorCount returns the number of registered modules, loaded or not.
func (r *Registry) ProcessorCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}

// ProcessorName returns the name of module i.
func (r *Registry) ProcessorName(i int) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.entry(i)
	if err != nil {
		return "", err
	}
	return e.module.Name(), nil
}

func (r *Registry) entry(i int) (*moduleEntry, error) {
	if i < 0 || i >= len(r.modules) {
		return nil, errors.Newf(errors.KindNotFound, "processor %d", i)
	}
	return r.modules[i], nil
}

// Modules lists every registered module in index order.
func (r *Registry) Modules() []ModuleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModuleInfo, 0, len(r.modules))
	for i, e := range r.modules {
		out = append(out, ModuleInfo{
			Index:    i,
			Name:     e.module.Name(),
			Path:     e.path,
			Digest:   e.digest,
			Builtin:  e.path == "",
			Loaded:   !e.unloaded,
			Children: e.live,
		})
	}
	return out
}

// AllocateContainer asks module i for a new container and records it in the
// arena. The container is returned uninitialized.
func (r *Registry) AllocateContainer(i int) (ContainerRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.entry(i)
	if err != nil {
		return ContainerRef{}, err
	}
	if e.unloaded || r.closed {
		return ContainerRef{}, errors.Newf(errors.KindUninitialized, "processor %d is unloaded", i)
	}

	c, err := e.module.AllocateContainer()
	if err != nil {
		return ContainerRef{}, fmt.Errorf("allocate container for %s: %w", e.module.Name(), err)
	}
	if c == nil {
		return ContainerRef{}, errors.Newf(errors.KindOutOfMemory, "processor %s returned no container", e.module.Name())
	}

	r.nextID++
	id := r.nextID
	r.containers[id] = containerEntry{module: i, container: c}
	e.live++
	return ContainerRef{ID: id, Module: i, Container: c}, nil
}

// Container returns the container recorded under id.
func (r *Registry) Container(id ContainerID) (Container, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ce, ok := r.containers[id]
	return ce.container, ok
}

// DestroyContainer deinitializes the container, hands it back to its owning
// module and forgets it. Unknown ids are ignored.
func (r *Registry) DestroyContainer(id ContainerID) {
	r.mu.Lock()
	ce, ok := r.containers[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.containers, id)
	owner := r.modules[ce.module]
	r.mu.Unlock()

	ce.container.Deinit()
	owner.module.DeallocateContainer(ce.container)

	r.mu.Lock()
	owner.live--
	r.mu.Unlock()
}

// LiveContainers returns the number of containers allocated from module i
// that have not been destroyed.
func (r *Registry) LiveContainers(i int) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.modules) {
		return 0
	}
	return r.modules[i].live
}

// Unload releases module i. It fails while any of its containers are alive.
func (r *Registry) Unload(i int) error {
	r.mu.Lock()
	e, err := r.entry(i)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if e.live > 0 {
		r.mu.Unlock()
		return errors.Newf(errors.KindAborted, "processor %s has %d live containers", e.module.Name(), e.live)
	}
	if e.unloaded {
		r.mu.Unlock()
		return nil
	}
	e.unloaded = true
	r.mu.Unlock()

	if closer, ok := e.module.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("close processor %s: %w", e.module.Name(), err)
		}
	}
	r.logger.Debug("Unloaded module", "index", i, "name", e.module.Name())
	return nil
}

// Close destroys every container, newest first, then unloads modules in
// reverse registration order. The first error is returned.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ids := make([]ContainerID, 0, len(r.containers))
	for id := range r.containers {
		ids = append(ids, id)
	}
	count := len(r.modules)
	r.mu.Unlock()

	sort.Slice(ids, func(a, b int) bool { return ids[a] > ids[b] })
	for _, id := range ids {
		r.DestroyContainer(id)
	}

	var first error
	for i := count - 1; i >= 0; i-- {
		if err := r.Unload(i); err != nil && first == nil {
			first = err
		}
	}
	return first
}
