package processor

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/L1ghtError/LimbWorker/errors"
)

type fakeHandle struct{}

func (fakeHandle) Process(_ context.Context, img image.Image, progress ProgressFunc) (image.Image, error) {
	progress(1)
	return img, nil
}

type fakeContainer struct {
	Lifecycle
	pool    *Pool
	deinits int
}

func (c *fakeContainer) Init(context.Context) error { return c.Begin() }

func (c *fakeContainer) Deinit() {
	if c.End() {
		c.deinits++
	}
}

func (c *fakeContainer) TryAcquire() Handle {
	if !c.Ready() || !c.pool.TryAcquire() {
		return nil
	}
	return fakeHandle{}
}

func (c *fakeContainer) Reclaim(Handle) { c.pool.Release() }

type fakeModule struct {
	name string
	log  *[]string
	mu   *sync.Mutex

	allocated   []*fakeContainer
	deallocated []Container
}

func newFakeModule(name string, log *[]string, mu *sync.Mutex) *fakeModule {
	return &fakeModule{name: name, log: log, mu: mu}
}

func (m *fakeModule) record(event string) {
	if m.log == nil {
		return
	}
	m.mu.Lock()
	*m.log = append(*m.log, event)
	m.mu.Unlock()
}

func (m *fakeModule) Name() string { return m.name }

func (m *fakeModule) AllocateContainer() (Container, error) {
	c := &fakeContainer{pool: NewPool(2)}
	m.allocated = append(m.allocated, c)
	return c, nil
}

func (m *fakeModule) DeallocateContainer(c Container) {
	m.record("dealloc:" + m.name)
	m.deallocated = append(m.deallocated, c)
}

func (m *fakeModule) Close() error {
	m.record("close:" + m.name)
	return nil
}

type fakeProber struct {
	fail map[string]error
}

func (p fakeProber) Probe(path string) (Probe, error) {
	if err := p.fail[filepath.Base(path)]; err != nil {
		return Probe{}, err
	}
	return Probe{Path: path, Entry: EntrySymbol, Digest: "blake3:00"}, nil
}

type fakeOpener struct {
	fail  map[string]error
	calls []string
}

func (o *fakeOpener) Open(p Probe) (Module, error) {
	base := filepath.Base(p.Path)
	o.calls = append(o.calls, base)
	if err := o.fail[base]; err != nil {
		return nil, err
	}
	return newFakeModule(base, nil, nil), nil
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("lib"), 0o644))
}

func TestRegistry_ScanIsolatesFailures(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.so"))
	touch(t, filepath.Join(dir, "bad_probe.so"))
	touch(t, filepath.Join(dir, "nested", "bad_load.so"))
	touch(t, filepath.Join(dir, "nested", "c.so"))
	touch(t, filepath.Join(dir, "readme.txt"))

	opener := &fakeOpener{fail: map[string]error{"bad_load.so": errors.ErrAborted}}
	r := NewRegistry(
		WithProber(fakeProber{fail: map[string]error{"bad_probe.so": errors.ErrInvalidInput}}),
		WithOpener(opener),
	)

	n, err := r.Scan(context.Background(), []string{dir, filepath.Join(dir, "missing")})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, r.ProcessorCount())

	// A library that fails the probe is never opened.
	assert.NotContains(t, opener.calls, "bad_probe.so")
	assert.Contains(t, opener.calls, "bad_load.so")

	name, err := r.ProcessorName(0)
	require.NoError(t, err)
	assert.Equal(t, "a.so", name)
	name, err = r.ProcessorName(1)
	require.NoError(t, err)
	assert.Equal(t, "c.so", name)

	// Rescanning does not load the same path twice.
	n, err = r.Scan(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegistry_ScanStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.so"))

	r := NewRegistry(WithProber(fakeProber{}), WithOpener(&fakeOpener{}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Scan(ctx, []string{dir})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, r.ProcessorCount())
}

func TestRegistry_ProcessorNameOutOfRange(t *testing.T) {
	r := NewRegistry()
	_, err := r.ProcessorName(3)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestRegistry_ContainerExhaustion(t *testing.T) {
	r := NewRegistry()
	idx, err := r.Register(newFakeModule("fake", nil, nil))
	require.NoError(t, err)

	ref, err := r.AllocateContainer(idx)
	require.NoError(t, err)
	require.NoError(t, ref.Container.Init(context.Background()))

	h1 := ref.Container.TryAcquire()
	h2 := ref.Container.TryAcquire()
	require.NotNil(t, h1)
	require.NotNil(t, h2)
	assert.Nil(t, ref.Container.TryAcquire())

	ref.Container.Reclaim(h1)
	assert.NotNil(t, ref.Container.TryAcquire())
}

func TestRegistry_DestroyRoutesToOwner(t *testing.T) {
	r := NewRegistry()
	a := newFakeModule("a", nil, nil)
	b := newFakeModule("b", nil, nil)
	ia, _ := r.Register(a)
	ib, _ := r.Register(b)

	refA, err := r.AllocateContainer(ia)
	require.NoError(t, err)
	refB, err := r.AllocateContainer(ib)
	require.NoError(t, err)
	assert.NotEqual(t, refA.ID, refB.ID)

	got, ok := r.Container(refB.ID)
	require.True(t, ok)
	assert.Same(t, refB.Container, got)

	require.NoError(t, refB.Container.Init(context.Background()))
	r.DestroyContainer(refB.ID)
	assert.Empty(t, a.deallocated)
	require.Len(t, b.deallocated, 1)
	assert.Same(t, refB.Container, b.deallocated[0])
	assert.Equal(t, 1, b.allocated[0].deinits)

	_, ok = r.Container(refB.ID)
	assert.False(t, ok)

	// Unknown and repeated ids are ignored.
	r.DestroyContainer(refB.ID)
	r.DestroyContainer(9999)
	assert.Len(t, b.deallocated, 1)
}

func TestRegistry_UnloadRefusedWhileLive(t *testing.T) {
	r := NewRegistry()
	idx, _ := r.Register(newFakeModule("a", nil, nil))

	ref, err := r.AllocateContainer(idx)
	require.NoError(t, err)
	assert.Equal(t, 1, r.LiveContainers(idx))

	err = r.Unload(idx)
	assert.True(t, errors.IsKind(err, errors.KindAborted))

	r.DestroyContainer(ref.ID)
	require.NoError(t, r.Unload(idx))

	_, err = r.AllocateContainer(idx)
	assert.True(t, errors.IsKind(err, errors.KindUninitialized))
	assert.False(t, r.Modules()[idx].Loaded)
}

func TestRegistry_CloseOrdering(t *testing.T) {
	var (
		mu  sync.Mutex
		log []string
	)
	r := NewRegistry()
	first, _ := r.Register(newFakeModule("first", &log, &mu))
	second, _ := r.Register(newFakeModule("second", &log, &mu))

	_, err := r.AllocateContainer(first)
	require.NoError(t, err)
	_, err = r.AllocateContainer(second)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	assert.Equal(t, []string{
		"dealloc:second",
		"dealloc:first",
		"close:second",
		"close:first",
	}, log)

	// Closed registries refuse new work.
	_, err = r.Register(newFakeModule("late", nil, nil))
	assert.ErrorIs(t, err, errors.ErrAborted)
	require.NoError(t, r.Close())
}

func TestRegistry_RegisterNil(t *testing.T) {
	_, err := NewRegistry().Register(nil)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}
