package capability

import (
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/L1ghtError/LimbWorker/errors"
)

func TestRegistry_AddRemove(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(1, "grayscale"))
	require.NoError(t, r.Add(0, "loopback"))

	err := r.Add(1, "other")
	assert.True(t, errors.IsKind(err, errors.KindAlreadyExists))

	assert.True(t, r.Has(0))
	require.NoError(t, r.Remove(0))
	assert.False(t, r.Has(0))
	assert.True(t, errors.IsKind(r.Remove(0), errors.KindNotFound))

	r.Clear()
	assert.Zero(t, r.Len())
}

func TestRegistry_SnapshotSortedAndDetached(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(2, "c"))
	require.NoError(t, r.Add(0, "a"))
	require.NoError(t, r.Add(1, "b"))

	s := r.Snapshot()
	assert.Equal(t, runtime.NumCPU(), s.CPUThreads)
	assert.Equal(t, []Entry{{0, "a"}, {1, "b"}, {2, "c"}}, s.Processors)

	r.Clear()
	assert.Len(t, s.Processors, 3)
}

func TestSnapshot_JSON(t *testing.T) {
	s := Snapshot{CPUThreads: 8, Processors: []Entry{{Index: 0, Name: "loopback"}}}
	data, err := s.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"cpuThds":8,"imgProc":[{"i":0,"name":"loopback"}]}`, string(data))

	data, err = Snapshot{CPUThreads: 1}.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"cpuThds":1,"imgProc":[]}`, string(data))

	var back Snapshot
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 1, back.CPUThreads)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = r.Add(i, fmt.Sprintf("p%d", i))
		}(i)
		go func() {
			defer wg.Done()
			_ = r.Snapshot()
		}()
	}
	wg.Wait()
	assert.Equal(t, 16, r.Len())
}
