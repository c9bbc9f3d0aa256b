package progress

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateStoreGetSet(t *testing.T) {
	t.Parallel()

	store := NewStateStore()
	_, ok := store.Get("t1")
	require.False(t, ok)

	store.Set("t1", Snapshot{Progress: 20, State: StateRunning})
	snap, ok := store.Get("t1")
	require.True(t, ok)
	require.Equal(t, Snapshot{Progress: 20, State: StateRunning}, snap)
	require.Equal(t, 1, store.Len())
}

func TestStateStoreSeedIfAbsent(t *testing.T) {
	t.Parallel()

	store := NewStateStore()
	snap, created := store.SeedIfAbsent("t1", Initial())
	require.True(t, created)
	require.Equal(t, Initial(), snap)

	store.Set("t1", Snapshot{Progress: 50, State: StateRunning})
	snap, created = store.SeedIfAbsent("t1", Initial())
	require.False(t, created)
	require.Equal(t, 50, snap.Progress)
}

func TestStateStoreSeedIfAbsentConcurrent(t *testing.T) {
	t.Parallel()

	store := NewStateStore()
	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := store.SeedIfAbsent("t1", Initial()); ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, created.Load())
}

func TestStateStoreClaimDriver(t *testing.T) {
	t.Parallel()

	store := NewStateStore()
	require.True(t, store.claimDriver("fresh"))
	require.False(t, store.claimDriver("fresh"))
	snap, ok := store.Get("fresh")
	require.True(t, ok)
	require.Equal(t, Initial(), snap)

	store.SeedIfAbsent("seeded", Initial())
	require.True(t, store.claimDriver("seeded"))

	store.Set("advanced", Snapshot{Progress: 100, State: StateDone})
	require.False(t, store.claimDriver("advanced"))
}
