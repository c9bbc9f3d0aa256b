package progress

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryMembership(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	a := newSubscriber(1, "t1", newFakeChannel(), 0, 0)
	b := newSubscriber(2, "t1", newFakeChannel(), 0, 0)

	require.Zero(t, reg.Count("t1"))
	require.Empty(t, reg.Subscribers("t1"))

	reg.Register("t1", a)
	reg.Register("t1", a)
	reg.Register("t1", b)
	require.Equal(t, 2, reg.Count("t1"))
	require.True(t, reg.Contains("t1", a))
	require.False(t, reg.Contains("t2", a))

	require.True(t, reg.Deregister("t1", a))
	require.False(t, reg.Deregister("t1", a))
	require.False(t, reg.Deregister("unknown", b))
	require.Equal(t, 1, reg.Count("t1"))
	require.ElementsMatch(t, []*Subscriber{b}, reg.Subscribers("t1"))
}

func TestRegistrySubscribersIsCopy(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	a := newSubscriber(1, "t1", newFakeChannel(), 0, 0)
	reg.Register("t1", a)

	subs := reg.Subscribers("t1")
	reg.Deregister("t1", a)
	require.Len(t, subs, 1)
	require.Zero(t, reg.Count("t1"))
}

func TestRegistryConcurrentChurn(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	stable := newSubscriber(1, "t1", newFakeChannel(), 0, 0)
	reg.Register("t1", stable)

	const workers = 8
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(2)
		go func(id uint64) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				sub := newSubscriber(id*1000+uint64(i), "t1", newFakeChannel(), 0, 0)
				reg.Register("t1", sub)
				reg.Deregister("t1", sub)
				reg.Deregister("t1", sub)
			}
		}(uint64(w + 2))
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				subs := reg.Subscribers("t1")
				assert.Contains(t, subs, stable)
				assert.LessOrEqual(t, len(subs), workers+1)
				assert.GreaterOrEqual(t, reg.Count("t1"), 1)
				if len(subs) > 0 {
					// Snapshot copies are the caller's to mutate.
					subs[0] = nil
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, reg.Count("t1"))
	require.Equal(t, []*Subscriber{stable}, reg.Subscribers("t1"))
}
