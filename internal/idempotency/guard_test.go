package idempotency

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGuard_Seen(t *testing.T) {
	g := New(10)
	require.False(t, g.Seen("c1", "r1"))
	require.True(t, g.Seen("c1", "r1"))
	require.False(t, g.Seen("c2", "r1"))
	require.False(t, g.Seen("c1", ""))
	require.False(t, g.Seen("c1", ""))
	require.Equal(t, 2, g.Len())
}

func TestGuard_ClearsWhenFull(t *testing.T) {
	g := New(3)
	for i := range 3 {
		require.False(t, g.Seen("c", fmt.Sprint(i)))
	}
	require.False(t, g.Seen("c", "3"))
	require.Equal(t, 1, g.Len())
	// Pruned pairs are forgotten, never falsely reported.
	require.False(t, g.Seen("c", "0"))
}

func TestGuard_Forget(t *testing.T) {
	g := New(10)
	require.False(t, g.Seen("c", "r"))
	g.Forget("c", "r")
	require.False(t, g.Seen("c", "r"))
}

func TestGuard_ConcurrentSingleWinner(t *testing.T) {
	g := New(100)
	var (
		wg     sync.WaitGroup
		fresh  atomic.Int32
		starts = make(chan struct{})
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-starts
			if !g.Seen("c", "same") {
				fresh.Add(1)
			}
		}()
	}
	close(starts)
	wg.Wait()
	require.Equal(t, int32(1), fresh.Load())
}
