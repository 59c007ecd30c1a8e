package serial

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDispatcher_SequentialPerKey(t *testing.T) {
	d := New[string]()
	defer d.Close()

	var (
		mu      sync.Mutex
		seq     []int
		running atomic.Int32
		overlap atomic.Bool
	)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, d.Do("/", func() {
				if running.Add(1) > 1 {
					overlap.Store(true)
				}
				mu.Lock()
				seq = append(seq, i)
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
			}))
		}()
		// stagger so hand-over order is deterministic
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	require.False(t, overlap.Load())
	require.Equal(t, []int{0, 1, 2}, seq)
}

func TestDispatcher_ParallelAcrossKeys(t *testing.T) {
	d := New[string]()
	defer d.Close()

	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	for _, key := range []string{"/", "/admin", "/chat", "/game"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Do(key, func() {
				n := running.Add(1)
				for {
					m := maxRunning.Load()
					if n <= m || maxRunning.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(30 * time.Millisecond)
				running.Add(-1)
			})
		}()
	}
	wg.Wait()

	require.Greater(t, maxRunning.Load(), int32(1))
}

func TestDispatcher_Forget(t *testing.T) {
	d := New[string](WithBufferSize(4))
	defer d.Close()

	var n atomic.Int32
	require.NoError(t, d.Do("/", func() { n.Add(1) }))
	require.Equal(t, 1, d.Len())

	d.Forget("/")
	require.Equal(t, 0, d.Len())

	// forgetting an unknown key is a no-op
	d.Forget("/nope")

	// a new worker is started on demand
	require.NoError(t, d.Do("/", func() { n.Add(1) }))
	require.Equal(t, int32(2), n.Load())
	require.Equal(t, 1, d.Len())
}

func TestDispatcher_ForgetWhileBusy(t *testing.T) {
	d := New[string]()
	defer d.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- d.Do("/", func() {
			close(started)
			<-release
		})
	}()

	<-started
	d.Forget("/")
	close(release)
	require.NoError(t, <-done)
}

func TestDispatcher_Close(t *testing.T) {
	d := New[string]()
	require.NoError(t, d.Do("/", func() {}))

	d.Close()
	d.Close()

	require.ErrorIs(t, d.Do("/", func() {}), ErrClosed)
}
