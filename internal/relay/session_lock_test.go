package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLocksSerializePerKey(t *testing.T) {
	l := newSessionLocks()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.acquire(context.Background(), "s1")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, l.size(), "entries are dropped once released")
}

func TestSessionLocksIndependentKeys(t *testing.T) {
	l := newSessionLocks()
	r1, err := l.acquire(context.Background(), "a")
	require.NoError(t, err)
	r2, err := l.acquire(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, 2, l.size())
	r1()
	r2()
	r2()
	assert.Equal(t, 0, l.size(), "release is idempotent")
}

func TestSessionLocksHonourContext(t *testing.T) {
	l := newSessionLocks()
	release, err := l.acquire(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.acquire(ctx, "s1")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.size())

	release()
	assert.Equal(t, 0, l.size())
}
