package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalidateByPrefix(t *testing.T) {
	c := New(time.Minute)
	c.Set("snapshots:repo-1:all", 1)
	c.Set("snapshots:repo-1:abcd", 2)
	c.Set("snapshots:repo-10:all", 3)
	c.Set("retention:repo-1:abcd", 4)

	n := c.InvalidateByPrefix("snapshots:repo-1:")
	assert.Equal(t, 2, n)

	_, ok := c.Get("snapshots:repo-1:all")
	assert.False(t, ok)
	v, ok := c.Get("snapshots:repo-10:all")
	assert.True(t, ok)
	assert.Equal(t, 3, v)
	_, ok = c.Get("retention:repo-1:abcd")
	assert.True(t, ok)
}

func TestExpiry(t *testing.T) {
	c := New(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("k", "v")

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 0, c.Len())
}

func TestGetOrLoadCoalesces(t *testing.T) {
	c := New(time.Minute)
	var calls atomic.Int32
	gate := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "snapshots:r:all", func(ctx context.Context) (any, error) {
				calls.Add(1)
				<-gate
				return []string{"a"}, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, []string{"a"}, v)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	_, ok := c.Get("snapshots:r:all")
	assert.True(t, ok)
}

func TestGetOrLoadErrorNotCached(t *testing.T) {
	c := New(time.Minute)
	_, err := c.GetOrLoad(context.Background(), "k", func(ctx context.Context) (any, error) {
		return nil, errors.New("repository locked")
	})
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestLoadRacingInvalidationIsDropped(t *testing.T) {
	c := New(time.Minute)
	_, err := c.GetOrLoad(context.Background(), "snapshots:r:all", func(ctx context.Context) (any, error) {
		c.InvalidateByPrefix("snapshots:r:")
		return "stale", nil
	})
	require.NoError(t, err)
	_, ok := c.Get("snapshots:r:all")
	assert.False(t, ok)
}
