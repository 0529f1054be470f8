package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketscout/internal/models"
)

func TestCacheTTLWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c := New()
	c.now = func() time.Time { return now }

	ttl := 60 * time.Second
	fetches := 0
	fetch := func() ([]models.Item, error) {
		fetches++
		return []models.Item{{ID: "ebay:1", Title: "first"}}, nil
	}

	// t=0: miss, hits upstream
	items, hit, err := c.GetOrFetch("sig", ttl, fetch)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, fetches)

	// t=30s: inside the window, served from cache
	now = now.Add(30 * time.Second)
	items, hit, err = c.GetOrFetch("sig", ttl, fetch)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, fetches)

	// t=61s: expired, hits upstream again
	now = now.Add(31 * time.Second)
	_, hit, err = c.GetOrFetch("sig", ttl, fetch)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, fetches)
}

func TestCacheFailureNotCached(t *testing.T) {
	c := New()

	calls := 0
	failing := func() ([]models.Item, error) {
		calls++
		return nil, errors.New("upstream down")
	}

	_, _, err := c.GetOrFetch("sig", time.Minute, failing)
	assert.Error(t, err)

	// A failed fetch leaves no entry; the next call retries.
	_, _, err = c.GetOrFetch("sig", time.Minute, failing)
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestCacheEmptySuccessIsCached(t *testing.T) {
	c := New()

	calls := 0
	empty := func() ([]models.Item, error) {
		calls++
		return []models.Item{}, nil
	}

	_, hit, err := c.GetOrFetch("sig", time.Minute, empty)
	require.NoError(t, err)
	assert.False(t, hit)

	_, hit, err = c.GetOrFetch("sig", time.Minute, empty)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, calls)
}

func TestCacheConcurrentMissesShareOneFetch(t *testing.T) {
	c := New()

	var calls int32
	slow := func() ([]models.Item, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return []models.Item{{ID: "ebay:1"}}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, _, err := c.GetOrFetch("sig", time.Minute, slow)
			assert.NoError(t, err)
			assert.Len(t, items, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCacheEvict(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c := New()
	c.now = func() time.Time { return now }

	_, _, err := c.GetOrFetch("old", time.Minute, func() ([]models.Item, error) {
		return nil, nil
	})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, _, err = c.GetOrFetch("fresh", time.Minute, func() ([]models.Item, error) {
		return nil, nil
	})
	require.NoError(t, err)

	removed := c.Evict(time.Minute)
	assert.Equal(t, 1, removed)

	_, hit, _ := c.GetOrFetch("fresh", time.Minute, func() ([]models.Item, error) {
		return nil, nil
	})
	assert.True(t, hit)
}
