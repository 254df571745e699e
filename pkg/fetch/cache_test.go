package fetch_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwell/gridwell/pkg/fetch"
)

func TestLoadingCache_HitSkipsLoad(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	cache := fetch.NewLoadingCache(16, time.Minute, func(_ context.Context, key string) (string, error) {
		calls.Add(1)
		return "value-for-" + key, nil
	})

	for i := 0; i < 5; i++ {
		v, err := cache.Get(context.Background(), "a")
		require.NoError(t, err)
		assert.Equal(t, "value-for-a", v)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestLoadingCache_ConcurrentMissesShareOneLoad(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	release := make(chan struct{})
	cache := fetch.NewLoadingCache(16, time.Minute, func(_ context.Context, key string) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = cache.Get(context.Background(), "k")
		}()
	}

	// let every caller reach the cache before the load completes
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i])
	}
}

func TestLoadingCache_FailedLoadNotCached(t *testing.T) {
	t.Parallel()

	loadErr := errors.New("remote unavailable")
	var calls atomic.Int32
	cache := fetch.NewLoadingCache(16, time.Minute, func(_ context.Context, key string) (string, error) {
		if calls.Add(1) == 1 {
			return "", loadErr
		}
		return "recovered", nil
	})

	_, err := cache.Get(context.Background(), "k")
	assert.ErrorIs(t, err, loadErr)
	assert.Equal(t, 0, cache.Len())

	v, err := cache.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLoadingCache_EntriesExpire(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	cache := fetch.NewLoadingCache(16, 50*time.Millisecond, func(_ context.Context, key string) (string, error) {
		calls.Add(1)
		return "v", nil
	})

	_, err := cache.Get(context.Background(), "k")
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)

	_, err = cache.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLoadingCache_DistinctKeysLoadIndependently(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	cache := fetch.NewLoadingCache(16, time.Minute, func(_ context.Context, key string) (string, error) {
		calls.Add(1)
		return key + "!", nil
	})

	a, err := cache.Get(context.Background(), "a")
	require.NoError(t, err)
	b, err := cache.Get(context.Background(), "b")
	require.NoError(t, err)

	assert.Equal(t, "a!", a)
	assert.Equal(t, "b!", b)
	assert.Equal(t, int32(2), calls.Load())
}
