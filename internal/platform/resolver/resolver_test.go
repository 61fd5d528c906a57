package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	name string
}

type fakeService struct {
	adapter *fakeAdapter
}

type initAdapter struct {
	calls int
	fail  bool
}

func (a *initAdapter) Initialize(_ context.Context) error {
	a.calls++
	if a.fail {
		return errors.New("init failed")
	}
	return nil
}

func TestResolve_SameAdapterReturnsSameService(t *testing.T) {
	builds := 0
	cache := New(func(a *fakeAdapter) *fakeService {
		builds++
		return &fakeService{adapter: a}
	})

	adapter := &fakeAdapter{name: "primary"}
	first, err := cache.Resolve(context.Background(), adapter)
	require.NoError(t, err)
	second, err := cache.Resolve(context.Background(), adapter)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, builds)
}

func TestResolve_DifferentAdapterSwapsService(t *testing.T) {
	cache := New(func(a *fakeAdapter) *fakeService {
		return &fakeService{adapter: a}
	})

	first, err := cache.Resolve(context.Background(), &fakeAdapter{name: "a"})
	require.NoError(t, err)
	second, err := cache.Resolve(context.Background(), &fakeAdapter{name: "b"})
	require.NoError(t, err)

	assert.NotSame(t, first, second)
}

func TestResolve_IdentityNotValueEquality(t *testing.T) {
	builds := 0
	cache := New(func(a *fakeAdapter) *fakeService {
		builds++
		return &fakeService{adapter: a}
	})

	// Equal by value, distinct identities.
	_, err := cache.Resolve(context.Background(), &fakeAdapter{name: "same"})
	require.NoError(t, err)
	_, err = cache.Resolve(context.Background(), &fakeAdapter{name: "same"})
	require.NoError(t, err)

	assert.Equal(t, 2, builds)
}

func TestResolve_InitializerRunsOnce(t *testing.T) {
	adapter := &initAdapter{}
	cache := New(func(a *initAdapter) *fakeService {
		return &fakeService{}
	})

	for i := 0; i < 3; i++ {
		_, err := cache.Resolve(context.Background(), adapter)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, adapter.calls)
}

func TestResolve_FailedInitRetries(t *testing.T) {
	adapter := &initAdapter{fail: true}
	cache := New(func(a *initAdapter) *fakeService {
		return &fakeService{}
	})

	_, err := cache.Resolve(context.Background(), adapter)
	require.Error(t, err)

	// The failed entry is dropped, so the next resolve attempts again.
	adapter.fail = false
	svc, err := cache.Resolve(context.Background(), adapter)
	require.NoError(t, err)
	assert.NotNil(t, svc)
	assert.Equal(t, 2, adapter.calls)
}

func TestResolve_ConcurrentCallersShareOneService(t *testing.T) {
	cache := New(func(a *fakeAdapter) *fakeService {
		return &fakeService{adapter: a}
	})
	adapter := &fakeAdapter{name: "shared"}

	const workers = 16
	results := make([]*fakeService, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			svc, err := cache.Resolve(context.Background(), adapter)
			assert.NoError(t, err)
			results[i] = svc
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Same(t, results[0], results[i])
	}
}
