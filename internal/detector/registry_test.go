package detector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativo-io/dcpguard/internal/dcp"
)

func staticDetector(spans ...dcp.Span) Detector {
	return Func(func(context.Context, string, string) ([]dcp.Span, error) {
		return spans, nil
	})
}

func TestRegistry_UnknownCapability(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownCapability))
	assert.Contains(t, err.Error(), "nope")
}

func TestRegistry_GetCachesInstance(t *testing.T) {
	r := NewRegistry()
	var calls int32
	r.Register("regex", func(context.Context) (Detector, error) {
		atomic.AddInt32(&calls, 1)
		return staticDetector(), nil
	})

	ctx := context.Background()
	d1, err := r.Get(ctx, "regex")
	require.NoError(t, err)
	d2, err := r.Get(ctx, "regex")
	require.NoError(t, err)

	assert.NotNil(t, d1)
	assert.NotNil(t, d2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"regex"}, r.ListLoaded())
}

func TestRegistry_InitFailureNotCached(t *testing.T) {
	r := NewRegistry()
	var calls int32
	r.Register("hf", func(context.Context) (Detector, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("model missing")
		}
		return staticDetector(), nil
	})

	ctx := context.Background()
	_, err := r.Get(ctx, "hf")
	require.Error(t, err)
	var initErr *InitializationError
	require.True(t, errors.As(err, &initErr))
	assert.Equal(t, "hf", initErr.Name)
	assert.Contains(t, err.Error(), "model missing")
	assert.Empty(t, r.ListLoaded())

	_, err = r.Get(ctx, "hf")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRegistry_FactoryPanicBecomesInitializationError(t *testing.T) {
	r := NewRegistry()
	r.Register("spacy", func(context.Context) (Detector, error) {
		panic("boom")
	})

	_, err := r.Get(context.Background(), "spacy")
	var initErr *InitializationError
	require.True(t, errors.As(err, &initErr))
	assert.Contains(t, err.Error(), "boom")
}

func TestRegistry_NilDetectorRejected(t *testing.T) {
	r := NewRegistry()
	r.Register("empty", func(context.Context) (Detector, error) { return nil, nil })

	_, err := r.Get(context.Background(), "empty")
	var initErr *InitializationError
	assert.True(t, errors.As(err, &initErr))
}

func TestRegistry_ConcurrentFirstUseConstructsOnce(t *testing.T) {
	r := NewRegistry()
	var calls int32
	release := make(chan struct{})
	r.Register("slow", func(context.Context) (Detector, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return staticDetector(), nil
	})

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Get(context.Background(), "slow")
			errs <- err
		}()
	}
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRegistry_RegisterReplacesCachedInstance(t *testing.T) {
	r := NewRegistry()
	r.RegisterInstance("regex", staticDetector())
	_, err := r.Get(context.Background(), "regex")
	require.NoError(t, err)
	require.Equal(t, []string{"regex"}, r.ListLoaded())

	r.RegisterInstance("regex", staticDetector())
	assert.Empty(t, r.ListLoaded())
}

func TestRegistry_Warmup(t *testing.T) {
	r := NewRegistry()
	r.RegisterInstance("regex", staticDetector())
	r.Register("presidio", func(context.Context) (Detector, error) {
		return nil, errors.New("connection refused")
	})

	t.Run("named", func(t *testing.T) {
		status := r.Warmup(context.Background(), []string{"regex", "presidio", "ghost"})
		assert.Equal(t, WarmupOK, status["regex"])
		assert.Contains(t, status["presidio"], "error: ")
		assert.Contains(t, status["presidio"], "connection refused")
		assert.Contains(t, status["ghost"], "error: ")
	})

	t.Run("all when empty", func(t *testing.T) {
		status := r.Warmup(context.Background(), nil)
		assert.Len(t, status, 2)
		assert.Equal(t, WarmupOK, status["regex"])
	})
}

func TestRegistry_ListAvailableSorted(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"spacy", "hf", "regex", "presidio"} {
		r.RegisterInstance(n, staticDetector())
	}
	assert.Equal(t, []string{"hf", "presidio", "regex", "spacy"}, r.ListAvailable())
	assert.True(t, r.Has("hf"))
	assert.False(t, r.Has("bert"))
}
