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

// blockingCompute returns ids once release is closed, or ctx.Err() if the
// flight is cancelled first. calls counts invocations.
func blockingCompute(ids []string, release <-chan struct{}, calls *atomic.Int32) ComputeFunc {
	return func(ctx context.Context) ([]string, error) {
		calls.Add(1)
		select {
		case <-release:
			return ids, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func receive(t *testing.T, ch <-chan Completion) Completion {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
		return Completion{}
	}
}

func TestLoader_GetOrCompute_SecondCallIsCacheHit(t *testing.T) {
	c := NewResultCache()
	l := NewLoader(c)
	ctx := context.Background()

	var calls atomic.Int32
	compute := func(context.Context) ([]string, error) {
		calls.Add(1)
		return []string{"b", "a"}, nil
	}

	first, err := l.GetOrCompute(ctx, key(1, "f"), compute)
	require.NoError(t, err)
	second, err := l.GetOrCompute(ctx, key(1, "f"), compute)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), c.Stats().Hits)
	assert.Equal(t, 0, l.InFlight())
}

func TestLoader_GetOrCompute_SingleFlight(t *testing.T) {
	l := NewLoader(NewResultCache())
	release := make(chan struct{})
	var calls atomic.Int32
	compute := blockingCompute([]string{"x"}, release, &calls)

	var wg sync.WaitGroup
	results := make([][]string, 10)
	errs := make([]error, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = l.GetOrCompute(context.Background(), key(1, "f"), compute)
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent callers share one computation")
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, []string{"x"}, results[i])
	}
}

func TestLoader_GetOrCompute_PropagatesError(t *testing.T) {
	l := NewLoader(NewResultCache())
	boom := errors.New("boom")

	_, err := l.GetOrCompute(context.Background(), key(1, "f"), func(context.Context) ([]string, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, l.Cache().Len())
}

func TestLoader_DiscardsResultForSupersededVersion(t *testing.T) {
	var version atomic.Uint64
	version.Store(1)
	c := NewResultCache(WithVersionFunc(version.Load))
	l := NewLoader(c)

	ids, err := l.GetOrCompute(context.Background(), key(1, "f"), func(context.Context) ([]string, error) {
		version.Store(2) // a mutation lands mid-evaluation
		return []string{"x"}, nil
	})
	assert.ErrorIs(t, err, ErrDiscarded)
	assert.Nil(t, ids)
	assert.Equal(t, 0, c.Len())

	ids, err = l.GetOrCompute(context.Background(), key(2, "f"), func(context.Context) ([]string, error) {
		return []string{"y"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, ids)
}

func TestLoader_NeverServesOldVersionAfterMutation(t *testing.T) {
	var version atomic.Uint64
	version.Store(1)
	c := NewResultCache(WithVersionFunc(version.Load), WithTTL(time.Hour))
	l := NewLoader(c)
	ctx := context.Background()

	_, err := l.GetOrCompute(ctx, key(1, "f"), func(context.Context) ([]string, error) {
		return []string{"old"}, nil
	})
	require.NoError(t, err)

	version.Store(2)
	var recomputed bool
	ids, err := l.GetOrCompute(ctx, key(1, "f"), func(context.Context) ([]string, error) {
		recomputed = true
		return []string{"old-again"}, nil
	})
	assert.True(t, recomputed, "stale entry must not be served")
	assert.ErrorIs(t, err, ErrDiscarded, "and the recomputation for the old version is not published")
	assert.Nil(t, ids)
}

func TestLoader_Request_FastPathReturnsIDs(t *testing.T) {
	l := NewLoader(NewResultCache(), WithThreshold(time.Second))

	out, err := l.Request(context.Background(), key(1, "f"), func(context.Context) ([]string, error) {
		return []string{"a"}, nil
	})
	require.NoError(t, err)
	assert.False(t, out.Pending)
	assert.False(t, out.Hit)
	assert.Equal(t, []string{"a"}, out.IDs)
	assert.NoError(t, out.Err())

	out, err = l.Request(context.Background(), key(1, "f"), nil)
	require.NoError(t, err)
	assert.True(t, out.Hit)
}

func TestLoader_Request_SlowEvaluationGoesBackground(t *testing.T) {
	var version atomic.Uint64
	version.Store(1)
	c := NewResultCache(WithVersionFunc(version.Load))
	l := NewLoader(c, WithThreshold(10*time.Millisecond))
	ctx := context.Background()

	c.Put(ctx, key(1, "f"), []string{"previous"})
	version.Store(2)

	release := make(chan struct{})
	var calls atomic.Int32
	out, err := l.Request(ctx, key(2, "f"), blockingCompute([]string{"fresh"}, release, &calls))
	require.NoError(t, err)
	require.True(t, out.Pending)
	assert.ErrorIs(t, out.Err(), ErrPending)
	assert.Equal(t, []string{"previous"}, out.Previous)

	close(release)
	done := receive(t, out.Ready)
	require.NoError(t, done.Err)
	assert.Equal(t, []string{"fresh"}, done.IDs)
	assert.Equal(t, key(2, "f"), done.Key)

	e, ok := c.Get(ctx, key(2, "f"))
	require.True(t, ok)
	assert.Equal(t, []string{"fresh"}, e.IDs)
}

func TestLoader_Request_ZeroThresholdWaits(t *testing.T) {
	l := NewLoader(NewResultCache(), WithThreshold(0))

	out, err := l.Request(context.Background(), key(1, "f"), func(context.Context) ([]string, error) {
		time.Sleep(30 * time.Millisecond)
		return []string{"a"}, nil
	})
	require.NoError(t, err)
	assert.False(t, out.Pending)
	assert.Equal(t, []string{"a"}, out.IDs)
}

func TestLoader_RapidSuccessiveRequests(t *testing.T) {
	c := NewResultCache()
	l := NewLoader(c, WithThreshold(5*time.Millisecond))
	ctx := context.Background()

	first := key(1, "first")
	second := key(1, "second")

	releaseFirst := make(chan struct{})
	defer close(releaseFirst)
	var calls atomic.Int32
	out1, err := l.Request(ctx, first, blockingCompute([]string{"1"}, releaseFirst, &calls))
	require.NoError(t, err)
	require.True(t, out1.Pending)

	// The user edits the filter before the first evaluation finishes.
	assert.Equal(t, 1, l.CancelExcept(second))
	ids, err := l.GetOrCompute(ctx, second, func(context.Context) ([]string, error) {
		return []string{"2"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids)

	done := receive(t, out1.Ready)
	assert.True(t, done.Discarded())

	_, ok := c.Get(ctx, first)
	assert.False(t, ok, "superseded result is never cached")
	_, ok = c.Get(ctx, second)
	assert.True(t, ok)
}

func TestLoader_CancelStale(t *testing.T) {
	l := NewLoader(NewResultCache(), WithThreshold(time.Millisecond))
	ctx := context.Background()

	release := make(chan struct{})
	defer close(release)
	var calls atomic.Int32
	old, err := l.Request(ctx, key(1, "f"), blockingCompute([]string{"x"}, release, &calls))
	require.NoError(t, err)
	require.True(t, old.Pending)
	cur, err := l.Request(ctx, key(2, "g"), blockingCompute([]string{"y"}, release, &calls))
	require.NoError(t, err)
	require.True(t, cur.Pending)

	assert.Equal(t, 1, l.CancelStale(2))
	assert.True(t, receive(t, old.Ready).Discarded())
	assert.Equal(t, 1, l.InFlight())
}

func TestLoader_CallerContextCancelled(t *testing.T) {
	l := NewLoader(NewResultCache())
	release := make(chan struct{})
	var calls atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.GetOrCompute(ctx, key(1, "f"), blockingCompute([]string{"x"}, release, &calls))
	assert.ErrorIs(t, err, context.Canceled)

	// The shared computation is not tied to the caller and still publishes.
	close(release)
	require.Eventually(t, func() bool {
		_, ok := l.Cache().Get(context.Background(), key(1, "f"))
		return ok
	}, time.Second, 5*time.Millisecond)
}
