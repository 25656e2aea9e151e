package clientcache

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

type fakeClient struct {
	host string
}

func TestCache_BuildsOnce(t *testing.T) {
	c := New[*fakeClient]()
	var builds atomic.Int32

	build := func(ctx context.Context) (*fakeClient, error) {
		builds.Add(1)
		time.Sleep(10 * time.Millisecond)
		return &fakeClient{host: "local"}, nil
	}

	var wg sync.WaitGroup
	results := make([]*fakeClient, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(context.Background(), "local", build)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestCache_FailedBuildNotCached(t *testing.T) {
	c := New[*fakeClient]()
	calls := 0

	build := func(ctx context.Context) (*fakeClient, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection refused")
		}
		return &fakeClient{host: "h"}, nil
	}

	_, err := c.Get(context.Background(), "h", build)
	assert.EqualError(t, err, "connection refused")
	assert.Equal(t, 0, c.Len())

	v, err := c.Get(context.Background(), "h", build)
	require.NoError(t, err)
	assert.Equal(t, "h", v.host)
	assert.Equal(t, 2, calls)
}

func TestCache_PanickingBuild(t *testing.T) {
	c := New[int]()

	_, err := c.Get(context.Background(), "k", func(ctx context.Context) (int, error) {
		panic("bad")
	})
	assert.ErrorContains(t, err, "panicked")
}

func TestCache_InvalidateRebuilds(t *testing.T) {
	var evicted []string
	c := New[*fakeClient](WithOnEvict(func(key string, v *fakeClient) {
		evicted = append(evicted, key)
	}))

	first, err := c.Get(context.Background(), "a", func(ctx context.Context) (*fakeClient, error) {
		return &fakeClient{host: "old"}, nil
	})
	require.NoError(t, err)

	assert.True(t, c.Invalidate("a"))
	assert.False(t, c.Invalidate("a"))
	assert.Equal(t, []string{"a"}, evicted)

	second, err := c.Get(context.Background(), "a", func(ctx context.Context) (*fakeClient, error) {
		return &fakeClient{host: "new"}, nil
	})
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, "new", second.host)
}

func TestCache_Purge(t *testing.T) {
	var evicted atomic.Int32
	c := New[int](WithOnEvict(func(string, int) { evicted.Add(1) }))

	c.Set("a", 1)
	c.Set("b", 2)
	assert.Equal(t, []string{"a", "b"}, c.Keys())

	c.Purge()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int32(2), evicted.Load())
}

func TestCache_InvalidateDuringBuildDiscardsResult(t *testing.T) {
	c := New[string]()
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan string)
	go func() {
		v, _ := c.Get(context.Background(), "k", func(ctx context.Context) (string, error) {
			close(started)
			<-release
			return "stale", nil
		})
		done <- v
	}()

	<-started
	c.Invalidate("k")
	close(release)

	assert.Equal(t, "stale", <-done)
	_, ok := c.Peek("k")
	assert.False(t, ok)
}
