package pipeline

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

type countingLoader struct {
	calls   atomic.Int32
	release chan struct{}
	failN   int32
}

func (l *countingLoader) Load(ctx context.Context, key Key) (*Pipeline, error) {
	n := l.calls.Add(1)
	if l.release != nil {
		<-l.release
	}
	if n <= l.failN {
		return nil, &NotReadyError{Dir: key.Dataset, Missing: []string{ConfigFile}}
	}
	return &Pipeline{Key: key}, nil
}

func TestGetOrLoadPreservesIdentity(t *testing.T) {
	loader := &countingLoader{}
	c := NewCache(loader)
	ctx := context.Background()
	k := Key{Dataset: "iris.csv", ModelChoice: "qwen"}

	p1, err := c.GetOrLoad(ctx, k)
	require.NoError(t, err)
	p2, err := c.GetOrLoad(ctx, k)
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, int32(1), loader.calls.Load())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, EvictNever, c.Policy())
}

func TestGetOrLoadDifferentKeysAreIndependent(t *testing.T) {
	c := NewCache(&countingLoader{})
	ctx := context.Background()

	p1, err := c.GetOrLoad(ctx, Key{Dataset: "a.csv", ModelChoice: "m"})
	require.NoError(t, err)
	p2, err := c.GetOrLoad(ctx, Key{Dataset: "a.csv", ModelChoice: "n"})
	require.NoError(t, err)

	assert.NotSame(t, p1, p2)
	assert.Equal(t, 2, c.Len())
}

func TestKeyStringDoesNotCollide(t *testing.T) {
	a := Key{Dataset: "ab", ModelChoice: "c"}
	b := Key{Dataset: "a", ModelChoice: "bc"}
	assert.NotEqual(t, a.String(), b.String())
}

func TestConcurrentFirstAccessLoadsOnce(t *testing.T) {
	loader := &countingLoader{release: make(chan struct{})}
	c := NewCache(loader)
	k := Key{Dataset: "iris.csv", ModelChoice: "qwen"}

	const callers = 8
	results := make([]*Pipeline, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := c.GetOrLoad(context.Background(), k)
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}

	require.Eventually(t, func() bool { return loader.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(loader.release)
	wg.Wait()

	assert.Equal(t, int32(1), loader.calls.Load())
	for _, p := range results {
		assert.Same(t, results[0], p)
	}
}

func TestLoadErrorsAreNotCached(t *testing.T) {
	loader := &countingLoader{failN: 1}
	c := NewCache(loader)
	k := Key{Dataset: "iris.csv", ModelChoice: "qwen"}

	_, err := c.GetOrLoad(context.Background(), k)
	var nr *NotReadyError
	require.ErrorAs(t, err, &nr)
	assert.Equal(t, 0, c.Len())

	p, err := c.GetOrLoad(context.Background(), k)
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestInvalidateForcesReload(t *testing.T) {
	loader := &countingLoader{}
	c := NewCache(loader)
	k := Key{Dataset: "iris.csv", ModelChoice: "qwen"}

	p1, err := c.GetOrLoad(context.Background(), k)
	require.NoError(t, err)
	c.Invalidate(k)
	assert.Equal(t, 0, c.Len())

	p2, err := c.GetOrLoad(context.Background(), k)
	require.NoError(t, err)
	assert.NotSame(t, p1, p2)
}

func TestInvalidateDuringLoadIsNotRepopulated(t *testing.T) {
	loader := &countingLoader{release: make(chan struct{})}
	c := NewCache(loader)
	k := Key{Dataset: "iris.csv", ModelChoice: "qwen"}

	done := make(chan *Pipeline)
	go func() {
		p, err := c.GetOrLoad(context.Background(), k)
		assert.NoError(t, err)
		done <- p
	}()
	require.Eventually(t, func() bool { return loader.calls.Load() == 1 }, time.Second, time.Millisecond)

	c.Invalidate(k)
	close(loader.release)
	stale := <-done
	assert.NotNil(t, stale)
	assert.Equal(t, 0, c.Len())

	fresh, err := c.GetOrLoad(context.Background(), k)
	require.NoError(t, err)
	assert.NotSame(t, stale, fresh)
}

func TestGetOrLoadHonoursCallerContext(t *testing.T) {
	loader := &countingLoader{release: make(chan struct{})}
	defer close(loader.release)
	c := NewCache(loader)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.GetOrLoad(ctx, Key{Dataset: "a", ModelChoice: "b"})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
