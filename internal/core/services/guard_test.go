package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven/mocks"
)

// waiting reports how many callers wait on a flight key
func (g *generationGuard) waiting(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if f, ok := g.flights[key]; ok {
		return len(f.waiters)
	}
	return 0
}

func TestGenerationGuard_SharesInFlightCall(t *testing.T) {
	lock := mocks.NewMockDistributedLock()
	g := newGenerationGuard(lock, time.Minute, discardLogger())

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func(ctx context.Context, _ domain.ProgressFunc) (any, error) {
		calls.Add(1)
		<-release
		return "done", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := g.Do(context.Background(), guardCall{Unit: "outline:t1"}, fn)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	require.Eventually(t, func() bool {
		return g.waiting("outline:t1") == len(results)
	}, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, "done", v)
	}
	assert.Equal(t, 1, lock.AcquireCount("generate:outline:t1"))
	assert.False(t, lock.IsHeld("generate:outline:t1"))
}

func TestGenerationGuard_LeaseHeldElsewhere(t *testing.T) {
	lock := mocks.NewMockDistributedLock()
	lock.Hold("generate:paragraph:p1", time.Minute)
	g := newGenerationGuard(lock, time.Minute, discardLogger())

	called := false
	_, err := g.Do(context.Background(), guardCall{Unit: "paragraph:p1"}, func(ctx context.Context, _ domain.ProgressFunc) (any, error) {
		called = true
		return nil, nil
	})

	assert.ErrorIs(t, err, domain.ErrGenerationInProgress)
	assert.False(t, called)
}

func TestGenerationGuard_LockFailureFailsClosed(t *testing.T) {
	lock := mocks.NewMockDistributedLock()
	lock.AcquireFn = func(name string, ttl time.Duration) (bool, error) {
		return false, errors.New("connection refused")
	}
	g := newGenerationGuard(lock, time.Minute, discardLogger())

	var called atomic.Bool
	_, err := g.Do(context.Background(), guardCall{Unit: "outline:t1"}, func(ctx context.Context, _ domain.ProgressFunc) (any, error) {
		called.Store(true)
		return nil, nil
	})

	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.False(t, called.Load(), "generation must not run without a lease")
}

func TestGenerationGuard_NoLock(t *testing.T) {
	g := newGenerationGuard(nil, time.Minute, discardLogger())

	v, err := g.Do(context.Background(), guardCall{Unit: "outline:t1"}, func(ctx context.Context, _ domain.ProgressFunc) (any, error) {
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestGenerationGuard_CancelsWhenAllWaitersLeave(t *testing.T) {
	g := newGenerationGuard(mocks.NewMockDistributedLock(), time.Minute, discardLogger())

	started := make(chan struct{})
	stopped := make(chan error, 1)
	fn := func(ctx context.Context, _ domain.ProgressFunc) (any, error) {
		close(started)
		<-ctx.Done()
		stopped <- ctx.Err()
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := g.Do(ctx, guardCall{Unit: "outline:t1"}, fn)
		errCh <- err
	}()

	<-started
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("expected shared call to be cancelled")
	}
}

func TestGenerationGuard_SurvivesOneWaiterLeaving(t *testing.T) {
	g := newGenerationGuard(mocks.NewMockDistributedLock(), time.Minute, discardLogger())

	started := make(chan struct{})
	release := make(chan struct{})
	fn := func(ctx context.Context, _ domain.ProgressFunc) (any, error) {
		close(started)
		select {
		case <-release:
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	leaving, leave := context.WithCancel(context.Background())
	leftCh := make(chan error, 1)
	go func() {
		_, err := g.Do(leaving, guardCall{Unit: "outline:t1"}, fn)
		leftCh <- err
	}()
	<-started

	stayCh := make(chan any, 1)
	go func() {
		v, _ := g.Do(context.Background(), guardCall{Unit: "outline:t1"}, fn)
		stayCh <- v
	}()
	require.Eventually(t, func() bool {
		return g.waiting("outline:t1") == 2
	}, time.Second, 5*time.Millisecond)

	leave()
	assert.ErrorIs(t, <-leftCh, context.Canceled)

	close(release)
	assert.Equal(t, "done", <-stayCh)
}

func TestGenerationGuard_FreshCallAfterEveryWaiterLeft(t *testing.T) {
	g := newGenerationGuard(mocks.NewMockDistributedLock(), time.Minute, discardLogger())

	started := make(chan struct{})
	var calls atomic.Int32
	fn := func(ctx context.Context, _ domain.ProgressFunc) (any, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-ctx.Done()
			// slow unwind keeps the cancelled call around
			time.Sleep(100 * time.Millisecond)
			return nil, ctx.Err()
		}
		return "fresh", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := g.Do(ctx, guardCall{Unit: "paragraph:p1"}, fn)
		firstErr <- err
	}()
	<-started
	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	time.Sleep(30 * time.Millisecond)
	v, err := g.Do(context.Background(), guardCall{Unit: "paragraph:p1"}, fn)

	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerationGuard_ProgressFollowsWaiters(t *testing.T) {
	g := newGenerationGuard(mocks.NewMockDistributedLock(), time.Minute, discardLogger())

	var mu sync.Mutex
	counts := map[string]int{}
	track := func(name string) domain.ProgressFunc {
		return func(domain.GenerationProgress) {
			mu.Lock()
			defer mu.Unlock()
			counts[name]++
		}
	}
	count := func(name string) int {
		mu.Lock()
		defer mu.Unlock()
		return counts[name]
	}

	emit := make(chan struct{})
	release := make(chan struct{})
	fn := func(ctx context.Context, progress domain.ProgressFunc) (any, error) {
		for range emit {
			progress(domain.GenerationProgress{Stage: domain.StageParagraphChunk, Chunk: "x"})
		}
		<-release
		return "done", nil
	}

	leaving, leave := context.WithCancel(context.Background())
	leftCh := make(chan error, 1)
	go func() {
		_, err := g.Do(leaving, guardCall{Unit: "paragraph:p1", Progress: track("a")}, fn)
		leftCh <- err
	}()
	stayCh := make(chan any, 1)
	go func() {
		v, _ := g.Do(context.Background(), guardCall{Unit: "paragraph:p1", Progress: track("b")}, fn)
		stayCh <- v
	}()
	require.Eventually(t, func() bool {
		return g.waiting("paragraph:p1") == 2
	}, time.Second, 5*time.Millisecond)

	emit <- struct{}{}
	require.Eventually(t, func() bool {
		return count("a") == 1 && count("b") == 1
	}, time.Second, 5*time.Millisecond)

	leave()
	require.ErrorIs(t, <-leftCh, context.Canceled)

	emit <- struct{}{}
	close(emit)
	close(release)
	assert.Equal(t, "done", <-stayCh)

	assert.Equal(t, 1, count("a"), "no progress after the caller left")
	assert.Equal(t, 2, count("b"))
}

func TestGenerationGuard_DistinctFlightsTakeTurnsOnUnit(t *testing.T) {
	g := newGenerationGuard(mocks.NewMockDistributedLock(), time.Minute, discardLogger())

	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	var firstDone atomic.Bool
	first := func(ctx context.Context, _ domain.ProgressFunc) (any, error) {
		close(firstStarted)
		<-releaseFirst
		firstDone.Store(true)
		return "ensure", nil
	}
	var sawFirstDone atomic.Bool
	second := func(ctx context.Context, _ domain.ProgressFunc) (any, error) {
		sawFirstDone.Store(firstDone.Load())
		return "regenerate", nil
	}

	firstCh := make(chan any, 1)
	go func() {
		v, _ := g.Do(context.Background(), guardCall{Unit: "outline:t1"}, first)
		firstCh <- v
	}()
	<-firstStarted

	secondCh := make(chan any, 1)
	go func() {
		v, _ := g.Do(context.Background(), guardCall{Unit: "outline:t1", Flight: "outline-regenerate:t1"}, second)
		secondCh <- v
	}()

	time.Sleep(20 * time.Millisecond)
	close(releaseFirst)

	assert.Equal(t, "ensure", <-firstCh)
	assert.Equal(t, "regenerate", <-secondCh)
	assert.True(t, sawFirstDone.Load(), "second call must wait for the unit")
}
