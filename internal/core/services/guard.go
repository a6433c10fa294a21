package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/tutor-core/internal/core/domain"
	"github.com/custodia-labs/tutor-core/internal/core/ports/driven"
)

// generationGuard keeps generation of a unit (an outline or a paragraph)
// to one holder at a time. Callers asking for the same result share one
// call through singleflight. Different calls for the same unit queue on
// an in-process lease, and other instances are excluded by a lease on the
// distributed lock.
//
// The shared call runs on a context detached from any single caller and
// is cancelled once every waiter has gone away.
type generationGuard struct {
	group  singleflight.Group
	lock   driven.DistributedLock
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	flights map[string]*flight
	leases  map[string]chan struct{}
}

// guardCall describes one request for a unit
type guardCall struct {
	// Unit is leased while generating; one holder per unit
	Unit string
	// Flight groups callers that may share a result (default: Unit)
	Flight string
	// Progress receives updates while this caller waits
	Progress domain.ProgressFunc
}

type generateFunc func(ctx context.Context, progress domain.ProgressFunc) (any, error)

// flight tracks the callers waiting on one singleflight key
type flight struct {
	waiters map[*waiter]struct{}
	cancel  context.CancelFunc
}

type waiter struct {
	mu       sync.Mutex
	progress domain.ProgressFunc
	gone     bool
}

func (w *waiter) send(p domain.GenerationProgress) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.gone && w.progress != nil {
		w.progress(p)
	}
}

// detach stops delivery. It waits for a send in progress, so nothing
// reaches the callback once it returns.
func (w *waiter) detach() {
	w.mu.Lock()
	w.gone = true
	w.mu.Unlock()
}

func newGenerationGuard(lock driven.DistributedLock, ttl time.Duration, logger *slog.Logger) *generationGuard {
	return &generationGuard{
		lock:    lock,
		ttl:     ttl,
		logger:  logger,
		flights: make(map[string]*flight),
		leases:  make(map[string]chan struct{}),
	}
}

// Do runs fn for the call unless a call with the same flight is already
// running, in which case it waits for that call's result. Returns
// domain.ErrGenerationInProgress if another instance holds the lease.
func (g *generationGuard) Do(ctx context.Context, call guardCall, fn generateFunc) (any, error) {
	key := call.Flight
	if key == "" {
		key = call.Unit
	}
	w := &waiter{progress: call.Progress}

	g.mu.Lock()
	f := g.flights[key]
	if f == nil {
		f = &flight{waiters: make(map[*waiter]struct{})}
		g.flights[key] = f
	}
	f.waiters[w] = struct{}{}
	g.mu.Unlock()

	ch := g.group.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()

		g.mu.Lock()
		if len(f.waiters) == 0 {
			g.mu.Unlock()
			return nil, context.Canceled
		}
		f.cancel = cancel
		g.mu.Unlock()

		return g.leased(runCtx, call.Unit, func(ctx context.Context) (any, error) {
			return fn(ctx, g.broadcast(f))
		})
	})

	select {
	case res := <-ch:
		g.leave(key, f, w, false)
		return res.Val, res.Err
	case <-ctx.Done():
		g.leave(key, f, w, true)
		return nil, ctx.Err()
	}
}

// broadcast fans progress out to the callers still waiting on f
func (g *generationGuard) broadcast(f *flight) domain.ProgressFunc {
	return func(p domain.GenerationProgress) {
		g.mu.Lock()
		waiters := make([]*waiter, 0, len(f.waiters))
		for w := range f.waiters {
			waiters = append(waiters, w)
		}
		g.mu.Unlock()

		for _, w := range waiters {
			w.send(p)
		}
	}
}

func (g *generationGuard) leave(key string, f *flight, w *waiter, cancelled bool) {
	w.detach()

	g.mu.Lock()
	defer g.mu.Unlock()

	delete(f.waiters, w)
	if len(f.waiters) > 0 {
		return
	}
	if g.flights[key] == f {
		delete(g.flights, key)
	}
	if cancelled {
		// later callers start a fresh call instead of joining this one
		g.group.Forget(key)
		if f.cancel != nil {
			f.cancel()
		}
	}
}

// leased runs fn while holding the unit's lease. A holder in this process
// is waited for; a holder elsewhere fails the call.
func (g *generationGuard) leased(ctx context.Context, unit string, fn func(ctx context.Context) (any, error)) (any, error) {
	release, err := g.holdLocal(ctx, unit)
	if err != nil {
		return nil, err
	}
	defer release()

	if g.lock == nil {
		return fn(ctx)
	}

	name := "generate:" + unit
	acquired, err := g.lock.Acquire(ctx, name, g.ttl)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire lease %s: %v", domain.ErrServiceUnavailable, name, err)
	}
	if !acquired {
		g.logger.Debug("generation lease held by another instance", "lease", name)
		return nil, domain.ErrGenerationInProgress
	}
	defer func() {
		if err := g.lock.Release(context.WithoutCancel(ctx), name); err != nil {
			g.logger.Warn("failed to release generation lease", "lease", name, "error", err)
		}
	}()

	return fn(ctx)
}

func (g *generationGuard) holdLocal(ctx context.Context, unit string) (func(), error) {
	for {
		g.mu.Lock()
		held, busy := g.leases[unit]
		if !busy {
			done := make(chan struct{})
			g.leases[unit] = done
			g.mu.Unlock()
			return func() {
				g.mu.Lock()
				delete(g.leases, unit)
				g.mu.Unlock()
				close(done)
			}, nil
		}
		g.mu.Unlock()

		select {
		case <-held:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
