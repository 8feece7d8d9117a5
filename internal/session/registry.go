// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

// Package session caches open collections across requests and guarantees
// that, for a given user, at most one request is touching the collection at
// any instant. SQLite with WAL could serve concurrent readers, but each
// user's request rate is tiny and cross-user contention is zero (one file
// per user), so serializing per user buys correctness for free.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/emadruga/javumbo-sub001/internal/clock"
	"github.com/emadruga/javumbo-sub001/internal/store"
)

var (
	// ErrCancelled is returned when the caller's context expires while
	// waiting for the per-user lock.
	ErrCancelled = errors.New("Request cancelled")
	// ErrStoreOpen wraps a failure to open the user's collection.
	ErrStoreOpen = errors.New("Failed to open collection")
	// ErrEvictionTimeout is returned when Invalidate cannot drain in-flight
	// work within its deadline.
	ErrEvictionTimeout = errors.New("Session eviction timed out")
)

const (
	// DefaultTTL is how long an idle session stays open.
	DefaultTTL = 300 * time.Second
	// DefaultSweepInterval bounds how often Sweep runs.
	DefaultSweepInterval = 30 * time.Second
	// invalidateDeadline bounds how long Invalidate waits for in-flight work.
	invalidateDeadline = 30 * time.Second
)

// Opener maps a username to its open collection store.
type Opener func(username string) (*store.Store, error)

// Registry is the process-wide username -> session map.
type Registry struct {
	open Opener
	ttl  time.Duration
	clk  clock.Clock
	log  *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem   chan struct{} // capacity 1; holding a slot = owning the entry
	store *store.Store

	// guarded by Registry.mu
	lastAccessMS int64
	inUse        int
	dirty        bool
	evicted      bool
}

// Lease is a borrowed reference to an open store. It must be returned with
// exactly one Release call.
type Lease struct {
	reg      *Registry
	username string
	ent      *entry
	released bool
}

// Store returns the collection store the lease borrows.
func (l *Lease) Store() *store.Store { return l.ent.store }

// NewRegistry builds a registry. ttl <= 0 selects the default.
func NewRegistry(open Opener, ttl time.Duration, clk clock.Clock, log *zap.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		open:    open,
		ttl:     ttl,
		clk:     clk,
		log:     log,
		entries: make(map[string]*entry),
	}
}

// Acquire blocks until the caller owns the user's session, opening the
// collection on first use. Honours ctx cancellation while waiting.
func (r *Registry) Acquire(ctx context.Context, username string) (*Lease, error) {
	for {
		r.mu.Lock()
		e, ok := r.entries[username]
		if !ok {
			e = &entry{sem: make(chan struct{}, 1)}
			r.entries[username] = e
		}
		r.mu.Unlock()

		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}

		r.mu.Lock()
		if e.evicted {
			// Lost a race with Sweep/Invalidate; the entry is gone from the
			// map. Start over with a fresh one.
			r.mu.Unlock()
			<-e.sem
			continue
		}
		if e.store == nil {
			r.mu.Unlock()
			st, err := r.open(username)
			if err != nil {
				// Do not leave a half-open entry behind.
				r.mu.Lock()
				if !e.evicted && e.inUse == 0 {
					e.evicted = true
					delete(r.entries, username)
				}
				r.mu.Unlock()
				<-e.sem
				if errors.Is(err, store.ErrBusy) || errors.Is(err, store.ErrCollectionMissing) {
					return nil, err
				}
				return nil, fmt.Errorf("%w: %v", ErrStoreOpen, err)
			}
			r.mu.Lock()
			e.store = st
		}
		e.inUse++
		e.lastAccessMS = r.clk.NowMS()
		r.mu.Unlock()

		return &Lease{reg: r, username: username, ent: e}, nil
	}
}

// Release returns the lease. A dirty lease schedules a WAL checkpoint once
// nothing else is using the entry. Release never blocks on the checkpoint.
func (r *Registry) Release(l *Lease, dirty bool) {
	if l == nil || l.released {
		return
	}
	l.released = true
	e := l.ent

	r.mu.Lock()
	e.inUse--
	e.lastAccessMS = r.clk.NowMS()
	if dirty {
		e.dirty = true
	}
	flush := e.dirty && e.inUse == 0 && !e.evicted
	if flush {
		e.dirty = false
	}
	st := e.store
	r.mu.Unlock()

	if flush && st != nil {
		// The semaphore is still held here, so the checkpoint cannot race
		// with another request; hand the slot back when it finishes.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := st.Checkpoint(ctx); err != nil {
				r.log.Warn("background checkpoint failed",
					zap.String("user", l.username), zap.Error(err))
			}
			<-e.sem
		}()
		return
	}
	<-e.sem
}

// Flush forces the user's collection to disk and returns once the file
// reflects all committed writes. A no-op for users with no session.
func (r *Registry) Flush(ctx context.Context, username string) error {
	r.mu.Lock()
	e, ok := r.entries[username]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
	defer func() { <-e.sem }()

	r.mu.Lock()
	st := e.store
	e.dirty = false
	r.mu.Unlock()
	if st == nil {
		return nil
	}
	return st.Checkpoint(ctx)
}

// Sweep evicts idle entries. Invoked periodically by Run; exposed for tests.
func (r *Registry) Sweep() {
	nowMS := r.clk.NowMS()
	r.mu.Lock()
	var victims []struct {
		name string
		ent  *entry
	}
	for name, e := range r.entries {
		if e.inUse == 0 && nowMS-e.lastAccessMS > r.ttl.Milliseconds() {
			victims = append(victims, struct {
				name string
				ent  *entry
			}{name, e})
		}
	}
	r.mu.Unlock()

	for _, v := range victims {
		select {
		case v.ent.sem <- struct{}{}:
		default:
			continue // became busy since the scan
		}
		r.mu.Lock()
		expired := !v.ent.evicted && v.ent.inUse == 0 &&
			nowMS-v.ent.lastAccessMS > r.ttl.Milliseconds()
		if expired {
			v.ent.evicted = true
			delete(r.entries, v.name)
		}
		st := v.ent.store
		r.mu.Unlock()
		if expired && st != nil {
			if err := st.Close(); err != nil {
				r.log.Warn("closing idle session", zap.String("user", v.name), zap.Error(err))
			} else {
				r.log.Debug("evicted idle session", zap.String("user", v.name))
			}
		}
		<-v.ent.sem
	}
}

// Invalidate forcibly drops the user's entry, waiting up to 30 seconds for
// in-flight work to drain.
func (r *Registry) Invalidate(ctx context.Context, username string) error {
	r.mu.Lock()
	e, ok := r.entries[username]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	deadline := time.NewTimer(invalidateDeadline)
	defer deadline.Stop()
	select {
	case e.sem <- struct{}{}:
	case <-deadline.C:
		return ErrEvictionTimeout
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
	defer func() { <-e.sem }()

	r.mu.Lock()
	if !e.evicted {
		e.evicted = true
		delete(r.entries, username)
	}
	st := e.store
	r.mu.Unlock()
	if st != nil {
		return st.Close()
	}
	return nil
}

// Run sweeps on the given interval until ctx is cancelled, then closes every
// remaining session.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-ctx.Done():
			r.CloseAll()
			return
		}
	}
}

// CloseAll drops every entry, waiting briefly for in-flight work.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.Unlock()
	for _, name := range names {
		ctx, cancel := context.WithTimeout(context.Background(), invalidateDeadline)
		if err := r.Invalidate(ctx, name); err != nil {
			r.log.Warn("closing session at shutdown", zap.String("user", name), zap.Error(err))
		}
		cancel()
	}
}

// Len reports the number of cached sessions. Used by tests and metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
