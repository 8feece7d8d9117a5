// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emadruga/javumbo-sub001/internal/anki"
	"github.com/emadruga/javumbo-sub001/internal/clock"
	"github.com/emadruga/javumbo-sub001/internal/store"
)

// testOpener creates a real collection per username under dir and counts how
// often each one is opened.
type testOpener struct {
	dir   string
	clk   clock.Clock
	opens int32
}

func (o *testOpener) open(username string) (*store.Store, error) {
	atomic.AddInt32(&o.opens, 1)
	path := filepath.Join(o.dir, username+".anki2")
	if err := anki.Initialize(path, username, o.clk); err != nil && !errors.Is(err, anki.ErrSchemaInit) {
		return nil, err
	}
	return store.Open(path)
}

func newTestRegistry(t *testing.T) (*Registry, *testOpener, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	opener := &testOpener{dir: t.TempDir(), clk: clk}
	reg := NewRegistry(opener.open, DefaultTTL, clk, nil)
	t.Cleanup(reg.CloseAll)
	return reg, opener, clk
}

func TestAcquireCachesOpenStore(t *testing.T) {
	reg, opener, _ := newTestRegistry(t)
	ctx := context.Background()

	lease, err := reg.Acquire(ctx, "alice")
	require.NoError(t, err)
	st := lease.Store()
	reg.Release(lease, false)

	lease, err = reg.Acquire(ctx, "alice")
	require.NoError(t, err)
	if lease.Store() != st {
		t.Fatal("Second acquire should reuse the cached store")
	}
	reg.Release(lease, false)

	if n := atomic.LoadInt32(&opener.opens); n != 1 {
		t.Fatalf("Expected exactly one open, got %d", n)
	}
	if reg.Len() != 1 {
		t.Fatalf("Expected one cached session, got %d", reg.Len())
	}
}

func TestAcquireSerializesPerUser(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	lease, err := reg.Acquire(ctx, "alice")
	require.NoError(t, err)

	var order []string
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		l2, err := reg.Acquire(ctx, "alice")
		if err != nil {
			t.Errorf("second acquire: %s", err)
			return
		}
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		reg.Release(l2, false)
	}()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	order = append(order, "first")
	mu.Unlock()
	reg.Release(lease, false)
	<-done

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("Requests not serialized in arrival order: %v", order)
	}
}

func TestAcquireDifferentUsersDoNotBlock(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	la, err := reg.Acquire(ctx, "alice")
	require.NoError(t, err)
	defer reg.Release(la, false)

	ctx2, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	lb, err := reg.Acquire(ctx2, "bob")
	if err != nil {
		t.Fatalf("Cross-user acquire should not block: %s", err)
	}
	reg.Release(lb, false)
}

func TestAcquireHonoursCancellation(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	lease, err := reg.Acquire(ctx, "alice")
	require.NoError(t, err)
	defer reg.Release(lease, false)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = reg.Acquire(waitCtx, "alice")
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Expected ErrCancelled, got %v", err)
	}
}

func TestAcquireOpenFailure(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	var calls int32
	reg := NewRegistry(func(string) (*store.Store, error) {
		atomic.AddInt32(&calls, 1)
		return nil, store.ErrCollectionMissing
	}, DefaultTTL, clk, nil)

	_, err := reg.Acquire(context.Background(), "ghost")
	if !errors.Is(err, store.ErrCollectionMissing) {
		t.Fatalf("Expected ErrCollectionMissing passthrough, got %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("Failed open must not leave a half-open entry, Len=%d", reg.Len())
	}

	// A later acquire tries the opener again rather than reusing dead state.
	_, err = reg.Acquire(context.Background(), "ghost")
	require.Error(t, err)
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("Expected opener retried, got %d calls", n)
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	reg, opener, clk := newTestRegistry(t)
	ctx := context.Background()

	lease, err := reg.Acquire(ctx, "alice")
	require.NoError(t, err)
	reg.Release(lease, false)

	// Not yet expired.
	clk.Advance(DefaultTTL - time.Second)
	reg.Sweep()
	if reg.Len() != 1 {
		t.Fatalf("Session evicted before TTL, Len=%d", reg.Len())
	}

	clk.Advance(2 * time.Second)
	reg.Sweep()
	if reg.Len() != 0 {
		t.Fatalf("Idle session not evicted after TTL, Len=%d", reg.Len())
	}

	// The next acquire reopens the collection.
	lease, err = reg.Acquire(ctx, "alice")
	require.NoError(t, err)
	reg.Release(lease, false)
	if n := atomic.LoadInt32(&opener.opens); n != 2 {
		t.Fatalf("Expected reopen after eviction, got %d opens", n)
	}
}

func TestSweepSkipsBusySessions(t *testing.T) {
	reg, _, clk := newTestRegistry(t)
	ctx := context.Background()

	lease, err := reg.Acquire(ctx, "alice")
	require.NoError(t, err)
	defer reg.Release(lease, false)

	clk.Advance(DefaultTTL + time.Minute)
	reg.Sweep()
	if reg.Len() != 1 {
		t.Fatal("Sweep must not evict a session with in-flight work")
	}
	// The lease is still usable.
	if lease.Store() == nil {
		t.Fatal("Store vanished under an active lease")
	}
}

func TestInvalidateDropsEntry(t *testing.T) {
	reg, opener, _ := newTestRegistry(t)
	ctx := context.Background()

	lease, err := reg.Acquire(ctx, "alice")
	require.NoError(t, err)
	reg.Release(lease, false)

	require.NoError(t, reg.Invalidate(ctx, "alice"))
	if reg.Len() != 0 {
		t.Fatalf("Invalidate left the entry cached, Len=%d", reg.Len())
	}

	// Unknown users are a no-op.
	require.NoError(t, reg.Invalidate(ctx, "nobody"))

	lease, err = reg.Acquire(ctx, "alice")
	require.NoError(t, err)
	reg.Release(lease, false)
	if n := atomic.LoadInt32(&opener.opens); n != 2 {
		t.Fatalf("Expected reopen after invalidate, got %d opens", n)
	}
}

func TestFlushNoSession(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	require.NoError(t, reg.Flush(context.Background(), "nobody"))
}

func TestDirtyReleaseCheckpoints(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()

	lease, err := reg.Acquire(ctx, "alice")
	require.NoError(t, err)
	_, err = lease.Store().Execute(ctx, "INSERT INTO graves (usn, oid, type) VALUES (-1, 1, 0)")
	require.NoError(t, err)
	reg.Release(lease, true)

	// The background checkpoint holds the slot until it finishes; a fresh
	// acquire proves it completed and the entry survived.
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	lease, err = reg.Acquire(waitCtx, "alice")
	require.NoError(t, err)
	defer reg.Release(lease, false)
	if reg.Len() != 1 {
		t.Fatalf("Dirty release should keep the session cached, Len=%d", reg.Len())
	}
}
