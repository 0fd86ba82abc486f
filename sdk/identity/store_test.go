package identity

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tapistry/sdk/clock/clocktest"
	"tapistry/shared/cachex"
)

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	clk := clocktest.New(time.Unix(1000, 0))
	m := NewMemoryStore(clk)

	if err := m.Set(ctx, KeyAnonymousID, "a-1", time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, _ := m.Get(ctx, KeyAnonymousID); !ok || v != "a-1" {
		t.Fatalf("expected a-1, got %q %v", v, ok)
	}
	clk.Advance(time.Hour)
	if _, ok, _ := m.Get(ctx, KeyAnonymousID); ok {
		t.Fatalf("expected expiry after ttl")
	}
}

func TestSQLiteStorePersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	clk := clocktest.New(time.Unix(1000, 0))
	path := filepath.Join(t.TempDir(), "identity.db")

	s, err := OpenSQLite(ctx, path, clk)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Set(ctx, KeyAnonymousID, "a-1", TTL); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, KeyUserID, "u-1", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, KeyUserID, "u-2", time.Minute); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	clk.Advance(2 * time.Minute)
	s, err = OpenSQLite(ctx, path, clk)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	if v, ok, err := s.Get(ctx, KeyAnonymousID); err != nil || !ok || v != "a-1" {
		t.Fatalf("expected persisted a-1, got %q %v %v", v, ok, err)
	}
	if _, ok, err := s.Get(ctx, KeyUserID); err != nil || ok {
		t.Fatalf("expected expired uid, got ok=%v err=%v", ok, err)
	}
	if err := s.Remove(ctx, KeyAnonymousID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := s.Get(ctx, KeyAnonymousID); ok {
		t.Fatalf("expected removed key to be gone")
	}
}

func TestChainFallsBackOnError(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore(nil)
	c := Chain{Nop{}, mem}

	if err := c.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, err := c.Get(ctx, "k"); err != nil || !ok || v != "v" {
		t.Fatalf("expected fallback read, got %q %v %v", v, ok, err)
	}
	if err := c.Remove(ctx, "k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
}

func TestChainCleanMissStopsLookup(t *testing.T) {
	ctx := context.Background()
	first, second := NewMemoryStore(nil), NewMemoryStore(nil)
	_ = second.Set(ctx, "k", "stale", 0)
	if _, ok, err := (Chain{first, second}).Get(ctx, "k"); ok || err != nil {
		t.Fatalf("a miss in the first store must be the answer, got ok=%v err=%v", ok, err)
	}
}

func TestChainAllUnavailable(t *testing.T) {
	ctx := context.Background()
	if _, _, err := (Chain{Nop{}, Nop{}}).Get(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := (Chain{}).Set(ctx, "k", "v", 0); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for empty chain, got %v", err)
	}
}

func TestRedisStoreWithoutClient(t *testing.T) {
	r := NewRedisStore(nil)
	if _, _, err := r.Get(context.Background(), KeyAnonymousID); !errors.Is(err, cachex.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}
