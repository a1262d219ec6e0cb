package dedupcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), Config{Addr: mr.Addr(), KeyPrefix: "agent:", TTL: time.Minute})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCache_SeenIsFalseUntilMarked(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	seen, err := c.Seen(ctx, "item-1")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if seen {
		t.Error("seen = true before MarkSeen, want false")
	}

	if err := c.MarkSeen(ctx, "item-1"); err != nil {
		t.Fatalf("MarkSeen() error = %v", err)
	}

	seen, err = c.Seen(ctx, "item-1")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if !seen {
		t.Error("seen = false after MarkSeen, want true")
	}
}

func TestCache_UnrelatedIDsDoNotCollide(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.MarkSeen(ctx, "item-1"); err != nil {
		t.Fatalf("MarkSeen() error = %v", err)
	}
	seen, err := c.Seen(ctx, "item-2")
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if seen {
		t.Error("seen = true for an unrelated id, want false")
	}
}
