package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/adno-labs/agent-runtime/internal/dedupcache"
	"github.com/adno-labs/agent-runtime/internal/handler"
	"github.com/adno-labs/agent-runtime/internal/model"
)

type fakeSource struct {
	items []Item
	err   error
}

func (f fakeSource) FetchRecent(ctx context.Context) ([]Item, error) {
	return f.items, f.err
}

func newTestCache(t *testing.T) *dedupcache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := dedupcache.New(context.Background(), dedupcache.Config{Addr: mr.Addr(), TTL: time.Minute})
	if err != nil {
		t.Fatalf("dedupcache.New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestHandler_FetchesNewAndSkipsAlreadySeen(t *testing.T) {
	cache := newTestCache(t)
	if err := cache.MarkSeen(context.Background(), "i1"); err != nil {
		t.Fatalf("seed MarkSeen: %v", err)
	}

	source := fakeSource{items: []Item{{ID: "i1", Kind: "doc"}, {ID: "i2", Kind: "doc"}}}
	h := New(source, cache)

	res, err := h.Execute(context.Background(), model.AgentTask{ID: "T1"}, handler.Context{Cancelled: make(chan struct{})})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var decoded struct {
		Fetched int `json:"fetched"`
		Skipped int `json:"skipped"`
	}
	if err := json.Unmarshal(res, &decoded); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if decoded.Fetched != 1 || decoded.Skipped != 1 {
		t.Errorf("fetched/skipped = %d/%d, want 1/1", decoded.Fetched, decoded.Skipped)
	}

	seen, err := cache.Seen(context.Background(), "i2")
	if err != nil || !seen {
		t.Errorf("i2 should be marked seen after Execute, seen=%v err=%v", seen, err)
	}
}

func TestHandler_SourceErrorPropagates(t *testing.T) {
	cache := newTestCache(t)
	source := fakeSource{err: errors.New("upstream unreachable")}
	h := New(source, cache)

	_, err := h.Execute(context.Background(), model.AgentTask{ID: "T1"}, handler.Context{Cancelled: make(chan struct{})})
	if err == nil {
		t.Fatal("expected an error when the source system fails")
	}
}

func TestHandler_StopsEarlyWhenCancelled(t *testing.T) {
	cache := newTestCache(t)
	source := fakeSource{items: []Item{{ID: "i1"}, {ID: "i2"}, {ID: "i3"}}}
	h := New(source, cache)

	cancelled := make(chan struct{})
	close(cancelled)

	res, err := h.Execute(context.Background(), model.AgentTask{ID: "T1"}, handler.Context{Cancelled: cancelled})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var decoded struct {
		Fetched int `json:"fetched"`
	}
	json.Unmarshal(res, &decoded)
	if decoded.Fetched != 0 {
		t.Errorf("fetched = %d, want 0 when cancelled before first item", decoded.Fetched)
	}
}
