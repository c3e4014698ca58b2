package itemcache

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/hrodmn/eoapi-subdataset-params/internal/cache/rediscache"
)

type fakeSource struct {
	calls int
	raw   map[string][]byte
	err   error
}

func (f *fakeSource) GetItemRaw(_ context.Context, collection, item string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	b, ok := f.raw[collection+"/"+item]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

func itemJSON(id string) []byte {
	return []byte(`{"id":"` + id + `","collection":"col","assets":{}}`)
}

func newCache(t *testing.T, src Source, withRedis bool) *Cache {
	t.Helper()
	var rc *rediscache.Client
	if withRedis {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("miniredis: %v", err)
		}
		t.Cleanup(mr.Close)
		rc, err = rediscache.New(context.Background(), mr.Addr())
		if err != nil {
			t.Fatalf("rediscache.New: %v", err)
		}
		t.Cleanup(func() { _ = rc.Close() })
	}
	c, err := New(nil, src, rc, Config{LRUSize: 16, OpTimeout: time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestGet_FillsAndServesFromLRU(t *testing.T) {
	src := &fakeSource{raw: map[string][]byte{"col/i1": itemJSON("i1")}}
	c := newCache(t, src, false)

	ctx := context.Background()
	it, err := c.Get(ctx, "col", "i1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if it.ID != "i1" {
		t.Fatalf("item id = %q", it.ID)
	}

	// second lookup must not reach the source
	if _, err := c.Get(ctx, "col", "i1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("source calls = %d, want 1", src.calls)
	}
}

func TestGet_RedisTierSurvivesLRUEviction(t *testing.T) {
	src := &fakeSource{raw: map[string][]byte{"col/i1": itemJSON("i1")}}
	c := newCache(t, src, true)

	ctx := context.Background()
	if _, err := c.Get(ctx, "col", "i1"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	c.lru.Purge()
	if _, err := c.Get(ctx, "col", "i1"); err != nil {
		t.Fatalf("Get after purge: %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("source calls = %d, want 1 (redis should have served)", src.calls)
	}
}

func TestGet_SourceErrorPassesThrough(t *testing.T) {
	boom := errors.New("pgstac down")
	c := newCache(t, &fakeSource{err: boom}, false)

	if _, err := c.Get(context.Background(), "col", "i1"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestInvalidate_Item(t *testing.T) {
	src := &fakeSource{raw: map[string][]byte{"col/i1": itemJSON("i1")}}
	c := newCache(t, src, true)

	ctx := context.Background()
	if _, err := c.Get(ctx, "col", "i1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := c.Invalidate(ctx, "col", "i1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := c.Get(ctx, "col", "i1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if src.calls != 2 {
		t.Fatalf("source calls = %d, want 2 after invalidation", src.calls)
	}
}

func TestInvalidate_Collection(t *testing.T) {
	src := &fakeSource{raw: map[string][]byte{
		"col/i1": itemJSON("i1"),
		"col/i2": itemJSON("i2"),
	}}
	c := newCache(t, src, true)

	ctx := context.Background()
	for _, id := range []string{"i1", "i2"} {
		if _, err := c.Get(ctx, "col", id); err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
	}

	n, err := c.InvalidateCollection(ctx, "col")
	if err != nil {
		t.Fatalf("InvalidateCollection: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted %d keys, want 2", n)
	}

	if _, err := c.Get(ctx, "col", "i1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if src.calls != 3 {
		t.Fatalf("source calls = %d, want 3", src.calls)
	}
}
