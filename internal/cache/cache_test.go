package cache

import (
	"bytes"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{TileCacheSizeMB: 8, TileTTL: time.Minute, QueryCacheSize: 2})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestTileKey(t *testing.T) {
	base := TileKey("genes", 0, "chr1", "Pack", 0.5, 3)
	if base != "tile:genes@0/chr1/0.5/3:Pack" {
		t.Fatalf("unexpected key %q", base)
	}

	t.Run("generation", func(t *testing.T) {
		if got := TileKey("genes", 1, "chr1", "Pack", 0.5, 3); got == base {
			t.Fatalf("expected a new generation to change the key, got %q", got)
		}
	})

	t.Run("mode", func(t *testing.T) {
		if got := TileKey("genes", 0, "chr1", "Dense", 0.5, 3); got == base {
			t.Fatalf("expected mode to change the key, got %q", got)
		}
	})

	t.Run("meta", func(t *testing.T) {
		if got := MetaKey(base); got != "meta:"+base {
			t.Fatalf("unexpected meta key %q", got)
		}
	})
}

func TestTileCache(t *testing.T) {
	m := newTestManager(t)
	key := TileKey("genes", 0, "chr1", "Pack", 1, 0)

	if _, ok := m.GetTile(key); ok {
		t.Fatal("expected miss on empty cache")
	}
	png := []byte{0x89, 'P', 'N', 'G'}
	if err := m.SetTile(key, png); err != nil {
		t.Fatalf("SetTile: %v", err)
	}
	got, ok := m.GetTile(key)
	if !ok || !bytes.Equal(got, png) {
		t.Fatalf("expected %v, got %v (ok=%v)", png, got, ok)
	}
	if n := m.Stats()["tile_cache_len"]; n != 1 {
		t.Fatalf("expected 1 tile, got %v", n)
	}
}

func TestQueryCacheEvicts(t *testing.T) {
	m := newTestManager(t)
	m.SetQuery(StateKey("a", "chr1"), []byte("1"))
	m.SetQuery(StateKey("b", "chr1"), []byte("2"))
	m.SetQuery(StateKey("c", "chr1"), []byte("3"))

	if _, ok := m.GetQuery(StateKey("a", "chr1")); ok {
		t.Fatal("expected oldest entry to be evicted")
	}
	if v, ok := m.GetQuery(StateKey("c", "chr1")); !ok || string(v) != "3" {
		t.Fatalf("expected newest entry, got %q (ok=%v)", v, ok)
	}

	m.DeleteQuery(StateKey("c", "chr1"))
	if _, ok := m.GetQuery(StateKey("c", "chr1")); ok {
		t.Fatal("expected deleted entry to be gone")
	}
}
