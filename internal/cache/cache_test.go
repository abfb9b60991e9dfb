package cache

import (
	"testing"
	"time"
)

func TestPhenotypeMapKey(t *testing.T) {
	base := "phenmap:default"

	t.Run("nilFilter", func(t *testing.T) {
		got := PhenotypeMapKey("default", nil)
		if got != base {
			t.Fatalf("expected %q, got %q", base, got)
		}
	})

	t.Run("filteredKeyDiffers", func(t *testing.T) {
		got := PhenotypeMapKey("default", []string{"CK+"})
		if got == base {
			t.Fatalf("expected filtered key to differ from base, got %q", got)
		}
	})

	t.Run("filterOrderMatters", func(t *testing.T) {
		key1 := PhenotypeMapKey("default", []string{"CK+", "CD8+"})
		key2 := PhenotypeMapKey("default", []string{"CK+", "CD8+"})
		if key1 != key2 {
			t.Fatalf("expected stable key, got %q vs %q", key1, key2)
		}
	})
}

func TestNearestQueryKey(t *testing.T) {
	k1 := NearestQueryKey("default", "CK+", "CD8+", false, nil)
	k2 := NearestQueryKey("default", "CD8+", "CK+", false, nil)
	if k1 == k2 {
		t.Fatalf("expected direction-sensitive keys, got %q for both", k1)
	}

	k3 := NearestQueryKey("default", "CK+", "CD8+", true, nil)
	if k1 == k3 {
		t.Fatalf("expected mutual flag to change key")
	}

	k4 := NearestQueryKey("default", "CK+", "CD8+", false, []float64{10, 25})
	if k1 == k4 {
		t.Fatalf("expected radii to change key")
	}
}

func TestManagerRoundTrip(t *testing.T) {
	m, err := NewManager(Config{
		PlotCacheSizeMB: 16,
		PlotTTL:         time.Minute,
		QueryCacheSize:  10,
	})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	defer m.Close()

	if _, ok := m.GetPlot("missing"); ok {
		t.Fatal("expected miss for absent plot key")
	}
	if err := m.SetPlot("k", []byte("png-bytes")); err != nil {
		t.Fatalf("SetPlot failed: %v", err)
	}
	data, ok := m.GetPlot("k")
	if !ok || string(data) != "png-bytes" {
		t.Fatalf("unexpected plot cache result: ok=%v data=%q", ok, data)
	}

	if _, ok := m.GetQuery("missing"); ok {
		t.Fatal("expected miss for absent query key")
	}
	m.SetQuery("q", []byte(`{"results":[]}`))
	data, ok = m.GetQuery("q")
	if !ok || string(data) != `{"results":[]}` {
		t.Fatalf("unexpected query cache result: ok=%v data=%q", ok, data)
	}

	stats := m.Stats()
	if stats["query_cache_len"].(int) != 1 {
		t.Errorf("unexpected query cache length: %v", stats["query_cache_len"])
	}
}
