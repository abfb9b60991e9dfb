// Package cache provides caching for rendered maps and analysis results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	PlotCacheSizeMB int
	PlotTTL         time.Duration
	QueryCacheSize  int
}

// Manager manages plot and query caches.
type Manager struct {
	plotCache  *bigcache.BigCache
	queryCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	// Configure plot cache
	plotCacheConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.PlotTTL,
		CleanWindow:        cfg.PlotTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       512 * 1024, // rendered maps are bigger than tiles
		HardMaxCacheSize:   cfg.PlotCacheSizeMB,
		Verbose:            false,
	}

	plotCache, err := bigcache.New(context.Background(), plotCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create plot cache: %w", err)
	}

	// Create query cache
	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Manager{
		plotCache:  plotCache,
		queryCache: queryCache,
	}, nil
}

// GetPlot retrieves a rendered map from cache.
func (m *Manager) GetPlot(key string) ([]byte, bool) {
	data, err := m.plotCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetPlot stores a rendered map in cache.
func (m *Manager) SetPlot(key string, data []byte) error {
	return m.plotCache.Set(key, data)
}

// GetQuery retrieves an analysis result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores an analysis result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// PhenotypeMapKey generates a cache key for a phenotype map render.
func PhenotypeMapKey(dataset string, filter []string) string {
	base := "phenmap:" + dataset
	if len(filter) == 0 {
		return base
	}
	return base + ":" + hashParts(filter)
}

// MarkerMapKey generates a cache key for a marker map render.
func MarkerMapKey(dataset, column, colormap string) string {
	return fmt.Sprintf("markermap:%s:%s:%s", dataset, column, colormap)
}

// NearestMapKey generates a cache key for a nearest-neighbor map render.
func NearestMapKey(dataset, from, to string) string {
	return "nnmap:" + hashParts([]string{dataset, from, to})
}

// NearestQueryKey generates a cache key for an in-request pairwise analysis.
func NearestQueryKey(dataset, from, to string, mutual bool, radii []float64) string {
	parts := []string{dataset, from, to, fmt.Sprintf("%t", mutual)}
	for _, r := range radii {
		parts = append(parts, fmt.Sprintf("%g", r))
	}
	return "nn:" + hashParts(parts)
}

// hashParts hashes key components that may contain arbitrary phenotype
// names.
func hashParts(parts []string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"plot_cache_len":  m.plotCache.Len(),
		"plot_cache_cap":  m.plotCache.Capacity(),
		"query_cache_len": m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.plotCache.Close()
}
