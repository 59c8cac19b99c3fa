package mesh

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DefaultFitCachePath is the default path for the registration cache
const DefaultFitCachePath = ".fit-cache.json"

// PairKey identifies a body/garment/profile combination in the cache
func PairKey(body, garment, profile string) string {
	return body + "|" + garment + "|" + profile
}

// LoadFitCache loads cached registrations from a JSON file.
// A missing file is not an error and returns (nil, nil).
func LoadFitCache(path string) (*FitCache, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No cache file yet
		}
		return nil, fmt.Errorf("reading fit cache: %w", err)
	}

	var cache FitCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("parsing fit cache: %w", err)
	}
	if cache.Entries == nil {
		cache.Entries = make(map[string]CachedFit)
	}

	return &cache, nil
}

// SaveFitCache writes the cache as indented JSON, creating the directory if needed
func SaveFitCache(path string, cache *FitCache) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating fit cache directory: %w", err)
	}

	cache.LastUpdated = time.Now().Unix()

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling fit cache: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing fit cache: %w", err)
	}

	return nil
}

// NewFitCache returns an empty cache
func NewFitCache() *FitCache {
	return &FitCache{Entries: make(map[string]CachedFit)}
}

// Get returns the cached registration for key
func (c *FitCache) Get(key string) (CachedFit, bool) {
	if c == nil || c.Entries == nil {
		return CachedFit{}, false
	}
	entry, ok := c.Entries[key]
	return entry, ok
}

// Put stores a successful registration. Fallback results are not cached.
func (c *FitCache) Put(key string, result *FitResult) bool {
	if result == nil || result.Fallback || result.Cached {
		return false
	}
	if c.Entries == nil {
		c.Entries = make(map[string]CachedFit)
	}
	c.Entries[key] = CachedFit{
		Registration: result.Registration,
		Error:        result.ICP.Error,
		Iterations:   result.ICP.Iterations,
		LastUpdated:  time.Now().Unix(),
	}
	return true
}

// Keys returns the cached keys in sorted order
func (c *FitCache) Keys() []string {
	if c == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Entries))
	for k := range c.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NeedsRefresh reports whether the entry for key is missing or older than maxAge
func (c *FitCache) NeedsRefresh(key string, maxAge time.Duration) bool {
	entry, ok := c.Get(key)
	if !ok || entry.LastUpdated == 0 {
		return true
	}
	return time.Since(time.Unix(entry.LastUpdated, 0)) > maxAge
}

// SyncFitCache guards a FitCache shared between batch workers
type SyncFitCache struct {
	mu    sync.Mutex
	cache *FitCache
}

// NewSyncFitCache wraps cache; a nil cache starts empty
func NewSyncFitCache(cache *FitCache) *SyncFitCache {
	if cache == nil {
		cache = NewFitCache()
	}
	return &SyncFitCache{cache: cache}
}

// Get returns the cached registration for key
func (s *SyncFitCache) Get(key string) (CachedFit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Get(key)
}

// Put stores a successful registration
func (s *SyncFitCache) Put(key string, result *FitResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Put(key, result)
}

// Save writes the cache to path
func (s *SyncFitCache) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SaveFitCache(path, s.cache)
}
