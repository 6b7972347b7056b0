package epack

import (
	"sync"

	"github.com/Beaconwise-Labs/tek/pkg/stablehash"
)

// CitationCache memoizes per-citation verification outcomes for a session.
// Keys are 16-hex digests of the citation's canonical form, so the same
// citation always lands on the same entry no matter how the fields arrived.
type CitationCache struct {
	mu      sync.Mutex
	entries map[string]CitationEntry
}

// CitationEntry is one verified (or failed) citation lookup.
type CitationEntry struct {
	Key                string         `json:"key"`
	Citation           map[string]any `json:"citation"`
	VerificationStatus string         `json:"verification_status"`
	CheckedAt          float64        `json:"checked_at"`
}

func NewCitationCache() *CitationCache {
	return &CitationCache{entries: make(map[string]CitationEntry)}
}

// Key derives the cache key for a citation.
func CitationKey(citation map[string]any) (string, error) {
	h, err := stablehash.Hash(citation)
	if err != nil {
		return "", err
	}
	return h[:16], nil
}

// Put records a verification outcome. The first write for a key wins;
// re-verification of an identical citation is a no-op, which keeps EPACK
// cache-update payloads idempotent across repair rounds.
func (c *CitationCache) Put(entry CitationEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[entry.Key]; exists {
		return false
	}
	c.entries[entry.Key] = entry
	return true
}

// Get returns the cached entry for key, if any.
func (c *CitationCache) Get(key string) (CitationEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

// Updates returns entries added since the given set of known keys, in no
// particular order. The turn engine folds these into the EPACK payload as
// citation_cache_updates.
func (c *CitationCache) Updates(known map[string]bool) []CitationEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []CitationEntry
	for k, e := range c.entries {
		if !known[k] {
			out = append(out, e)
		}
	}
	return out
}

// Len reports the number of cached entries.
func (c *CitationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
