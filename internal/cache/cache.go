// File: internal/cache/cache.go

// Package cache provides the in-memory response store that memoizes rendered
// HTML for the lifetime of the process. Keys are the exact URL strings
// supplied by callers; no normalization is applied, so "https://a/b" and
// "https://a/b/" are distinct entries. There is no TTL and no eviction.
package cache

import "sync"

// Store maps a target URL to previously rendered HTML. Writes follow a
// first-fetch-wins discipline: once a key holds a value it is never
// overwritten, so a cached document stays byte-identical across hits.
type Store struct {
	mu      sync.RWMutex
	entries map[string]string
}

// New creates an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]string)}
}

// Get returns the cached HTML for url and whether an entry exists.
func (s *Store) Get(url string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	html, ok := s.entries[url]
	return html, ok
}

// Put stores html under url unless the key is already populated. It reports
// whether the value was stored.
func (s *Store) Put(url, html string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[url]; exists {
		return false
	}
	s.entries[url] = html
	return true
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
