// File: internal/cache/cache_test.go
package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGetMiss(t *testing.T) {
	s := New()

	html, ok := s.Get("https://example.com/form")
	assert.False(t, ok)
	assert.Empty(t, html)
	assert.Equal(t, 0, s.Len())
}

func TestStorePutAndGet(t *testing.T) {
	s := New()

	require.True(t, s.Put("https://example.com/form", "<html>H</html>"))

	html, ok := s.Get("https://example.com/form")
	require.True(t, ok)
	assert.Equal(t, "<html>H</html>", html)
	assert.Equal(t, 1, s.Len())
}

func TestStoreFirstFetchWins(t *testing.T) {
	s := New()

	require.True(t, s.Put("https://example.com/form", "first"))
	// A second write for the same key must never overwrite the entry.
	assert.False(t, s.Put("https://example.com/form", "second"))

	html, ok := s.Get("https://example.com/form")
	require.True(t, ok)
	assert.Equal(t, "first", html)
}

func TestStoreKeysAreExactStrings(t *testing.T) {
	s := New()

	// No normalization: trailing slashes, fragments, and case all produce
	// distinct entries.
	require.True(t, s.Put("https://example.com/form", "a"))
	require.True(t, s.Put("https://example.com/form/", "b"))
	require.True(t, s.Put("https://example.com/FORM", "c"))

	assert.Equal(t, 3, s.Len())
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url := fmt.Sprintf("https://example.com/%d", i%4)
			s.Put(url, fmt.Sprintf("doc-%d", i))
			s.Get(url)
		}(i)
	}
	wg.Wait()

	// Four distinct keys; each holds whichever writer won.
	assert.Equal(t, 4, s.Len())
}
