// Package tokens keeps the API-token table in memory and refreshes it from Postgres.
package tokens

import (
	"errors"
	"sync"
)

var (
	// ErrInvalidAPIKey signals that the provided API key is not known.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrTokenStoreNotReady signals that the token store has not been loaded yet.
	// This can happen during startup when the DB isn't ready.
	ErrTokenStoreNotReady = errors.New("token store not ready")
)

// Cache is the in-memory token -> rate limit table. A nil table means the
// store was never loaded.
type Cache struct {
	mu     sync.RWMutex
	limits map[string]int
}

// NewCache returns an empty, not yet ready cache.
func NewCache() *Cache {
	return &Cache{}
}

// Replace swaps the whole table. The map is copied.
func (c *Cache) Replace(m map[string]int) {
	limits := make(map[string]int, len(m))
	for k, v := range m {
		limits[k] = v
	}
	c.mu.Lock()
	c.limits = limits
	c.mu.Unlock()
}

// Ready reports whether the table has been loaded at least once.
func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limits != nil
}

// Validate checks whether the given token exists in the table.
func (c *Cache) Validate(token string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.limits[token]
	return ok
}

// RateLimit returns the configured limit for token. Unknown tokens return 0,
// which disables per-token limiting.
func (c *Cache) RateLimit(token string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limits[token]
}

// Len returns the number of known tokens.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.limits)
}
