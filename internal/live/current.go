// Package live holds the in-memory "current activity" cache that feeds the
// external façade's WebSocket snapshot. It is not the source of truth (the
// store is); it is a clone-on-read cache of the Monitor Loop's latest
// published sample, grounded on the same mutex-guarded clone-on-read
// discipline the session store used for live client state.
package live

import (
	"sync"
	"time"

	"github.com/havenwatch/tracker/internal/model"
)

// Snapshot is the current observation published by the Monitor Loop.
type Snapshot struct {
	Observation model.Observation
	TagID       string
	TagName     string
	RuleID      string
	ActivityID  int64
	Since       time.Time
	Paused      bool
}

// Clone returns a deep-enough copy for safe hand-off across goroutines.
func (s Snapshot) Clone() Snapshot {
	return s
}

// Cache is the mutex-guarded current-activity cell.
type Cache struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{}
}

// Set replaces the current snapshot.
func (c *Cache) Set(s Snapshot) {
	c.mu.Lock()
	c.snap = s
	c.mu.Unlock()
}

// Get returns a clone of the current snapshot.
func (c *Cache) Get() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.Clone()
}

// SetPaused flips the paused flag without disturbing the rest of the
// snapshot.
func (c *Cache) SetPaused(paused bool) {
	c.mu.Lock()
	c.snap.Paused = paused
	c.mu.Unlock()
}
