// Package cache provides a generic LRU cache with TTL expiry and a janitor
// that periodically sweeps registered caches.
package cache

import (
	"context"
	"sync"
	"time"

	"budgetly/internal/log"
)

// Cache defines a generic cache interface
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
	Size() int
}

var _ Cache[int] = (*LRU[int])(nil)

// Cleaner is implemented by caches with expirable entries.
type Cleaner interface {
	CleanExpired() int
}

// Janitor sweeps expired entries out of registered caches.
type Janitor struct {
	mu     sync.Mutex
	caches map[string]Cleaner
	logger *log.Logger
}

func NewJanitor(logger *log.Logger) *Janitor {
	return &Janitor{
		caches: make(map[string]Cleaner),
		logger: log.OrDiscard(logger).WithComponent(log.ComponentCache),
	}
}

// Register adds a cache under a name used in logs.
func (j *Janitor) Register(name string, c Cleaner) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.caches[name] = c
}

// Sweep cleans every registered cache once and returns the total removed.
func (j *Janitor) Sweep() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	total := 0
	for name, c := range j.caches {
		if n := c.CleanExpired(); n > 0 {
			j.logger.Debug("Expired cache entries removed", "cache", name, "count", n)
			total += n
		}
	}
	return total
}

// Run sweeps on every tick until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}
