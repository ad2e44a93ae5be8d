package commandqueue

import (
	"context"
	"sync"
	"time"
)

type dedupEntry struct {
	result    taskResult
	timestamp time.Time
}

// dedupCache caches task results by request id for a bounded window so
// retried requests (e.g. a resent resume decision) do not re-execute.
type dedupCache struct {
	entries map[string]*dedupEntry
	ttl     time.Duration
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func newDedupCache(ctx context.Context, ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(ctx)
	cache := &dedupCache{
		entries: make(map[string]*dedupEntry),
		ttl:     ttl,
		ctx:     ctx,
		cancel:  cancel,
	}
	go cache.cleanup()
	return cache
}

func (dc *dedupCache) Stop() {
	dc.cancel()
}

func (dc *dedupCache) Get(requestID string) (taskResult, bool) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	entry, ok := dc.entries[requestID]
	if !ok || time.Since(entry.timestamp) > dc.ttl {
		return taskResult{}, false
	}
	return entry.result, true
}

func (dc *dedupCache) Set(requestID string, result taskResult) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.entries[requestID] = &dedupEntry{result: result, timestamp: time.Now()}
}

func (dc *dedupCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-dc.ctx.Done():
			return
		case <-ticker.C:
			dc.mu.Lock()
			now := time.Now()
			for id, entry := range dc.entries {
				if now.Sub(entry.timestamp) > dc.ttl {
					delete(dc.entries, id)
				}
			}
			dc.mu.Unlock()
		}
	}
}
