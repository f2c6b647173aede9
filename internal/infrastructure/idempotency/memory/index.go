// Package memory keeps submit idempotency keys in process memory.
package memory

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	jobID     string
	expiresAt time.Time
}

type Index struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

func New(ttl time.Duration) *Index {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Index{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Reserve keeps the first live job recorded for a key.
func (i *Index) Reserve(_ context.Context, ownerID, key, jobID string) (string, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	k := entryKey(ownerID, key)
	if e, ok := i.entries[k]; ok && now.Before(e.expiresAt) {
		return e.jobID, e.jobID == jobID, nil
	}
	i.entries[k] = entry{jobID: jobID, expiresAt: now.Add(i.ttl)}
	return jobID, true, nil
}

func (i *Index) Release(_ context.Context, ownerID, key, jobID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	k := entryKey(ownerID, key)
	if e, ok := i.entries[k]; ok && e.jobID == jobID {
		delete(i.entries, k)
	}
	return nil
}

func entryKey(ownerID, key string) string {
	return ownerID + "\x00" + key
}
