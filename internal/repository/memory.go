// Package repository tracks per-recipient delivery counts for the
// hourly rate cap, with redis-backed and in-memory implementations and
// a failover wrapper.
package repository

import (
	"context"
	"sync"
	"time"
)

type MemorySentCounter struct {
	mu      sync.Mutex
	entries map[int64]*sentEntry
	window  time.Duration
}

type sentEntry struct {
	count     int
	expiresAt time.Time
}

func NewMemorySentCounter(window time.Duration) *MemorySentCounter {
	if window <= 0 {
		window = time.Hour
	}
	return &MemorySentCounter{
		entries: make(map[int64]*sentEntry),
		window:  window,
	}
}

func (r *MemorySentCounter) SentLastHour(ctx context.Context, recipientID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[recipientID]
	if !ok || time.Now().After(entry.expiresAt) {
		return 0, nil
	}
	return entry.count, nil
}

func (r *MemorySentCounter) RecordSent(ctx context.Context, recipientID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	entry, ok := r.entries[recipientID]
	if !ok || now.After(entry.expiresAt) {
		r.entries[recipientID] = &sentEntry{count: 1, expiresAt: now.Add(r.window)}
		return nil
	}
	entry.count++
	return nil
}
