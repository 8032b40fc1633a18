// Package audit records ingestions whose metadata reporting failed after the
// vectors and completion marker were already written.
package audit

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

// Entry describes one cross-store gap.
type Entry struct {
	ID        string    `json:"id"         yaml:"id"`
	FileID    string    `json:"file_id"    yaml:"file_id"`
	Reason    string    `json:"reason"     yaml:"reason"`
	Chunks    int       `json:"chunks"     yaml:"chunks"`
	Delivered int       `json:"delivered"  yaml:"delivered"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Log appends and lists audit entries in insertion order.
type Log interface {
	Append(ctx context.Context, entry Entry) (Entry, error)
	List(ctx context.Context, limit int) ([]Entry, error)
}

func stamp(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = ksuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return entry
}

// MemoryLog keeps entries for the life of the process.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(_ context.Context, entry Entry) (Entry, error) {
	entry = stamp(entry)
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	return entry, nil
}

// List returns the most recent limit entries, oldest first. A non-positive
// limit returns everything.
func (l *MemoryLog) List(_ context.Context, limit int) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := 0
	if limit > 0 && len(l.entries) > limit {
		start = len(l.entries) - limit
	}
	return slices.Clone(l.entries[start:]), nil
}
