// Package metadata is the volatile, process-lifetime index of achievement
// metadata, keyed by owner and then artifact name.
//
// Records are stored and returned by value, so a reader never sees a record
// another goroutine is still filling in. Nothing is persisted: the index is
// empty after every restart.
package metadata

import (
	"sort"
	"sync"
	"time"

	"github.com/FairForge/achievements/internal/achievement"
)

// Index is safe for concurrent use. Concurrent Put and Delete on the same key
// resolve in arrival order; the last writer wins.
type Index struct {
	mu      sync.RWMutex
	records map[string]map[string]achievement.Meta // owner -> name -> meta
	now     func() time.Time
}

// Option configures an Index.
type Option func(*Index)

// WithClock sets the clock used to stamp created_at.
func WithClock(now func() time.Time) Option {
	return func(i *Index) {
		i.now = now
	}
}

// NewIndex returns an empty index.
func NewIndex(opts ...Option) *Index {
	i := &Index{
		records: make(map[string]map[string]achievement.Meta),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Put inserts or replaces the record for (meta.OwnerID, meta.Name) and returns
// the stored value. CreatedAt is stamped only when empty.
func (i *Index) Put(meta achievement.Meta) (achievement.Meta, error) {
	if err := achievement.ValidateIdentity(meta.OwnerID, meta.Name); err != nil {
		return achievement.Meta{}, err
	}
	if meta.CreatedAt == "" {
		meta.CreatedAt = i.now().UTC().Format(time.RFC3339)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	byName, ok := i.records[meta.OwnerID]
	if !ok {
		byName = make(map[string]achievement.Meta)
		i.records[meta.OwnerID] = byName
	}
	byName[meta.Name] = meta
	return meta, nil
}

// Get returns a single record.
func (i *Index) Get(ownerID, name string) (achievement.Meta, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	meta, ok := i.records[ownerID][name]
	return meta, ok
}

// GetAll returns the owner's records sorted by name. An unknown owner yields an
// empty, non-nil slice.
func (i *Index) GetAll(ownerID string) []achievement.Meta {
	i.mu.RLock()
	byName := i.records[ownerID]
	out := make([]achievement.Meta, 0, len(byName))
	for _, meta := range byName {
		out = append(out, meta)
	}
	i.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Delete removes a record. Removing a missing record is a no-op.
func (i *Index) Delete(ownerID, name string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	byName, ok := i.records[ownerID]
	if !ok {
		return
	}
	delete(byName, name)
	if len(byName) == 0 {
		delete(i.records, ownerID)
	}
}

// Len returns the number of records across all owners.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	n := 0
	for _, byName := range i.records {
		n += len(byName)
	}
	return n
}
