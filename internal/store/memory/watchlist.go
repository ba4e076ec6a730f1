// Package memory provides in-process store implementations for development
// runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/emperorhan/mint-watcher/internal/domain/model"
	"github.com/emperorhan/mint-watcher/internal/store"
)

type WatchlistRepo struct {
	mu      sync.RWMutex
	entries map[string]*model.WatchEntry
	now     func() time.Time
}

var _ store.WatchlistRepository = (*WatchlistRepo)(nil)

func NewWatchlistRepo() *WatchlistRepo {
	return &WatchlistRepo{
		entries: make(map[string]*model.WatchEntry),
		now:     time.Now,
	}
}

// ListAll returns copies of every entry ordered by name.
func (r *WatchlistRepo) ListAll(_ context.Context) ([]*model.WatchEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.WatchEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *WatchlistRepo) Get(_ context.Context, name string) (*model.WatchEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return e.Clone(), nil
}

func (r *WatchlistRepo) Upsert(_ context.Context, entry *model.WatchEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	c := entry.Clone()
	c.NormalizeDestinations()

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.entries[c.Name]; ok {
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	r.entries[c.Name] = c
	return nil
}

func (r *WatchlistRepo) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; !ok {
		return store.ErrNotFound
	}
	delete(r.entries, name)
	return nil
}
