// Package dedup tracks which token IDs have already been alerted as mints
// and as sales, per watched contract, and checkpoints that state on a fixed
// block cadence.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emperorhan/mint-watcher/internal/domain/model"
	"github.com/emperorhan/mint-watcher/internal/metrics"
	"github.com/emperorhan/mint-watcher/internal/store"
)

const DefaultFlushEveryNBlocks = 10

// Store holds dedup sets in memory and persists them through a
// store.DedupStateRepository. It is safe for concurrent use; each contract
// has its own lock so pollers never contend with each other.
type Store struct {
	repo       store.DedupStateRepository
	flushEvery uint64
	logger     *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu     sync.Mutex
	loaded bool
	// unmerged is set when loading failed for a reason other than a missing
	// or corrupt record. The persisted sets are merged in before the next
	// save so a flush never shrinks them.
	unmerged bool
	dirty    bool
	state    *model.DedupState
}

func New(repo store.DedupStateRepository, flushEveryNBlocks int, logger *slog.Logger) *Store {
	if flushEveryNBlocks <= 0 {
		flushEveryNBlocks = DefaultFlushEveryNBlocks
	}
	return &Store{
		repo:       repo,
		flushEvery: uint64(flushEveryNBlocks),
		logger:     logger.With("component", "dedup"),
		entries:    make(map[string]*entry),
	}
}

func (s *Store) entry(name string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		e = &entry{state: model.NewDedupState(name)}
		s.entries[name] = e
	}
	return e
}

// ensureLoaded must be called with e.mu held.
func (s *Store) ensureLoaded(ctx context.Context, name string, e *entry) {
	if e.loaded {
		return
	}
	e.loaded = true

	persisted, err := s.repo.Load(ctx, name)
	switch {
	case err == nil:
		e.state.Merge(persisted)
		metrics.DedupLoadsTotal.WithLabelValues(name, "ok").Inc()
		s.logger.Info("dedup state loaded", "contract", name,
			"minted", len(e.state.MintedIDs), "sold", len(e.state.SoldIDs))
	case errors.Is(err, store.ErrNotFound):
		metrics.DedupLoadsTotal.WithLabelValues(name, "missing").Inc()
		s.logger.Info("no persisted dedup state, starting empty", "contract", name)
	case errors.Is(err, store.ErrCorrupt):
		metrics.DedupLoadsTotal.WithLabelValues(name, "corrupt").Inc()
		s.logger.Warn("persisted dedup state is corrupt, starting empty", "contract", name, "error", err)
	default:
		e.unmerged = true
		metrics.DedupLoadsTotal.WithLabelValues(name, "error").Inc()
		s.logger.Warn("load dedup state failed, starting empty", "contract", name, "error", err)
	}
	s.observeSizes(name, e.state)
}

// Contains reports whether id is in the kind set of contract name.
func (s *Store) Contains(ctx context.Context, name string, kind model.SetKind, id string) bool {
	e := s.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	s.ensureLoaded(ctx, name, e)

	_, ok := e.state.Set(kind)[id]
	return ok
}

// MarkSeen adds id to the kind set of contract name. Sets only grow.
func (s *Store) MarkSeen(ctx context.Context, name string, kind model.SetKind, id string) {
	e := s.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	s.ensureLoaded(ctx, name, e)

	set := e.state.Set(kind)
	if _, ok := set[id]; ok {
		return
	}
	set[id] = struct{}{}
	e.dirty = true
}

// TryMark adds id to the kind set and reports whether it was absent.
func (s *Store) TryMark(ctx context.Context, name string, kind model.SetKind, id string) bool {
	e := s.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	s.ensureLoaded(ctx, name, e)

	set := e.state.Set(kind)
	if _, ok := set[id]; ok {
		return false
	}
	set[id] = struct{}{}
	e.dirty = true
	return true
}

// FlushIfDue persists both sets of contract name when block is a multiple
// of the flush cadence and something changed since the last flush. It
// reports whether a write happened.
func (s *Store) FlushIfDue(ctx context.Context, name string, block uint64) (bool, error) {
	if block%s.flushEvery != 0 {
		return false, nil
	}

	e := s.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded || !e.dirty {
		return false, nil
	}

	if e.unmerged {
		persisted, err := s.repo.Load(ctx, name)
		switch {
		case err == nil:
			e.state.Merge(persisted)
		case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrCorrupt):
		default:
			metrics.DedupFlushesTotal.WithLabelValues(name, "deferred").Inc()
			return false, fmt.Errorf("reload dedup state %s before flush: %w", name, err)
		}
		e.unmerged = false
	}

	if err := s.repo.Save(ctx, e.state.Clone()); err != nil {
		metrics.DedupFlushesTotal.WithLabelValues(name, "error").Inc()
		return false, fmt.Errorf("save dedup state %s at block %d: %w", name, block, err)
	}
	e.dirty = false
	metrics.DedupFlushesTotal.WithLabelValues(name, "ok").Inc()
	s.observeSizes(name, e.state)
	s.logger.Debug("dedup state flushed", "contract", name, "block", block,
		"minted", len(e.state.MintedIDs), "sold", len(e.state.SoldIDs))
	return true, nil
}

// Forget drops the in-memory state of contract name. Persisted state is
// kept, so a later watch of the same name resumes from the last flush.
func (s *Store) Forget(name string) {
	s.mu.Lock()
	delete(s.entries, name)
	s.mu.Unlock()
}

// Snapshot returns a copy of the in-memory state of contract name.
func (s *Store) Snapshot(ctx context.Context, name string) *model.DedupState {
	e := s.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	s.ensureLoaded(ctx, name, e)
	return e.state.Clone()
}

func (s *Store) observeSizes(name string, state *model.DedupState) {
	metrics.DedupSetSize.WithLabelValues(name, model.SetMinted.String()).Set(float64(len(state.MintedIDs)))
	metrics.DedupSetSize.WithLabelValues(name, model.SetSold.String()).Set(float64(len(state.SoldIDs)))
}
