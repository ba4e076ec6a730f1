package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/emperorhan/mint-watcher/internal/domain/model"
	"github.com/emperorhan/mint-watcher/internal/store"
)

// ErrNotWatching is returned for operations on a name with no poller.
var ErrNotWatching = errors.New("contract is not being watched")

type runningPoller struct {
	poller      *Poller
	unsubscribe func()
	done        chan struct{}
}

// Manager owns one poller per watched contract and wires each to the block
// broadcaster. Watchlist changes are pushed in through StartWatching,
// UpdateEntry and StopWatching.
type Manager struct {
	deps        Deps
	broadcaster *Broadcaster
	logger      *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	pollers map[string]*runningPoller
	pending map[string]*model.WatchEntry
	wg      sync.WaitGroup
}

func NewManager(deps Deps, broadcaster *Broadcaster) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		deps:        deps,
		broadcaster: broadcaster,
		logger:      logger.With("component", "poller_manager"),
		pollers:     make(map[string]*runningPoller),
		pending:     make(map[string]*model.WatchEntry),
	}
}

// LoadWatchlist starts a poller for every stored entry. Invalid entries
// are logged and skipped.
func (m *Manager) LoadWatchlist(ctx context.Context, watchlist store.WatchlistStore) (int, error) {
	entries, err := watchlist.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list watchlist: %w", err)
	}
	started := 0
	for _, e := range entries {
		if err := m.StartWatching(e); err != nil {
			m.logger.Warn("skipping watch entry", "contract", e.Name, "error", err)
			continue
		}
		started++
	}
	return started, nil
}

// StartWatching begins polling entry. Starting a name that is already
// watched updates its entry instead.
func (m *Manager) StartWatching(entry *model.WatchEntry) error {
	if entry == nil {
		return fmt.Errorf("watch entry is nil")
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	entry = entry.Clone()
	entry.NormalizeDestinations()

	m.mu.Lock()
	defer m.mu.Unlock()

	if rp, ok := m.pollers[entry.Name]; ok {
		rp.poller.UpdateEntry(entry)
		m.logger.Info("watch entry updated", "contract", entry.Name)
		return nil
	}
	if m.ctx == nil {
		m.pending[entry.Name] = entry
		return nil
	}
	m.startLocked(entry)
	return nil
}

// UpdateEntry replaces the entry of a watched contract. Cycles already in
// progress finish with the previous entry.
func (m *Manager) UpdateEntry(entry *model.WatchEntry) error {
	if entry == nil {
		return fmt.Errorf("watch entry is nil")
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	entry = entry.Clone()
	entry.NormalizeDestinations()

	m.mu.Lock()
	defer m.mu.Unlock()
	if rp, ok := m.pollers[entry.Name]; ok {
		rp.poller.UpdateEntry(entry)
		return nil
	}
	if _, ok := m.pending[entry.Name]; ok {
		m.pending[entry.Name] = entry
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotWatching, entry.Name)
}

// StopWatching unsubscribes the contract's poller from the block stream.
// An in-flight cycle completes, after which the contract's in-memory dedup
// state is dropped unless the name was started again meanwhile. Persisted
// dedup state is kept.
func (m *Manager) StopWatching(name string) error {
	m.mu.Lock()
	if _, ok := m.pending[name]; ok {
		delete(m.pending, name)
		m.mu.Unlock()
		return nil
	}
	rp, ok := m.pollers[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotWatching, name)
	}
	delete(m.pollers, name)
	m.mu.Unlock()

	rp.poller.Stop()
	rp.unsubscribe()
	go func() {
		<-rp.done
		// Forget runs under mu: a restart of the same name must not mark
		// anything before the old state is dropped.
		m.mu.Lock()
		if _, restarted := m.pollers[name]; !restarted {
			m.deps.Dedup.Forget(name)
			rp.poller.Health().Forget()
		}
		m.mu.Unlock()
		m.logger.Info("stopped watching", "contract", name)
	}()
	return nil
}

// startLocked must be called with mu held and m.ctx set.
func (m *Manager) startLocked(entry *model.WatchEntry) {
	p := NewPoller(entry, m.deps)
	blocks, unsubscribe := m.broadcaster.Subscribe(entry.Name)
	rp := &runningPoller{poller: p, unsubscribe: unsubscribe, done: make(chan struct{})}
	m.pollers[entry.Name] = rp

	ctx := m.ctx
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(rp.done)
		defer func() {
			// A panic outside a cycle must not take down other pollers.
			if r := recover(); r != nil {
				m.logger.Error("poller crashed", "contract", entry.Name, "panic", r)
			}
		}()
		if err := p.Run(ctx, blocks); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("poller exited", "contract", entry.Name, "error", err)
		}
	}()
	m.logger.Info("started watching",
		"contract", entry.Name,
		"contract_address", entry.ContractAddress,
		"destinations", len(entry.DestinationIDs),
	)
}

// Run starts queued pollers and blocks until ctx is done, then stops every
// poller and waits for them to exit.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.ctx != nil {
		m.mu.Unlock()
		return fmt.Errorf("manager already running")
	}
	m.ctx = ctx
	names := make([]string, 0, len(m.pending))
	for name := range m.pending {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m.startLocked(m.pending[name])
	}
	m.pending = make(map[string]*model.WatchEntry)
	m.mu.Unlock()

	<-ctx.Done()

	m.mu.Lock()
	running := m.pollers
	m.pollers = make(map[string]*runningPoller)
	m.mu.Unlock()
	for _, rp := range running {
		rp.poller.Stop()
		rp.unsubscribe()
	}
	m.wg.Wait()
	return ctx.Err()
}

// Watching returns the names of running and queued contracts, sorted.
func (m *Manager) Watching() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.pollers)+len(m.pending))
	for name := range m.pollers {
		names = append(names, name)
	}
	for name := range m.pending {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Poller returns the running poller for name.
func (m *Manager) Poller(name string) (*Poller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rp, ok := m.pollers[name]
	if !ok {
		return nil, false
	}
	return rp.poller, true
}

// Health returns a snapshot per running poller, sorted by contract.
func (m *Manager) Health() []HealthSnapshot {
	m.mu.Lock()
	out := make([]HealthSnapshot, 0, len(m.pollers))
	for _, rp := range m.pollers {
		out = append(out, rp.poller.Health().Snapshot())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Contract < out[j].Contract })
	return out
}
