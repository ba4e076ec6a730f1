package memory

import (
	"context"
	"sync"

	"github.com/emperorhan/mint-watcher/internal/domain/model"
	"github.com/emperorhan/mint-watcher/internal/store"
)

// DedupRepo keeps dedup records in a map. State does not survive a restart.
type DedupRepo struct {
	mu     sync.Mutex
	states map[string]*model.DedupState
	saves  int
}

var _ store.DedupStateRepository = (*DedupRepo)(nil)

func NewDedupRepo() *DedupRepo {
	return &DedupRepo{states: make(map[string]*model.DedupState)}
}

func (r *DedupRepo) Load(_ context.Context, contractName string) (*model.DedupState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.states[contractName]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.Clone(), nil
}

func (r *DedupRepo) Save(_ context.Context, state *model.DedupState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states[state.ContractName] = state.Clone()
	r.saves++
	return nil
}

// Saves returns how many times Save was called.
func (r *DedupRepo) Saves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}
