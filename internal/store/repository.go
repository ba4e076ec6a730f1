//go:generate mockgen -source=repository.go -destination=mocks/mock_repository.go -package=mocks

package store

import (
	"context"
	"errors"

	"github.com/emperorhan/mint-watcher/internal/domain/model"
)

var (
	// ErrNotFound is returned when a watch entry or dedup record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCorrupt is returned when a persisted dedup record cannot be decoded.
	ErrCorrupt = errors.New("corrupt persisted state")
)

// WatchlistStore is the read side of the watchlist the pollers consume.
type WatchlistStore interface {
	ListAll(ctx context.Context) ([]*model.WatchEntry, error)
	Get(ctx context.Context, name string) (*model.WatchEntry, error)
}

// WatchlistRepository adds the write operations used for seeding and
// destination management.
type WatchlistRepository interface {
	WatchlistStore
	Upsert(ctx context.Context, entry *model.WatchEntry) error
	Delete(ctx context.Context, name string) error
}

// DedupStateRepository persists per-contract dedup sets. Load returns
// ErrNotFound when nothing was saved yet and ErrCorrupt when the stored
// record cannot be decoded.
type DedupStateRepository interface {
	Load(ctx context.Context, contractName string) (*model.DedupState, error)
	Save(ctx context.Context, state *model.DedupState) error
}
