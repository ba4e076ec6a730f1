package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/emperorhan/mint-watcher/internal/domain/model"
	"github.com/emperorhan/mint-watcher/internal/store"
)

// DedupRepo stores one dedup_state row per contract. Each save bumps the
// row version.
type DedupRepo struct {
	db *DB
}

var _ store.DedupStateRepository = (*DedupRepo)(nil)

func NewDedupRepo(db *DB) *DedupRepo {
	return &DedupRepo{db: db}
}

func (r *DedupRepo) Load(ctx context.Context, contractName string) (*model.DedupState, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var minted, sold []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT minted_ids, sold_ids FROM dedup_state WHERE contract_name = $1
	`, contractName).Scan(&minted, &sold)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load dedup state %s: %w", contractName, err)
	}

	state := model.NewDedupState(contractName)
	if state.MintedIDs, err = decodeIDSet(minted); err != nil {
		return nil, fmt.Errorf("%w: minted_ids of %s: %v", store.ErrCorrupt, contractName, err)
	}
	if state.SoldIDs, err = decodeIDSet(sold); err != nil {
		return nil, fmt.Errorf("%w: sold_ids of %s: %v", store.ErrCorrupt, contractName, err)
	}
	return state, nil
}

func (r *DedupRepo) Save(ctx context.Context, state *model.DedupState) error {
	minted, err := json.Marshal(state.SortedIDs(model.SetMinted))
	if err != nil {
		return fmt.Errorf("encode minted_ids: %w", err)
	}
	sold, err := json.Marshal(state.SortedIDs(model.SetSold))
	if err != nil {
		return fmt.Errorf("encode sold_ids: %w", err)
	}

	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO dedup_state (contract_name, minted_ids, sold_ids)
		VALUES ($1, $2, $3)
		ON CONFLICT (contract_name) DO UPDATE SET
			minted_ids = EXCLUDED.minted_ids,
			sold_ids = EXCLUDED.sold_ids,
			version = dedup_state.version + 1,
			updated_at = now()
	`, state.ContractName, string(minted), string(sold))
	if err != nil {
		return fmt.Errorf("save dedup state %s: %w", state.ContractName, err)
	}
	return nil
}

// Version returns the current row version of contractName.
func (r *DedupRepo) Version(ctx context.Context, contractName string) (int64, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var v int64
	err := r.db.QueryRowContext(ctx,
		`SELECT version FROM dedup_state WHERE contract_name = $1`, contractName).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("dedup state version %s: %w", contractName, err)
	}
	return v, nil
}

func decodeIDSet(raw []byte) (map[string]struct{}, error) {
	if len(raw) == 0 {
		return make(map[string]struct{}), nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, err
	}
	return model.SetFromIDs(ids), nil
}
