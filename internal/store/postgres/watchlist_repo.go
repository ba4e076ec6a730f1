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

type WatchlistRepo struct {
	db *DB
}

var _ store.WatchlistRepository = (*WatchlistRepo)(nil)

func NewWatchlistRepo(db *DB) *WatchlistRepo {
	return &WatchlistRepo{db: db}
}

const watchEntryColumns = `name, contract_address, mint_price, payment_token, payment_token_symbol,
	destination_ids, source, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWatchEntry(row rowScanner) (*model.WatchEntry, error) {
	var (
		e            model.WatchEntry
		destinations []byte
	)
	if err := row.Scan(
		&e.Name, &e.ContractAddress, &e.MintPrice, &e.PaymentToken, &e.PaymentTokenSymbol,
		&destinations, &e.Source, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(destinations) > 0 {
		if err := json.Unmarshal(destinations, &e.DestinationIDs); err != nil {
			return nil, fmt.Errorf("decode destination_ids for %s: %w", e.Name, err)
		}
	}
	e.NormalizeDestinations()
	return &e, nil
}

func (r *WatchlistRepo) ListAll(ctx context.Context) ([]*model.WatchEntry, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+watchEntryColumns+` FROM watch_entries ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query watch entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.WatchEntry
	for rows.Next() {
		e, err := scanWatchEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watch entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *WatchlistRepo) Get(ctx context.Context, name string) (*model.WatchEntry, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	e, err := scanWatchEntry(r.db.QueryRowContext(ctx,
		`SELECT `+watchEntryColumns+` FROM watch_entries WHERE name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get watch entry %s: %w", name, err)
	}
	return e, nil
}

func (r *WatchlistRepo) Upsert(ctx context.Context, entry *model.WatchEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	destinations, err := json.Marshal(model.UniqueIDs(entry.DestinationIDs))
	if err != nil {
		return fmt.Errorf("encode destination_ids: %w", err)
	}
	source := entry.Source
	if source == "" {
		source = model.EntrySourceDB
	}

	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO watch_entries (name, contract_address, mint_price, payment_token, payment_token_symbol, destination_ids, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE SET
			contract_address = EXCLUDED.contract_address,
			mint_price = EXCLUDED.mint_price,
			payment_token = EXCLUDED.payment_token,
			payment_token_symbol = EXCLUDED.payment_token_symbol,
			destination_ids = EXCLUDED.destination_ids,
			source = EXCLUDED.source,
			updated_at = now()
	`, entry.Name, model.NormalizeAddress(entry.ContractAddress), entry.MintPrice,
		entry.PaymentToken, entry.PaymentTokenSymbol, string(destinations), source)
	if err != nil {
		return fmt.Errorf("upsert watch entry %s: %w", entry.Name, err)
	}
	return nil
}

func (r *WatchlistRepo) Delete(ctx context.Context, name string) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM watch_entries WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete watch entry %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete watch entry %s: %w", name, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
