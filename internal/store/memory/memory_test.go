package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/mint-watcher/internal/domain/model"
	"github.com/emperorhan/mint-watcher/internal/store"
)

func entry(name string) *model.WatchEntry {
	return &model.WatchEntry{
		Name:            name,
		ContractAddress: "0x00000000000000000000000000000000000000aa",
		MintPrice:       decimal.RequireFromString("0.01"),
		PaymentToken:    model.NativeToken,
		DestinationIDs:  []string{"a", "a", "b"},
	}
}

func TestWatchlistRepo_CRUD(t *testing.T) {
	ctx := context.Background()
	r := NewWatchlistRepo()

	require.NoError(t, r.Upsert(ctx, entry("zeta")))
	require.NoError(t, r.Upsert(ctx, entry("alpha")))

	all, err := r.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Name)
	assert.Equal(t, []string{"a", "b"}, all[0].DestinationIDs)

	got, err := r.Get(ctx, "zeta")
	require.NoError(t, err)
	got.DestinationIDs[0] = "mutated"

	again, err := r.Get(ctx, "zeta")
	require.NoError(t, err)
	assert.Equal(t, "a", again.DestinationIDs[0], "callers receive copies")

	require.NoError(t, r.Delete(ctx, "zeta"))
	_, err = r.Get(ctx, "zeta")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, r.Delete(ctx, "zeta"), store.ErrNotFound)
}

func TestWatchlistRepo_UpsertRejectsInvalid(t *testing.T) {
	e := entry("bad")
	e.ContractAddress = "nope"
	assert.Error(t, NewWatchlistRepo().Upsert(context.Background(), e))
}

func TestDedupRepo_RoundTrip(t *testing.T) {
	ctx := context.Background()
	r := NewDedupRepo()

	_, err := r.Load(ctx, "apes")
	assert.ErrorIs(t, err, store.ErrNotFound)

	s := model.NewDedupState("apes")
	s.MintedIDs = model.SetFromIDs([]string{"1", "2"})
	s.SoldIDs = model.SetFromIDs([]string{"2"})
	require.NoError(t, r.Save(ctx, s))

	s.MintedIDs["3"] = struct{}{}

	loaded, err := r.Load(ctx, "apes")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, loaded.SortedIDs(model.SetMinted))
	assert.Equal(t, []string{"2"}, loaded.SortedIDs(model.SetSold))
	assert.Equal(t, 1, r.Saves())
}
