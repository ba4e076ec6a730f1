package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/mint-watcher/internal/domain/model"
	"github.com/emperorhan/mint-watcher/internal/store"
)

func TestDedupStore_Keys(t *testing.T) {
	s := NewDedupStore(nil, "")
	assert.Equal(t, "mintwatcher:dedup:apes:minted", s.setKey("apes", model.SetMinted))
	assert.Equal(t, "mintwatcher:dedup:apes:sold", s.setKey("apes", model.SetSold))
	assert.Equal(t, "mintwatcher:dedup:apes:meta", s.metaKey("apes"))

	s = NewDedupStore(nil, "staging")
	assert.Equal(t, "staging:dedup:apes:sold", s.setKey("apes", model.SetSold))
}

func TestParseMembers(t *testing.T) {
	set, err := parseMembers([]string{"1", "42", "1"})
	require.NoError(t, err)
	assert.Len(t, set, 2)

	_, err = parseMembers([]string{"1", "abc"})
	assert.Error(t, err)
}

func TestToMembers(t *testing.T) {
	assert.Equal(t, []interface{}{"1", "2"}, toMembers([]string{"1", "2"}))
	assert.Empty(t, toMembers(nil))
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	client, err := NewClient(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestDedupStore_RoundTrip(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	s := NewDedupStore(client, "test-"+uuid.NewString()[:8])

	_, err := s.Load(ctx, "apes")
	assert.ErrorIs(t, err, store.ErrNotFound)

	state := model.NewDedupState("apes")
	state.MintedIDs = model.SetFromIDs([]string{"1", "2", "3"})
	require.NoError(t, s.Save(ctx, state))

	state.MintedIDs = model.SetFromIDs([]string{"1", "2", "3", "4"})
	state.SoldIDs = model.SetFromIDs([]string{"2"})
	require.NoError(t, s.Save(ctx, state))

	loaded, err := s.Load(ctx, "apes")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4"}, loaded.SortedIDs(model.SetMinted))
	assert.Equal(t, []string{"2"}, loaded.SortedIDs(model.SetSold))

	v, err := s.Version(ctx, "apes")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestDedupStore_EmptySetsRoundTrip(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	s := NewDedupStore(client, "test-"+uuid.NewString()[:8])

	require.NoError(t, s.Save(ctx, model.NewDedupState("empty")))

	loaded, err := s.Load(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, loaded.MintedIDs)
	assert.Empty(t, loaded.SoldIDs)
}

func TestDedupStore_CorruptMember(t *testing.T) {
	client := testRedis(t)
	ctx := context.Background()
	s := NewDedupStore(client, "test-"+uuid.NewString()[:8])

	require.NoError(t, client.HSet(ctx, s.metaKey("bad"), "version", 1).Err())
	require.NoError(t, client.SAdd(ctx, s.setKey("bad", model.SetMinted), "not-a-number").Err())

	_, err := s.Load(ctx, "bad")
	assert.ErrorIs(t, err, store.ErrCorrupt)
}
