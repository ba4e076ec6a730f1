package dedup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/mint-watcher/internal/domain/model"
	"github.com/emperorhan/mint-watcher/internal/store"
	"github.com/emperorhan/mint-watcher/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedRepo returns loadErr from Load until cleared and records saves.
type scriptedRepo struct {
	mu        sync.Mutex
	inner     *memory.DedupRepo
	loadErr   error
	saveErr   error
	loadCalls int
	saveAt    []int
}

func newScriptedRepo() *scriptedRepo {
	return &scriptedRepo{inner: memory.NewDedupRepo()}
}

func (r *scriptedRepo) Load(ctx context.Context, name string) (*model.DedupState, error) {
	r.mu.Lock()
	r.loadCalls++
	err := r.loadErr
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.inner.Load(ctx, name)
}

func (r *scriptedRepo) Save(ctx context.Context, s *model.DedupState) error {
	r.mu.Lock()
	err := r.saveErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.inner.Save(ctx, s)
}

func TestStore_ContainsAndMarkSeen(t *testing.T) {
	ctx := context.Background()
	s := New(memory.NewDedupRepo(), 10, testLogger())

	assert.False(t, s.Contains(ctx, "apes", model.SetMinted, "1"))
	s.MarkSeen(ctx, "apes", model.SetMinted, "1")
	assert.True(t, s.Contains(ctx, "apes", model.SetMinted, "1"))
	assert.False(t, s.Contains(ctx, "apes", model.SetSold, "1"), "sets are independent")
	assert.False(t, s.Contains(ctx, "other", model.SetMinted, "1"), "contracts are independent")
}

func TestStore_TryMark(t *testing.T) {
	ctx := context.Background()
	s := New(memory.NewDedupRepo(), 10, testLogger())

	assert.True(t, s.TryMark(ctx, "apes", model.SetSold, "7"))
	assert.False(t, s.TryMark(ctx, "apes", model.SetSold, "7"))
}

func TestStore_LazyLoadSeedsFromPersistedState(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewDedupRepo()
	seed := model.NewDedupState("apes")
	seed.MintedIDs = model.SetFromIDs([]string{"1", "2"})
	require.NoError(t, repo.Save(ctx, seed))

	s := New(repo, 10, testLogger())
	assert.True(t, s.Contains(ctx, "apes", model.SetMinted, "2"))
	assert.False(t, s.Contains(ctx, "apes", model.SetMinted, "3"))
}

func TestStore_CorruptStateIsEmpty(t *testing.T) {
	repo := newScriptedRepo()
	repo.loadErr = fmt.Errorf("decode: %w", store.ErrCorrupt)

	s := New(repo, 10, testLogger())
	assert.False(t, s.Contains(context.Background(), "apes", model.SetMinted, "1"))
}

func TestStore_FlushOnlyAtCadence(t *testing.T) {
	ctx := context.Background()
	repo := newScriptedRepo()
	s := New(repo, 10, testLogger())

	var flushedAt []uint64
	for block := uint64(1); block <= 35; block++ {
		s.MarkSeen(ctx, "apes", model.SetMinted, fmt.Sprint(block))
		wrote, err := s.FlushIfDue(ctx, "apes", block)
		require.NoError(t, err)
		if wrote {
			flushedAt = append(flushedAt, block)
		}
	}

	assert.Equal(t, []uint64{10, 20, 30}, flushedAt)
	assert.Equal(t, 3, repo.inner.Saves())

	persisted, err := repo.inner.Load(ctx, "apes")
	require.NoError(t, err)
	assert.Len(t, persisted.MintedIDs, 30)
}

func TestStore_FlushSkipsUnchangedState(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewDedupRepo()
	s := New(repo, 10, testLogger())

	assert.False(t, s.Contains(ctx, "apes", model.SetMinted, "1"))
	wrote, err := s.FlushIfDue(ctx, "apes", 10)
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Equal(t, 0, repo.Saves())

	wrote, err = s.FlushIfDue(ctx, "never-touched", 20)
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Equal(t, 0, repo.Saves())
}

func TestStore_FlushErrorKeepsStateDirty(t *testing.T) {
	ctx := context.Background()
	repo := newScriptedRepo()
	repo.saveErr = errors.New("db down")
	s := New(repo, 5, testLogger())

	s.MarkSeen(ctx, "apes", model.SetSold, "4")
	_, err := s.FlushIfDue(ctx, "apes", 5)
	require.Error(t, err)

	repo.saveErr = nil
	wrote, err := s.FlushIfDue(ctx, "apes", 10)
	require.NoError(t, err)
	assert.True(t, wrote)
}

func TestStore_FailedLoadIsMergedBeforeSave(t *testing.T) {
	ctx := context.Background()
	repo := newScriptedRepo()
	seed := model.NewDedupState("apes")
	seed.MintedIDs = model.SetFromIDs([]string{"1", "2"})
	require.NoError(t, repo.inner.Save(ctx, seed))

	repo.loadErr = errors.New("connection refused")
	s := New(repo, 10, testLogger())
	s.MarkSeen(ctx, "apes", model.SetMinted, "3")

	_, err := s.FlushIfDue(ctx, "apes", 10)
	require.Error(t, err, "save is deferred while persisted state is unreachable")

	repo.loadErr = nil
	wrote, err := s.FlushIfDue(ctx, "apes", 20)
	require.NoError(t, err)
	assert.True(t, wrote)

	persisted, err := repo.inner.Load(ctx, "apes")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, persisted.SortedIDs(model.SetMinted))
}

func TestStore_ForgetReloadsFromPersistence(t *testing.T) {
	ctx := context.Background()
	repo := newScriptedRepo()
	s := New(repo, 1, testLogger())

	s.MarkSeen(ctx, "apes", model.SetMinted, "1")
	_, err := s.FlushIfDue(ctx, "apes", 1)
	require.NoError(t, err)
	s.MarkSeen(ctx, "apes", model.SetMinted, "2")

	s.Forget("apes")

	assert.True(t, s.Contains(ctx, "apes", model.SetMinted, "1"))
	assert.False(t, s.Contains(ctx, "apes", model.SetMinted, "2"), "unflushed state is dropped")
	assert.Equal(t, 2, repo.loadCalls)
}

func TestStore_ConcurrentContracts(t *testing.T) {
	ctx := context.Background()
	s := New(memory.NewDedupRepo(), 10, testLogger())

	var wg sync.WaitGroup
	for c := 0; c < 8; c++ {
		name := fmt.Sprintf("c%d", c)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.MarkSeen(ctx, name, model.SetMinted, fmt.Sprint(i))
				_, _ = s.FlushIfDue(ctx, name, uint64(i))
			}
		}()
	}
	wg.Wait()

	for c := 0; c < 8; c++ {
		assert.Len(t, s.Snapshot(ctx, fmt.Sprintf("c%d", c)).MintedIDs, 100)
	}
}

func TestNew_DefaultCadence(t *testing.T) {
	s := New(memory.NewDedupRepo(), 0, testLogger())
	assert.Equal(t, uint64(DefaultFlushEveryNBlocks), s.flushEvery)
}
