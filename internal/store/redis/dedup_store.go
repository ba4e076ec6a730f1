package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/emperorhan/mint-watcher/internal/domain/model"
	"github.com/emperorhan/mint-watcher/internal/store"
)

const (
	defaultNamespace = "mintwatcher"
	opTimeout        = 5 * time.Second
)

// DedupStore keeps each contract's dedup sets as two Redis sets plus a
// metadata hash carrying the record version:
//
//	{ns}:dedup:{name}:minted
//	{ns}:dedup:{name}:sold
//	{ns}:dedup:{name}:meta   (version, updated_at)
type DedupStore struct {
	client    redis.UniversalClient
	namespace string
}

var _ store.DedupStateRepository = (*DedupStore)(nil)

func NewDedupStore(client redis.UniversalClient, namespace string) *DedupStore {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &DedupStore{client: client, namespace: namespace}
}

func (s *DedupStore) key(name string, part string) string {
	return fmt.Sprintf("%s:dedup:%s:%s", s.namespace, name, part)
}

func (s *DedupStore) setKey(name string, kind model.SetKind) string {
	return s.key(name, kind.String())
}

func (s *DedupStore) metaKey(name string) string {
	return s.key(name, "meta")
}

func (s *DedupStore) Load(ctx context.Context, contractName string) (*model.DedupState, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		exists *redis.IntCmd
		minted *redis.StringSliceCmd
		sold   *redis.StringSliceCmd
	)
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		exists = p.Exists(ctx, s.metaKey(contractName))
		minted = p.SMembers(ctx, s.setKey(contractName, model.SetMinted))
		sold = p.SMembers(ctx, s.setKey(contractName, model.SetSold))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load dedup state %s: %w", contractName, err)
	}
	if exists.Val() == 0 {
		return nil, store.ErrNotFound
	}

	state := model.NewDedupState(contractName)
	if state.MintedIDs, err = parseMembers(minted.Val()); err != nil {
		return nil, fmt.Errorf("%w: %s minted set: %v", store.ErrCorrupt, contractName, err)
	}
	if state.SoldIDs, err = parseMembers(sold.Val()); err != nil {
		return nil, fmt.Errorf("%w: %s sold set: %v", store.ErrCorrupt, contractName, err)
	}
	return state, nil
}

// Save replaces both sets and bumps the version inside one MULTI/EXEC.
func (s *DedupStore) Save(ctx context.Context, state *model.DedupState) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	name := state.ContractName
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, kind := range []model.SetKind{model.SetMinted, model.SetSold} {
			key := s.setKey(name, kind)
			p.Del(ctx, key)
			if members := toMembers(state.SortedIDs(kind)); len(members) > 0 {
				p.SAdd(ctx, key, members...)
			}
		}
		p.HIncrBy(ctx, s.metaKey(name), "version", 1)
		p.HSet(ctx, s.metaKey(name), "updated_at", time.Now().UTC().Format(time.RFC3339))
		return nil
	})
	if err != nil {
		return fmt.Errorf("save dedup state %s: %w", name, err)
	}
	return nil
}

// Version returns the record version of contractName.
func (s *DedupStore) Version(ctx context.Context, contractName string) (int64, error) {
	v, err := s.client.HGet(ctx, s.metaKey(contractName), "version").Int64()
	if errors.Is(err, redis.Nil) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("dedup state version %s: %w", contractName, err)
	}
	return v, nil
}

func toMembers(ids []string) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func parseMembers(members []string) (map[string]struct{}, error) {
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		if _, ok := new(big.Int).SetString(m, 10); !ok {
			return nil, fmt.Errorf("member %q is not a token id", m)
		}
		set[m] = struct{}{}
	}
	return set, nil
}
