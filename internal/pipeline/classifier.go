package pipeline

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/emperorhan/mint-watcher/internal/chain"
	"github.com/emperorhan/mint-watcher/internal/domain/model"
	"github.com/emperorhan/mint-watcher/internal/metrics"
	"github.com/emperorhan/mint-watcher/internal/pipeline/failure"
)

// TransferEvent is a decoded ERC-721 Transfer log.
type TransferEvent struct {
	From        common.Address
	To          common.Address
	TokenID     *big.Int
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
}

func (e TransferEvent) IsMint() bool {
	return e.From == model.ZeroAddress
}

func (e TransferEvent) ID() string {
	return e.TokenID.String()
}

// DecodeTransfer decodes an ERC-721 Transfer(address,address,uint256) log.
// ERC-20 transfers share the signature but carry the amount in data, so a
// log without exactly four topics is rejected.
func DecodeTransfer(l types.Log) (TransferEvent, error) {
	if len(l.Topics) == 0 || l.Topics[0] != chain.TransferTopic {
		return TransferEvent{}, failure.Decode(fmt.Errorf("log %s#%d: not a Transfer event", l.TxHash.Hex(), l.Index))
	}
	if len(l.Topics) != 4 {
		return TransferEvent{}, failure.Decode(fmt.Errorf("log %s#%d: expected 4 topics, got %d", l.TxHash.Hex(), l.Index, len(l.Topics)))
	}
	return TransferEvent{
		From:        common.BytesToAddress(l.Topics[1].Bytes()),
		To:          common.BytesToAddress(l.Topics[2].Bytes()),
		TokenID:     new(big.Int).SetBytes(l.Topics[3].Bytes()),
		TxHash:      l.TxHash,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
	}, nil
}

// Deduper is the subset of the dedup store the pipeline depends on.
type Deduper interface {
	TryMark(ctx context.Context, name string, kind model.SetKind, id string) bool
	FlushIfDue(ctx context.Context, name string, block uint64) (bool, error)
	Forget(name string)
}

// Classification is the outcome of classifying one log batch. Accepted
// events are already marked seen.
type Classification struct {
	Mints     []TransferEvent
	Sales     []TransferEvent
	Decoded   int
	Skipped   int
	Duplicate int
}

func (c Classification) Empty() bool {
	return len(c.Mints) == 0 && len(c.Sales) == 0
}

// Classifier splits Transfer logs into new mints and first resales.
type Classifier struct {
	dedup Deduper
}

func NewClassifier(dedup Deduper) *Classifier {
	return &Classifier{dedup: dedup}
}

// Classify decodes logs in chain order and keeps events whose token ID is
// not yet in the matching dedup set. Undecodable logs are skipped alone. A
// token ID repeated within the batch is kept at its first occurrence.
func (c *Classifier) Classify(ctx context.Context, name string, logs []types.Log) Classification {
	ordered := make([]types.Log, len(logs))
	copy(ordered, logs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].BlockNumber != ordered[j].BlockNumber {
			return ordered[i].BlockNumber < ordered[j].BlockNumber
		}
		return ordered[i].Index < ordered[j].Index
	})

	var out Classification
	for _, l := range ordered {
		if l.Removed {
			out.Skipped++
			metrics.EventsSkippedTotal.WithLabelValues(name, "removed").Inc()
			continue
		}
		ev, err := DecodeTransfer(l)
		if err != nil {
			out.Skipped++
			metrics.EventsSkippedTotal.WithLabelValues(name, "decode").Inc()
			continue
		}
		out.Decoded++

		kind := model.SetSold
		if ev.IsMint() {
			kind = model.SetMinted
		}
		if !c.dedup.TryMark(ctx, name, kind, ev.ID()) {
			out.Duplicate++
			metrics.EventsSkippedTotal.WithLabelValues(name, "seen").Inc()
			continue
		}
		metrics.EventsClassifiedTotal.WithLabelValues(name, string(kind)).Inc()
		if kind == model.SetMinted {
			out.Mints = append(out.Mints, ev)
		} else {
			out.Sales = append(out.Sales, ev)
		}
	}
	return out
}
