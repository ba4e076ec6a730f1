//go:generate mockgen -source=chain.go -destination=mocks/mock_chain.go -package=mocks

package chain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrNoHealthyEndpoint is returned by Select when no candidate answers the
// liveness probe. Nothing in the pipeline can run without a client.
var ErrNoHealthyEndpoint = errors.New("no healthy rpc endpoint")

// Client is the read-only view of an EVM node used by the pipeline.
// Implementations must be safe for concurrent use.
type Client interface {
	// CurrentBlock returns the latest block height.
	CurrentBlock(ctx context.Context) (uint64, error)

	// GetLogs returns logs emitted by address in [fromBlock, toBlock]
	// matching topics (same positional semantics as eth_getLogs).
	GetLogs(ctx context.Context, fromBlock, toBlock uint64, address common.Address, topics [][]common.Hash) ([]types.Log, error)

	// Call performs an eth_call against the latest block.
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)

	GetTransaction(ctx context.Context, hash common.Hash) (*types.Transaction, error)
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)

	// SubscribeNewBlocks streams new block numbers in ascending order until
	// ctx is done, then closes the channel.
	SubscribeNewBlocks(ctx context.Context) (<-chan uint64, error)
}

// Closer is implemented by clients holding a network connection.
type Closer interface {
	Close()
}
