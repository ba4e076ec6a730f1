// Package evm implements chain.Client over go-ethereum's JSON-RPC client.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/emperorhan/mint-watcher/internal/chain"
	"github.com/emperorhan/mint-watcher/internal/chain/ratelimit"
	"github.com/emperorhan/mint-watcher/internal/metrics"
)

const (
	defaultCallTimeout  = 10 * time.Second
	defaultPollInterval = 2 * time.Second

	// maxCatchUpBlocks bounds how many intermediate blocks one head jump
	// emits. Larger jumps resume at the new head.
	maxCatchUpBlocks = 256
)

// Options configures a Client.
type Options struct {
	CallTimeout  time.Duration
	PollInterval time.Duration
	Limiter      *ratelimit.Limiter
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = defaultCallTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Client is a rate-limited, timeout-bounded chain.Client for one endpoint.
type Client struct {
	endpoint     string
	rpc          *rpc.Client
	eth          *ethclient.Client
	limiter      *ratelimit.Limiter
	callTimeout  time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

var _ chain.Client = (*Client)(nil)

// Dial connects to endpoint (http(s) or ws(s)) without probing it.
func Dial(ctx context.Context, endpoint string, opts Options) (*Client, error) {
	rc, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return NewFromRPC(endpoint, rc, opts), nil
}

// NewFromRPC wraps an existing go-ethereum RPC client.
func NewFromRPC(endpoint string, rc *rpc.Client, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		endpoint:     endpoint,
		rpc:          rc,
		eth:          ethclient.NewClient(rc),
		limiter:      opts.Limiter,
		callTimeout:  opts.CallTimeout,
		pollInterval: opts.PollInterval,
		logger:       opts.Logger.With("component", "evm_client", "endpoint", endpoint),
	}
}

// Dialer returns a chain.DialFunc that opens Clients sharing opts.
func Dialer(opts Options) chain.DialFunc {
	return func(ctx context.Context, endpoint string) (chain.Client, error) {
		return Dial(ctx, endpoint, opts)
	}
}

func (c *Client) Endpoint() string { return c.endpoint }

func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) CurrentBlock(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.limiter.Do(ctx, "eth_blockNumber", c.callTimeout, func(ctx context.Context) error {
		var err error
		head, err = c.eth.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}
	return head, nil
}

func (c *Client) GetLogs(ctx context.Context, fromBlock, toBlock uint64, address common.Address, topics [][]common.Hash) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{address},
		Topics:    topics,
	}
	var logs []types.Log
	err := c.limiter.Do(ctx, "eth_getLogs", c.callTimeout, func(ctx context.Context) error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, query)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs [%d,%d] %s: %w", fromBlock, toBlock, address.Hex(), err)
	}
	return logs, nil
}

func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &to, Data: data}
	var out []byte
	err := c.limiter.Do(ctx, "eth_call", c.callTimeout, func(ctx context.Context) error {
		var err error
		out, err = c.eth.CallContract(ctx, msg, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("eth_call %s: %w", to.Hex(), err)
	}
	return out, nil
}

func (c *Client) GetTransaction(ctx context.Context, hash common.Hash) (*types.Transaction, error) {
	var tx *types.Transaction
	err := c.limiter.Do(ctx, "eth_getTransactionByHash", c.callTimeout, func(ctx context.Context) error {
		var err error
		tx, _, err = c.eth.TransactionByHash(ctx, hash)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("eth_getTransactionByHash %s: %w", hash.Hex(), err)
	}
	return tx, nil
}

func (c *Client) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := c.limiter.Do(ctx, "eth_getTransactionReceipt", c.callTimeout, func(ctx context.Context) error {
		var err error
		receipt, err = c.eth.TransactionReceipt(ctx, hash)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("eth_getTransactionReceipt %s: %w", hash.Hex(), err)
	}
	return receipt, nil
}

// SubscribeNewBlocks streams new block numbers in ascending order until ctx
// is done. It prefers a newHeads subscription and falls back to polling
// eth_blockNumber when the endpoint cannot push notifications or the
// subscription fails.
func (c *Client) SubscribeNewBlocks(ctx context.Context) (<-chan uint64, error) {
	out := make(chan uint64, 16)

	heads := make(chan *types.Header, 16)
	sub, err := c.eth.SubscribeNewHead(ctx, heads)
	if err != nil {
		if !errors.Is(err, rpc.ErrNotificationsUnsupported) {
			c.logger.Warn("newHeads subscription failed, polling instead", "error", err)
		} else {
			c.logger.Info("endpoint does not push notifications, polling for blocks", "interval", c.pollInterval)
		}
		go func() {
			defer close(out)
			c.pollBlocks(ctx, out, 0)
		}()
		return out, nil
	}

	go func() {
		defer close(out)
		defer sub.Unsubscribe()

		var last uint64
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				c.logger.Warn("newHeads subscription dropped, polling instead", "error", err, "last_block", last)
				c.pollBlocks(ctx, out, last)
				return
			case h := <-heads:
				if h == nil || h.Number == nil {
					continue
				}
				var ok bool
				last, ok = emitRange(ctx, out, last, h.Number.Uint64())
				if !ok {
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *Client) pollBlocks(ctx context.Context, out chan<- uint64, last uint64) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		head, err := c.CurrentBlock(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("block poll failed", "error", err)
		} else {
			var ok bool
			last, ok = emitRange(ctx, out, last, head)
			if !ok {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// emitRange sends every block in (last, head] and returns the new last
// block. The first observation (last == 0) emits head only.
func emitRange(ctx context.Context, out chan<- uint64, last, head uint64) (uint64, bool) {
	if head <= last {
		return last, true
	}
	from := last + 1
	if last == 0 || head-last > maxCatchUpBlocks {
		from = head
	}
	for n := from; n <= head; n++ {
		select {
		case out <- n:
		case <-ctx.Done():
			return n - 1, false
		}
	}
	metrics.ChainHeadBlock.Set(float64(head))
	return head, true
}
