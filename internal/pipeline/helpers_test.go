package pipeline

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/emperorhan/mint-watcher/internal/chain"
	"github.com/emperorhan/mint-watcher/internal/dedup"
	"github.com/emperorhan/mint-watcher/internal/domain/model"
	"github.com/emperorhan/mint-watcher/internal/notify"
	"github.com/emperorhan/mint-watcher/internal/store/memory"
)

var (
	collectionAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	minterAddr     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	buyerAddr      = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	thirdAddr      = common.HexToAddress("0x00000000000000000000000000000000000000b3")
	usdcAddr       = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func wei(eth string) *big.Int {
	return d(eth).Shift(18).BigInt()
}

func testEntry() *model.WatchEntry {
	return &model.WatchEntry{
		Name:            "genesis",
		ContractAddress: collectionAddr.Hex(),
		MintPrice:       d("0.01"),
		PaymentToken:    model.NativeToken,
		DestinationIDs:  []string{"discord-main", "ops"},
	}
}

func txHash(n int64) common.Hash {
	return common.BigToHash(big.NewInt(1_000_000 + n))
}

func transferLog(block uint64, index uint, from, to common.Address, tokenID int64, tx common.Hash) types.Log {
	return types.Log{
		Address:     collectionAddr,
		BlockNumber: block,
		Index:       index,
		TxHash:      tx,
		Topics: []common.Hash{
			chain.TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
			common.BigToHash(big.NewInt(tokenID)),
		},
	}
}

func erc20Log(token, from, to common.Address, amount *big.Int) *types.Log {
	return &types.Log{
		Address: token,
		Topics: []common.Hash{
			chain.TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.BigToHash(amount).Bytes(),
	}
}

// fakeChain serves logs, transactions and receipts from memory.
type fakeChain struct {
	chain.Client

	mu       sync.Mutex
	logs     []types.Log
	txs      map[common.Hash]*types.Transaction
	receipts map[common.Hash]*types.Receipt
	ranges   [][2]uint64
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		txs:      make(map[common.Hash]*types.Transaction),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (f *fakeChain) addLogs(logs ...types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, logs...)
}

func (f *fakeChain) addTx(hash common.Hash, value *big.Int, receiptLogs ...*types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[hash] = types.NewTx(&types.LegacyTx{Value: value, Gas: 21000, GasPrice: big.NewInt(1)})
	f.receipts[hash] = &types.Receipt{TxHash: hash, Status: types.ReceiptStatusSuccessful, Logs: receiptLogs}
}

func (f *fakeChain) GetLogs(_ context.Context, from, to uint64, address common.Address, _ [][]common.Hash) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranges = append(f.ranges, [2]uint64{from, to})
	var out []types.Log
	for _, l := range f.logs {
		if l.Address == address && l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeChain) GetTransaction(_ context.Context, hash common.Hash) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[hash]
	if !ok {
		return nil, context.DeadlineExceeded
	}
	return tx, nil
}

func (f *fakeChain) GetTransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[hash]
	if !ok {
		return nil, context.DeadlineExceeded
	}
	return r, nil
}

// stubPrices values native at identity and tokens from a per-unit table.
type stubPrices struct {
	perUnit map[string]decimal.Decimal
}

func (s stubPrices) Resolve(_ context.Context, amount decimal.Decimal, token string) model.PriceQuote {
	if model.IsNativeToken(token) {
		return model.KnownQuote(amount, amount, model.PriceSourceNative)
	}
	unit, ok := s.perUnit[common.HexToAddress(token).Hex()]
	if !ok {
		return model.UnknownQuote(amount)
	}
	return model.KnownQuote(amount, unit.Mul(amount), model.PriceSourceStatic)
}

type stubTokens struct{}

func (stubTokens) Decimals(context.Context, common.Address) uint8 { return 6 }
func (stubTokens) Symbol(context.Context, common.Address) string  { return "USDC" }

type stubImages struct{}

func (stubImages) ImageURL(_ context.Context, _ common.Address, tokenID *big.Int) string {
	return "https://img.test/" + tokenID.String() + ".png"
}

// recordingSink keeps every delivered notification.
type recordingSink struct {
	mu    sync.Mutex
	ids   [][]string
	sent  []model.Notification
	panic bool
}

func (r *recordingSink) Deliver(_ context.Context, ids []string, n model.Notification) notify.Report {
	if r.panic {
		panic("sink exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, ids)
	r.sent = append(r.sent, n)
	return notify.Report{Delivered: ids}
}

func (r *recordingSink) notifications() []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Notification(nil), r.sent...)
}

type harness struct {
	chain  *fakeChain
	repo   *memory.DedupRepo
	dedup  *dedup.Store
	sink   *recordingSink
	deps   Deps
	poller *Poller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		chain: newFakeChain(),
		repo:  memory.NewDedupRepo(),
		sink:  &recordingSink{},
	}
	h.dedup = dedup.New(h.repo, 10, testLogger())
	h.deps = Deps{
		Client:          h.chain,
		Dedup:           h.dedup,
		Prices:          stubPrices{perUnit: map[string]decimal.Decimal{usdcAddr.Hex(): d("0.0004")}},
		Tokens:          stubTokens{},
		Images:          stubImages{},
		Sink:            h.sink,
		Links:           LinkTemplates{Collection: "https://market.test/{contract}", Item: "https://market.test/{contract}/{token_id}"},
		ReferenceSymbol: "ETH",
		OverlapBlocks:   1,
		Logger:          testLogger(),
	}
	h.poller = NewPoller(testEntry(), h.deps)
	return h
}

func (h *harness) set(kind model.SetKind) []string {
	return h.dedup.Snapshot(context.Background(), "genesis").SortedIDs(kind)
}
