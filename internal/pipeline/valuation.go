package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/emperorhan/mint-watcher/internal/chain"
	"github.com/emperorhan/mint-watcher/internal/domain/model"
	"github.com/emperorhan/mint-watcher/internal/pipeline/failure"
	"github.com/emperorhan/mint-watcher/internal/price"
)

// ErrNoPayment means neither the transaction value nor any receipt log
// paid the seller.
var ErrNoPayment = errors.New("no payment to seller found")

// ErrUnvalued means a payment was found but could not be expressed in the
// reference currency.
var ErrUnvalued = errors.New("payment could not be valued")

const nativeDecimals = 18

// PriceResolver values an amount of a payment token.
type PriceResolver interface {
	Resolve(ctx context.Context, amount decimal.Decimal, token string) model.PriceQuote
}

// TokenMeta describes ERC-20 payment tokens.
type TokenMeta interface {
	Decimals(ctx context.Context, token common.Address) uint8
	Symbol(ctx context.Context, token common.Address) string
}

// SaleValue is the resolved payment behind one sale.
type SaleValue struct {
	Amount decimal.Decimal
	Symbol string
	Token  string
	Method model.PaymentMethod
	Quote  model.PriceQuote
}

// MintValue is the resolved payment behind one mint batch.
type MintValue struct {
	Total  decimal.Decimal
	Symbol string
	Quote  model.PriceQuote
}

type Valuer struct {
	client          chain.Client
	prices          PriceResolver
	tokens          TokenMeta
	referenceSymbol string
}

func NewValuer(client chain.Client, prices PriceResolver, tokens TokenMeta, referenceSymbol string) *Valuer {
	return &Valuer{client: client, prices: prices, tokens: tokens, referenceSymbol: referenceSymbol}
}

// ValueMint computes mintPrice × count and resolves it. An unknown quote is
// returned as is.
func (v *Valuer) ValueMint(ctx context.Context, entry *model.WatchEntry, count int) MintValue {
	total := entry.MintPrice.Mul(decimal.NewFromInt(int64(count)))
	return MintValue{
		Total:  total,
		Symbol: v.paymentSymbol(ctx, entry),
		Quote:  v.prices.Resolve(ctx, total, entry.PaymentToken),
	}
}

func (v *Valuer) paymentSymbol(ctx context.Context, entry *model.WatchEntry) string {
	if entry.PaymentTokenSymbol != "" {
		return entry.PaymentTokenSymbol
	}
	if model.IsNativeToken(entry.PaymentToken) {
		return v.referenceSymbol
	}
	return v.tokens.Symbol(ctx, common.HexToAddress(entry.PaymentToken))
}

// ValueSale determines what the buyer paid for ev. A nonzero native value
// on the transaction is authoritative. Otherwise the receipt is scanned for
// an ERC-20 Transfer to the seller, emitted by a contract other than the
// watched one.
func (v *Valuer) ValueSale(ctx context.Context, contract common.Address, ev TransferEvent) (SaleValue, error) {
	tx, err := v.client.GetTransaction(ctx, ev.TxHash)
	if err != nil {
		return SaleValue{}, failure.Transient(fmt.Errorf("get transaction %s: %w", ev.TxHash.Hex(), err))
	}
	if tx.Value() != nil && tx.Value().Sign() > 0 {
		amount := price.ScaleAmount(tx.Value(), nativeDecimals)
		quote := v.prices.Resolve(ctx, amount, model.NativeToken)
		return SaleValue{
			Amount: amount,
			Symbol: v.referenceSymbol,
			Token:  model.NativeToken,
			Method: model.PaymentNative,
			Quote:  quote,
		}, nil
	}

	receipt, err := v.client.GetTransactionReceipt(ctx, ev.TxHash)
	if err != nil {
		return SaleValue{}, failure.Transient(fmt.Errorf("get receipt %s: %w", ev.TxHash.Hex(), err))
	}
	token, raw, ok := findPayment(receipt, contract, ev.From)
	if !ok {
		return SaleValue{}, ErrNoPayment
	}

	amount := price.ScaleAmount(raw, v.tokens.Decimals(ctx, token))
	quote := v.prices.Resolve(ctx, amount, token.Hex())
	if !quote.Known() {
		return SaleValue{}, fmt.Errorf("%w: %s of %s", ErrUnvalued, amount.String(), token.Hex())
	}
	return SaleValue{
		Amount: amount,
		Symbol: v.tokens.Symbol(ctx, token),
		Token:  token.Hex(),
		Method: model.PaymentToken,
		Quote:  quote,
	}, nil
}

// findPayment returns the first ERC-20 Transfer in receipt that pays
// seller a positive amount.
func findPayment(receipt *types.Receipt, contract, seller common.Address) (common.Address, *big.Int, bool) {
	if receipt == nil {
		return common.Address{}, nil, false
	}
	for _, l := range receipt.Logs {
		if l == nil || l.Address == contract {
			continue
		}
		if len(l.Topics) != 3 || l.Topics[0] != chain.TransferTopic {
			continue
		}
		if common.BytesToAddress(l.Topics[2].Bytes()) != seller {
			continue
		}
		if len(l.Data) < 32 {
			continue
		}
		amount := new(big.Int).SetBytes(l.Data[:32])
		if amount.Sign() <= 0 {
			continue
		}
		return l.Address, amount, true
	}
	return common.Address{}, nil, false
}
