package model

import "github.com/shopspring/decimal"

// PriceSource names the resolver path that produced a quote.
type PriceSource string

const (
	PriceSourceNative      PriceSource = "native"
	PriceSourcePool        PriceSource = "pool"
	PriceSourceDexScreener PriceSource = "dexscreener"
	PriceSourceCoinGecko   PriceSource = "coingecko"
	PriceSourceStatic      PriceSource = "static"
	PriceSourceZero        PriceSource = "zero"
	PriceSourceNone        PriceSource = "none"
)

// PriceQuote expresses Amount of some payment token in the reference
// currency. An invalid ReferenceValue is the "unknown" state and is not an
// error.
type PriceQuote struct {
	Amount         decimal.Decimal
	ReferenceValue decimal.NullDecimal
	Source         PriceSource
}

// Known reports whether a reference value was resolved.
func (q PriceQuote) Known() bool {
	return q.ReferenceValue.Valid
}

func UnknownQuote(amount decimal.Decimal) PriceQuote {
	return PriceQuote{Amount: amount, Source: PriceSourceNone}
}

func KnownQuote(amount, value decimal.Decimal, source PriceSource) PriceQuote {
	return PriceQuote{
		Amount:         amount,
		ReferenceValue: decimal.NewNullDecimal(value),
		Source:         source,
	}
}
