package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type NotificationKind string

const (
	NotificationMintBatch NotificationKind = "mint_batch"
	NotificationSale      NotificationKind = "sale"
)

type PaymentMethod string

const (
	PaymentNative PaymentMethod = "native"
	PaymentToken  PaymentMethod = "token"
)

// Notification is the kind-tagged payload handed to a sink. Exactly one of
// MintBatch or Sale is set, matching Kind.
type Notification struct {
	ID              string           `json:"id"`
	Kind            NotificationKind `json:"kind"`
	BlockNumber     uint64           `json:"block_number"`
	CreatedAt       time.Time        `json:"created_at"`
	ReferenceSymbol string           `json:"reference_symbol"`
	MintBatch       *MintBatch       `json:"mint_batch,omitempty"`
	Sale            *Sale            `json:"sale,omitempty"`
}

// ContractName returns the watch entry name the notification belongs to.
func (n Notification) ContractName() string {
	switch {
	case n.MintBatch != nil:
		return n.MintBatch.ContractName
	case n.Sale != nil:
		return n.Sale.ContractName
	default:
		return ""
	}
}

// MintBatch aggregates every newly minted token observed in one cycle.
type MintBatch struct {
	ContractName    string              `json:"contract_name"`
	ContractAddress string              `json:"contract_address"`
	TokenIDs        []string            `json:"token_ids"`
	MinterAddress   string              `json:"minter_address"`
	TotalPaid       decimal.Decimal     `json:"total_paid"`
	PaymentSymbol   string              `json:"payment_symbol"`
	ReferenceValue  decimal.NullDecimal `json:"reference_value"`
	ImageURL        string              `json:"image_url"`
	OpenForSaleLink string              `json:"open_for_sale_link"`
	TxHash          string              `json:"tx_hash"`
}

// Sale describes the first observed resale of a token.
type Sale struct {
	ContractName    string          `json:"contract_name"`
	ContractAddress string          `json:"contract_address"`
	TokenID         string          `json:"token_id"`
	Seller          string          `json:"seller"`
	Buyer           string          `json:"buyer"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	PaymentSymbol   string          `json:"payment_symbol"`
	PaymentToken    string          `json:"payment_token"`
	ReferenceValue  decimal.Decimal `json:"reference_value"`
	Method          PaymentMethod   `json:"method"`
	ImageURL        string          `json:"image_url"`
	MarketplaceLink string          `json:"marketplace_link"`
	TxHash          string          `json:"tx_hash"`
}
