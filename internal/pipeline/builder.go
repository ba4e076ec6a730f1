package pipeline

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/emperorhan/mint-watcher/internal/domain/model"
)

// LinkTemplates render marketplace URLs. Placeholders: {contract},
// {token_id}, {name}.
type LinkTemplates struct {
	Collection string
	Item       string
}

// Builder turns classified and valued events into notification payloads.
type Builder struct {
	links           LinkTemplates
	referenceSymbol string
	nowFn           func() time.Time
	newID           func() string
}

func NewBuilder(links LinkTemplates, referenceSymbol string) *Builder {
	return &Builder{
		links:           links,
		referenceSymbol: referenceSymbol,
		nowFn:           time.Now,
		newID:           uuid.NewString,
	}
}

// MintBatch builds the single aggregated notification for every new mint
// in a cycle. The minter is the recipient of the first mint.
func (b *Builder) MintBatch(entry *model.WatchEntry, block uint64, mints []TransferEvent, value MintValue, imageURL string) model.Notification {
	ids := make([]string, len(mints))
	for i, m := range mints {
		ids[i] = m.ID()
	}
	var minter, txHash string
	if len(mints) > 0 {
		minter = mints[0].To.Hex()
		txHash = mints[0].TxHash.Hex()
	}
	return model.Notification{
		ID:              b.newID(),
		Kind:            model.NotificationMintBatch,
		BlockNumber:     block,
		CreatedAt:       b.nowFn().UTC(),
		ReferenceSymbol: b.referenceSymbol,
		MintBatch: &model.MintBatch{
			ContractName:    entry.Name,
			ContractAddress: checksum(entry.ContractAddress),
			TokenIDs:        ids,
			MinterAddress:   minter,
			TotalPaid:       value.Total,
			PaymentSymbol:   value.Symbol,
			ReferenceValue:  value.Quote.ReferenceValue,
			ImageURL:        imageURL,
			OpenForSaleLink: b.render(b.links.Collection, entry, ""),
			TxHash:          txHash,
		},
	}
}

// Sale builds the notification for one valued resale. value.Quote must be
// known.
func (b *Builder) Sale(entry *model.WatchEntry, block uint64, ev TransferEvent, value SaleValue, imageURL string) model.Notification {
	return model.Notification{
		ID:              b.newID(),
		Kind:            model.NotificationSale,
		BlockNumber:     block,
		CreatedAt:       b.nowFn().UTC(),
		ReferenceSymbol: b.referenceSymbol,
		Sale: &model.Sale{
			ContractName:    entry.Name,
			ContractAddress: checksum(entry.ContractAddress),
			TokenID:         ev.ID(),
			Seller:          ev.From.Hex(),
			Buyer:           ev.To.Hex(),
			AmountPaid:      value.Amount,
			PaymentSymbol:   value.Symbol,
			PaymentToken:    value.Token,
			ReferenceValue:  value.Quote.ReferenceValue.Decimal,
			Method:          value.Method,
			ImageURL:        imageURL,
			MarketplaceLink: b.render(b.links.Item, entry, ev.ID()),
			TxHash:          ev.TxHash.Hex(),
		},
	}
}

func (b *Builder) render(tmpl string, entry *model.WatchEntry, tokenID string) string {
	if tmpl == "" {
		return ""
	}
	return strings.NewReplacer(
		"{contract}", checksum(entry.ContractAddress),
		"{token_id}", tokenID,
		"{name}", entry.Name,
	).Replace(tmpl)
}

func checksum(addr string) string {
	return common.HexToAddress(addr).Hex()
}
