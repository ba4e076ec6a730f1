package notify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/emperorhan/mint-watcher/internal/domain/model"
)

const (
	valueUnavailable = "value unavailable"
	amountPlaces     = 6
)

// smallestShownAmount is the least positive amount formatAmount can print.
var smallestShownAmount = decimal.New(1, -amountPlaces)

// Field is one labelled line of a rendered notification.
type Field struct {
	Name  string
	Value string
}

// Rendered is the destination-neutral text form of a notification.
type Rendered struct {
	Title    string
	URL      string
	ImageURL string
	Fields   []Field
}

// Text renders r as plain markdown-ish lines.
func (r Rendered) Text() string {
	var b strings.Builder
	b.WriteString(r.Title)
	for _, f := range r.Fields {
		fmt.Fprintf(&b, "\n%s: %s", f.Name, f.Value)
	}
	if r.URL != "" {
		fmt.Fprintf(&b, "\n%s", r.URL)
	}
	return b.String()
}

// Render builds the display form of n.
func Render(n model.Notification) Rendered {
	switch {
	case n.MintBatch != nil:
		return renderMint(n.MintBatch, n.ReferenceSymbol)
	case n.Sale != nil:
		return renderSale(n.Sale, n.ReferenceSymbol)
	default:
		return Rendered{Title: fmt.Sprintf("Unknown notification %s", n.Kind)}
	}
}

func renderMint(m *model.MintBatch, ref string) Rendered {
	title := fmt.Sprintf("%s: %d minted", m.ContractName, len(m.TokenIDs))
	if len(m.TokenIDs) == 1 {
		title = fmt.Sprintf("%s #%s minted", m.ContractName, m.TokenIDs[0])
	}
	value := valueUnavailable
	if m.ReferenceValue.Valid {
		value = formatAmount(m.ReferenceValue.Decimal, ref)
	}
	return Rendered{
		Title:    title,
		URL:      m.OpenForSaleLink,
		ImageURL: m.ImageURL,
		Fields: []Field{
			{Name: "Tokens", Value: formatTokenIDs(m.TokenIDs)},
			{Name: "Minter", Value: model.ShortAddress(m.MinterAddress)},
			{Name: "Paid", Value: formatAmount(m.TotalPaid, m.PaymentSymbol)},
			{Name: "Value", Value: value},
			{Name: "Tx", Value: m.TxHash},
		},
	}
}

func renderSale(s *model.Sale, ref string) Rendered {
	paid := formatAmount(s.AmountPaid, s.PaymentSymbol)
	value := formatAmount(s.ReferenceValue, ref)
	return Rendered{
		Title:    fmt.Sprintf("%s #%s sold", s.ContractName, s.TokenID),
		URL:      s.MarketplaceLink,
		ImageURL: s.ImageURL,
		Fields: []Field{
			{Name: "Price", Value: paid},
			{Name: "Value", Value: value},
			{Name: "Seller", Value: model.ShortAddress(s.Seller)},
			{Name: "Buyer", Value: model.ShortAddress(s.Buyer)},
			{Name: "Tx", Value: s.TxHash},
		},
	}
}

// formatAmount rounds to six places. A positive amount that rounds to zero
// is shown as a bound so it never reads like a resolved zero.
func formatAmount(d decimal.Decimal, symbol string) string {
	rounded := d.Round(amountPlaces)
	s := rounded.String()
	if d.IsPositive() && rounded.IsZero() {
		s = "<" + smallestShownAmount.String()
	}
	if symbol == "" {
		return s
	}
	return s + " " + symbol
}

func formatTokenIDs(ids []string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = "#" + id
	}
	return strings.Join(parts, ", ")
}
