package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// WatchEntry is one monitored minting contract together with the
// destinations that receive its notifications.
type WatchEntry struct {
	Name               string          `db:"name" yaml:"name" json:"name"`
	ContractAddress    string          `db:"contract_address" yaml:"contract_address" json:"contract_address"`
	MintPrice          decimal.Decimal `db:"mint_price" yaml:"mint_price" json:"mint_price"`
	PaymentToken       string          `db:"payment_token" yaml:"payment_token" json:"payment_token"`
	PaymentTokenSymbol string          `db:"payment_token_symbol" yaml:"payment_token_symbol" json:"payment_token_symbol"`
	DestinationIDs     []string        `db:"destination_ids" yaml:"destination_ids" json:"destination_ids"`
	Source             EntrySource     `db:"source" yaml:"-" json:"source"`
	CreatedAt          time.Time       `db:"created_at" yaml:"-" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" yaml:"-" json:"updated_at"`
}

type EntrySource string

const (
	EntrySourceDB   EntrySource = "db"
	EntrySourceFile EntrySource = "file"
)

// Validate checks the fields the pipeline depends on.
func (e *WatchEntry) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("watch entry name is required")
	}
	if !IsHexAddress(e.ContractAddress) {
		return fmt.Errorf("watch entry %s: invalid contract address %q", e.Name, e.ContractAddress)
	}
	if e.MintPrice.IsNegative() {
		return fmt.Errorf("watch entry %s: mint price must not be negative", e.Name)
	}
	if !IsNativeToken(e.PaymentToken) && !IsHexAddress(e.PaymentToken) {
		return fmt.Errorf("watch entry %s: invalid payment token %q", e.Name, e.PaymentToken)
	}
	return nil
}

// AddDestination appends id unless it is already subscribed.
// Returns true when the set changed.
func (e *WatchEntry) AddDestination(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	for _, existing := range e.DestinationIDs {
		if existing == id {
			return false
		}
	}
	e.DestinationIDs = append(e.DestinationIDs, id)
	return true
}

// RemoveDestination drops id, preserving the order of the remaining IDs.
func (e *WatchEntry) RemoveDestination(id string) bool {
	id = strings.TrimSpace(id)
	for i, existing := range e.DestinationIDs {
		if existing == id {
			e.DestinationIDs = append(e.DestinationIDs[:i:i], e.DestinationIDs[i+1:]...)
			return true
		}
	}
	return false
}

// NormalizeDestinations trims IDs and removes blanks and duplicates, keeping
// first-seen order.
func (e *WatchEntry) NormalizeDestinations() {
	e.DestinationIDs = UniqueIDs(e.DestinationIDs)
}

// Clone returns a deep copy safe to hand to another goroutine.
func (e *WatchEntry) Clone() *WatchEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.DestinationIDs = append([]string(nil), e.DestinationIDs...)
	return &c
}

// UniqueIDs returns ids with blanks and duplicates removed, order preserved.
func UniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
