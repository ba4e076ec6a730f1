package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/emperorhan/mint-watcher/internal/domain/model"
	"github.com/emperorhan/mint-watcher/internal/notify"
)

// Seed is the optional YAML file that declares notification destinations
// and the initial watchlist.
type Seed struct {
	Destinations []notify.DestinationConfig `yaml:"destinations"`
	Watchlist    []WatchSeed                `yaml:"watchlist"`
}

type WatchSeed struct {
	Name               string   `yaml:"name"`
	ContractAddress    string   `yaml:"contract_address"`
	MintPrice          string   `yaml:"mint_price"`
	PaymentToken       string   `yaml:"payment_token"`
	PaymentTokenSymbol string   `yaml:"payment_token_symbol"`
	Destinations       []string `yaml:"destinations"`
}

// Entry converts the seed into a validated watch entry.
func (w WatchSeed) Entry() (*model.WatchEntry, error) {
	price := decimal.Zero
	if s := strings.TrimSpace(w.MintPrice); s != "" {
		p, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("watch entry %s: mint_price %q: %w", w.Name, w.MintPrice, err)
		}
		price = p
	}
	token := strings.TrimSpace(w.PaymentToken)
	if token == "" {
		token = model.NativeToken
	}
	entry := &model.WatchEntry{
		Name:               strings.TrimSpace(w.Name),
		ContractAddress:    strings.TrimSpace(w.ContractAddress),
		MintPrice:          price,
		PaymentToken:       token,
		PaymentTokenSymbol: strings.TrimSpace(w.PaymentTokenSymbol),
		DestinationIDs:     w.Destinations,
	}
	entry.NormalizeDestinations()
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	return entry, nil
}

// Entries converts every watchlist seed, rejecting duplicate names.
func (s *Seed) Entries() ([]*model.WatchEntry, error) {
	out := make([]*model.WatchEntry, 0, len(s.Watchlist))
	seen := make(map[string]struct{}, len(s.Watchlist))
	for _, w := range s.Watchlist {
		entry, err := w.Entry()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[entry.Name]; dup {
			return nil, fmt.Errorf("duplicate watch entry %q", entry.Name)
		}
		seen[entry.Name] = struct{}{}
		out = append(out, entry)
	}
	return out, nil
}

// LoadSeed reads the seed file at path. An empty path yields an empty
// seed.
func LoadSeed(path string) (*Seed, error) {
	if strings.TrimSpace(path) == "" {
		return &Seed{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	seed, err := ParseSeed(raw)
	if err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return seed, nil
}

// ParseSeed decodes a YAML seed document. Unknown keys are rejected.
func ParseSeed(raw []byte) (*Seed, error) {
	seed := &Seed{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(seed); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	for _, d := range seed.Destinations {
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}
	return seed, nil
}
