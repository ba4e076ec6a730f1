package model

import (
	"math/big"
	"sort"
)

// SetKind selects one of the two per-contract dedup sets.
type SetKind string

const (
	SetMinted SetKind = "minted"
	SetSold   SetKind = "sold"
)

func (k SetKind) String() string {
	return string(k)
}

// DedupState is the persisted record for one contract. Token IDs are kept in
// their decimal string form so uint256 values survive round-trips.
type DedupState struct {
	ContractName string
	MintedIDs    map[string]struct{}
	SoldIDs      map[string]struct{}
}

func NewDedupState(name string) *DedupState {
	return &DedupState{
		ContractName: name,
		MintedIDs:    make(map[string]struct{}),
		SoldIDs:      make(map[string]struct{}),
	}
}

// Set returns the set for kind.
func (s *DedupState) Set(kind SetKind) map[string]struct{} {
	if kind == SetSold {
		return s.SoldIDs
	}
	return s.MintedIDs
}

// Clone copies both sets.
func (s *DedupState) Clone() *DedupState {
	c := NewDedupState(s.ContractName)
	for id := range s.MintedIDs {
		c.MintedIDs[id] = struct{}{}
	}
	for id := range s.SoldIDs {
		c.SoldIDs[id] = struct{}{}
	}
	return c
}

// Merge adds every ID of other into s.
func (s *DedupState) Merge(other *DedupState) {
	if other == nil {
		return
	}
	for id := range other.MintedIDs {
		s.MintedIDs[id] = struct{}{}
	}
	for id := range other.SoldIDs {
		s.SoldIDs[id] = struct{}{}
	}
}

// SortedIDs returns the IDs of one set in ascending numeric order.
func (s *DedupState) SortedIDs(kind SetKind) []string {
	set := s.Set(kind)
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return lessTokenID(ids[i], ids[j]) })
	return ids
}

// SetFromIDs builds a set from a list of token IDs.
func SetFromIDs(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func lessTokenID(a, b string) bool {
	x, okA := new(big.Int).SetString(a, 10)
	y, okB := new(big.Int).SetString(b, 10)
	if okA && okB {
		return x.Cmp(y) < 0
	}
	return a < b
}
