// Package bins holds the sparse bin map of a pair and the per-bin math used by
// swaps, deposits and withdrawals.
package bins

import (
	"maps"
	"slices"

	"github.com/holiman/uint256"
)

// Bin is one price slot. A bin exists while its share supply is non-zero.
type Bin struct {
	ReserveX    uint256.Int
	ReserveY    uint256.Int
	TotalSupply uint256.Int
}

// Reserve returns the reserve of X when isX is set, otherwise of Y.
func (b Bin) Reserve(isX bool) *uint256.Int {
	if isX {
		return new(uint256.Int).Set(&b.ReserveX)
	}
	return new(uint256.Int).Set(&b.ReserveY)
}

// IsEmpty reports whether the X (isX) or Y reserve is zero.
func (b Bin) IsEmpty(isX bool) bool {
	if isX {
		return b.ReserveX.IsZero()
	}
	return b.ReserveY.IsZero()
}

// Store is the sparse id -> Bin mapping with a bitmap index of populated ids.
type Store struct {
	bins map[uint32]Bin
	tree *Tree
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{bins: make(map[uint32]Bin), tree: NewTree()}
}

// Clone returns a deep copy; Bin holds only value types.
func (s *Store) Clone() *Store {
	return &Store{bins: maps.Clone(s.bins), tree: s.tree.Clone()}
}

// Get returns the bin at id.
func (s *Store) Get(id uint32) (Bin, bool) {
	b, ok := s.bins[id]
	return b, ok
}

// Put stores b at id, or deletes the bin once its supply reaches zero.
func (s *Store) Put(id uint32, b Bin) {
	if b.TotalSupply.IsZero() {
		delete(s.bins, id)
		s.tree.Remove(id)
		return
	}
	s.bins[id] = b
	s.tree.Add(id)
}

// Next returns the next populated id in the swap direction: lower ids when
// swapping X for Y, higher ids otherwise.
func (s *Store) Next(id uint32, swapForY bool) (uint32, bool) {
	if swapForY {
		return s.tree.FindFirstRight(id)
	}
	return s.tree.FindFirstLeft(id)
}

// Len returns the number of populated bins.
func (s *Store) Len() int { return len(s.bins) }

// IDs returns the populated ids in ascending order.
func (s *Store) IDs() []uint32 {
	ids := make([]uint32, 0, len(s.bins))
	for id := range s.bins {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Totals returns the sum of all bin reserves.
func (s *Store) Totals() (*uint256.Int, *uint256.Int) {
	x, y := new(uint256.Int), new(uint256.Int)
	for _, b := range s.bins {
		x.Add(x, &b.ReserveX)
		y.Add(y, &b.ReserveY)
	}
	return x, y
}
