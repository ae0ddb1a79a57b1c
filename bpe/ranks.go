package bpe

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
)

// Pair is an ordered pair of adjacent symbols.
type Pair struct {
	Left, Right string
}

func (p Pair) String() string {
	return p.Left + " " + p.Right
}

// Ranks is the merge priority table. Lower ranks merge first; a pair that is
// absent cannot merge. Ranks is read-only and safe for concurrent use.
type Ranks struct {
	ranks map[Pair]int
}

// NewRanks ranks merges by their position in the list, as in a merges.txt
// file. A pair listed twice is rejected.
func NewRanks(merges []Pair) (*Ranks, error) {
	ranks := make(map[Pair]int, len(merges))
	for i, p := range merges {
		if prev, ok := ranks[p]; ok {
			return nil, fmt.Errorf("duplicate merge %q at ranks %d and %d", p, prev, i)
		}

		ranks[p] = i
	}

	return &Ranks{ranks: ranks}, nil
}

// NewRanksFromMap takes explicit ranks. Ranks must be non-negative and unique.
func NewRanksFromMap(m map[Pair]int) (*Ranks, error) {
	ranks := make(map[Pair]int, len(m))
	seen := make(map[int]Pair, len(m))
	for p, rank := range m {
		if rank < 0 {
			return nil, fmt.Errorf("negative rank %d for merge %q", rank, p)
		}

		if prev, ok := seen[rank]; ok {
			return nil, fmt.Errorf("merges %q and %q share rank %d", prev, p, rank)
		}

		seen[rank] = p
		ranks[p] = rank
	}

	return &Ranks{ranks: ranks}, nil
}

// Rank returns the priority of merging left followed by right.
func (r *Ranks) Rank(left, right string) (int, bool) {
	rank, ok := r.ranks[Pair{left, right}]
	return rank, ok
}

func (r *Ranks) Len() int {
	return len(r.ranks)
}

// Merges returns the pairs in rank order.
func (r *Ranks) Merges() []Pair {
	return slices.SortedFunc(maps.Keys(r.ranks), func(a, b Pair) int {
		return cmp.Compare(r.ranks[a], r.ranks[b])
	})
}
