package bpe

import (
	"cmp"

	heap "github.com/emirpasic/gods/v2/trees/binaryheap"

	"github.com/jmorganca/gptenc/bytelevel"
)

// Merger reduces a chunk to its final symbols. At each step it merges the
// adjacent pair with the lowest rank, the leftmost one when the same pair
// occurs more than once, until no adjacent pair has a rank.
type Merger struct {
	ranks *Ranks
}

func NewMerger(ranks *Ranks) *Merger {
	return &Merger{ranks: ranks}
}

// symbol is a node in the doubly linked list of symbols. A merged-away node
// has an empty value.
type symbol struct {
	p, n  int
	value string
}

// candidate is a mergeable pair as it was when pushed. It is stale once
// either side has changed.
type candidate struct {
	a, b        int
	rank        int
	left, right string
}

// Merge returns the symbols of chunk after byte-level mapping and merging.
func (m *Merger) Merge(chunk string) []string {
	if chunk == "" {
		return nil
	}

	text := bytelevel.EncodeString(chunk)
	symbols := make([]symbol, 0, len(chunk))
	for _, r := range text {
		i := len(symbols)
		symbols = append(symbols, symbol{p: i - 1, n: i + 1, value: string(r)})
	}

	if len(symbols) == 1 {
		return []string{text}
	}

	pairwise := func(a, b int) *candidate {
		if a < 0 || b >= len(symbols) {
			return nil
		}

		left, right := symbols[a].value, symbols[b].value
		rank, ok := m.ranks.Rank(left, right)
		if !ok {
			return nil
		}

		return &candidate{a: a, b: b, rank: rank, left: left, right: right}
	}

	pairs := heap.NewWith(func(i, j *candidate) int {
		if c := cmp.Compare(i.rank, j.rank); c != 0 {
			return c
		}

		return cmp.Compare(i.a, j.a)
	})

	for i := range len(symbols) - 1 {
		if c := pairwise(i, i+1); c != nil {
			pairs.Push(c)
		}
	}

	for !pairs.Empty() {
		c, _ := pairs.Pop()

		left, right := symbols[c.a], symbols[c.b]
		if left.n != c.b || left.value != c.left || right.value != c.right {
			continue
		}

		symbols[c.a].value = left.value + right.value
		symbols[c.b].value = ""

		symbols[c.a].n = right.n
		if right.n < len(symbols) {
			symbols[right.n].p = c.a
		}

		if next := pairwise(symbols[c.a].p, c.a); next != nil {
			pairs.Push(next)
		}

		if next := pairwise(c.a, symbols[c.a].n); next != nil {
			pairs.Push(next)
		}
	}

	merged := make([]string, 0, len(symbols))
	for i := 0; i < len(symbols); i = symbols[i].n {
		merged = append(merged, symbols[i].value)
	}

	return merged
}
