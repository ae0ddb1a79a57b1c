package bpe

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/jmorganca/gptenc/bytelevel"
)

// Vocabulary is the bijection between symbols and token ids. It is read-only
// after construction and safe for concurrent use.
type Vocabulary struct {
	ids     map[string]uint32
	symbols map[uint32]string

	special    []string
	specialIDs map[uint32]bool

	bytesOnce sync.Once
	bytes     map[uint32][]byte
}

// NewVocabulary copies ids and rejects symbols that share an id. Each special
// token must be one of the symbols.
func NewVocabulary(ids map[string]uint32, special ...string) (*Vocabulary, error) {
	v := &Vocabulary{
		ids:        maps.Clone(ids),
		symbols:    make(map[uint32]string, len(ids)),
		specialIDs: make(map[uint32]bool, len(special)),
	}

	if v.ids == nil {
		v.ids = make(map[string]uint32)
	}

	for symbol, id := range v.ids {
		if prev, ok := v.symbols[id]; ok {
			return nil, fmt.Errorf("symbols %q and %q share id %d", prev, symbol, id)
		}

		v.symbols[id] = symbol
	}

	for _, s := range special {
		id, ok := v.ids[s]
		if !ok {
			return nil, fmt.Errorf("special token %q is not in the vocabulary", s)
		}

		if !v.specialIDs[id] {
			v.specialIDs[id] = true
			v.special = append(v.special, s)
		}
	}

	slices.SortFunc(v.special, func(a, b string) int {
		return cmp.Compare(v.ids[a], v.ids[b])
	})

	return v, nil
}

func (v *Vocabulary) Encode(symbol string) (uint32, bool) {
	id, ok := v.ids[symbol]
	return id, ok
}

func (v *Vocabulary) Decode(id uint32) (string, bool) {
	symbol, ok := v.symbols[id]
	return symbol, ok
}

func (v *Vocabulary) Len() int {
	return len(v.ids)
}

// Special returns the special tokens ordered by id.
func (v *Vocabulary) Special() []string {
	return v.special
}

func (v *Vocabulary) IsSpecial(id uint32) bool {
	return v.specialIDs[id]
}

// Bytes returns the raw bytes a token stands for. Symbols outside the
// byte-level alphabet, such as added tokens, stand for their own UTF-8.
func (v *Vocabulary) Bytes(id uint32) ([]byte, bool) {
	v.bytesOnce.Do(func() {
		v.bytes = make(map[uint32][]byte, len(v.symbols))
		for id, symbol := range v.symbols {
			b, err := bytelevel.Decode(symbol)
			if err != nil {
				b = []byte(symbol)
			}

			v.bytes[id] = b
		}
	})

	b, ok := v.bytes[id]
	return b, ok
}

// CheckByteCoverage reports the first byte-level symbol without an id. A
// vocabulary that passes can encode any input.
func (v *Vocabulary) CheckByteCoverage() error {
	for _, symbol := range bytelevel.BaseSymbols() {
		if _, ok := v.ids[symbol]; !ok {
			return &VocabularyIncompleteError{Symbol: symbol}
		}
	}

	return nil
}
