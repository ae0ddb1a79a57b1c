package bpe

import (
	"slices"
	"strings"
)

// fragment is a piece of input text and, for special tokens, its id
type fragment struct {
	value string
	ids   []uint32
}

// splitSpecialTokens splits s on the special tokens of vocab. Special tokens
// are processed in id order; earlier tokens take priority at overlapping
// positions.
func splitSpecialTokens(s string, vocab *Vocabulary) []fragment {
	fragments := []fragment{{value: s}}
	for _, special := range vocab.Special() {
		if !strings.Contains(s, special) {
			continue
		}

		id, _ := vocab.Encode(special)
		for i := 0; i < len(fragments); i++ {
			frag := fragments[i]
			if len(frag.ids) > 0 {
				continue
			}

			var middle []fragment
			switch idx := strings.Index(frag.value, special); {
			case idx < 0:
				middle = append(middle, frag)
			case idx > 0:
				middle = append(middle, fragment{value: frag.value[:idx]})
				fallthrough
			default:
				middle = append(middle, fragment{value: special, ids: []uint32{id}})
				if rest := frag.value[idx+len(special):]; rest != "" {
					middle = append(middle, fragment{value: rest})
				}
			}

			fragments = slices.Replace(fragments, i, i+1, middle...)
		}
	}

	return fragments
}
