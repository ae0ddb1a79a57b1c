package bpe

import (
	"fmt"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
)

// DefaultPattern is the GPT-2 pre-tokenization pattern: contractions, letter
// runs, digit runs and punctuation runs each with an optional leading space,
// then whitespace. `\s+(?!\S)` leaves the last space of a run for the word
// that follows it.
const DefaultPattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`

// Pretokenizer splits text into the chunks merged independently by BPE.
type Pretokenizer struct {
	re *regexp2.Regexp
}

func NewPretokenizer(pattern string) (*Pretokenizer, error) {
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("compile pretokenizer %q: %w", pattern, err)
	}

	return &Pretokenizer{re: re}, nil
}

// Split partitions s: joining the chunks reproduces s byte for byte. Bytes
// that are not valid UTF-8 are matched as U+FFFD but returned unchanged.
// Characters the pattern does not match become single-character chunks.
func (p *Pretokenizer) Split(s string) []string {
	if s == "" {
		return nil
	}

	runes := make([]rune, 0, len(s))
	offsets := make([]int, 0, len(s)+1)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		runes = append(runes, r)
		offsets = append(offsets, i)
		i += size
	}
	offsets = append(offsets, len(s))

	var chunks []string
	gap := func(from, to int) {
		for k := from; k < to; k++ {
			chunks = append(chunks, s[offsets[k]:offsets[k+1]])
		}
	}

	var pos int
	m, err := p.re.FindRunesMatch(runes)
	for ; m != nil && err == nil; m, err = p.re.FindNextMatch(m) {
		if m.Length == 0 {
			continue
		}

		gap(pos, m.Index)
		chunks = append(chunks, s[offsets[m.Index]:offsets[m.Index+m.Length]])
		pos = m.Index + m.Length
	}

	gap(pos, len(runes))
	return chunks
}
