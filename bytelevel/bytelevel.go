// Package bytelevel maps raw bytes to the printable code points used by
// GPT-2 style byte-level BPE vocabularies and back.
//
// Printable Latin-1 bytes map to themselves. The remaining 68 bytes
// (controls, space, DEL, the C1 range, NBSP and the soft hyphen) are shifted
// past U+00FF in ascending byte order, so space becomes 'Ġ' (U+0120) and
// newline becomes 'Ċ' (U+010A).
package bytelevel

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var ErrUnmapped = errors.New("rune is not a byte-level symbol")

// the alphabet never reaches past 0x143
const maxRune = 0x100 + 68

var (
	encoder [256]rune
	decoder [maxRune]int16
	order   [256]byte
)

func init() {
	for i := range decoder {
		decoder[i] = -1
	}

	n := 0
	for _, r := range [][2]int{{'!', '~'}, {0xa1, 0xac}, {0xae, 0xff}} {
		for b := r[0]; b <= r[1]; b++ {
			encoder[b] = rune(b)
			order[n] = byte(b)
			n++
		}
	}

	shift := 0
	for b := 0; b < 256; b++ {
		if encoder[b] != 0 {
			continue
		}

		encoder[b] = rune(0x100 + shift)
		order[n] = byte(b)
		n++
		shift++
	}

	for b, r := range encoder {
		decoder[r] = int16(b)
	}
}

// Symbol returns the single-rune symbol standing for b.
func Symbol(b byte) string {
	return string(encoder[b])
}

// Rune returns the code point standing for b.
func Rune(b byte) rune {
	return encoder[b]
}

// Byte returns the byte r stands for. ok is false if r is not in the alphabet.
func Byte(r rune) (b byte, ok bool) {
	if r < 0 || r >= maxRune || decoder[r] < 0 {
		return 0, false
	}

	return byte(decoder[r]), true
}

// Encode maps every byte of b to its symbol. It is total: b does not need to
// be valid UTF-8.
func Encode(b []byte) string {
	var sb strings.Builder
	sb.Grow(2 * len(b))
	for _, c := range b {
		sb.WriteRune(encoder[c])
	}

	return sb.String()
}

// EncodeString is Encode for bytes held in a string.
func EncodeString(s string) string {
	var sb strings.Builder
	sb.Grow(2 * len(s))
	for i := 0; i < len(s); i++ {
		sb.WriteRune(encoder[s[i]])
	}

	return sb.String()
}

// Decode inverts Encode.
func Decode(s string) ([]byte, error) {
	return AppendDecode(make([]byte, 0, len(s)), s)
}

// AppendDecode appends the bytes s stands for to dst.
func AppendDecode(dst []byte, s string) ([]byte, error) {
	for i, r := range s {
		b, ok := Byte(r)
		if !ok {
			if r == utf8.RuneError {
				return dst, fmt.Errorf("%w: invalid UTF-8 at offset %d", ErrUnmapped, i)
			}
			return dst, fmt.Errorf("%w: %q at offset %d", ErrUnmapped, r, i)
		}

		dst = append(dst, b)
	}

	return dst, nil
}

// BaseSymbols returns the 256 symbols in the order GPT-2 assigns the base
// token ids 0 through 255.
func BaseSymbols() []string {
	symbols := make([]string, 256)
	for i, b := range order {
		symbols[i] = Symbol(b)
	}

	return symbols
}
