package bpe

import (
	"testing"

	"github.com/jmorganca/gptenc/bytelevel"
)

// byteVocab returns the 256 byte-level symbols with their GPT-2 ids.
func byteVocab() map[string]uint32 {
	ids := make(map[string]uint32, 512)
	for i, s := range bytelevel.BaseSymbols() {
		ids[s] = uint32(i)
	}
	return ids
}

// helloWorld is a GPT-2 shaped fixture: real base ids, real ids for "Hello"
// and "ĠWorld", and just enough merges to build them.
func helloWorld(t *testing.T, opts ...Option) *Encoder {
	t.Helper()

	ids := byteVocab()
	for symbol, id := range map[string]uint32{
		"He":            40001,
		"ll":            40002,
		"Hell":          40003,
		"Hello":         15496,
		"ĠW":            40004,
		"or":            40005,
		"ld":            40006,
		"ĠWor":          40007,
		"ĠWorld":        2159,
		"<|endoftext|>": 50256,
	} {
		ids[symbol] = id
	}

	vocab, err := NewVocabulary(ids, "<|endoftext|>")
	if err != nil {
		t.Fatal(err)
	}

	ranks, err := NewRanks([]Pair{
		{"H", "e"},
		{"l", "l"},
		{"He", "ll"},
		{"Hell", "o"},
		{"Ġ", "W"},
		{"o", "r"},
		{"l", "d"},
		{"ĠW", "or"},
		{"ĠWor", "ld"},
	})
	if err != nil {
		t.Fatal(err)
	}

	enc, err := New(vocab, ranks, opts...)
	if err != nil {
		t.Fatal(err)
	}

	return enc
}
