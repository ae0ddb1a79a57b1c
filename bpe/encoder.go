// Package bpe implements GPT-2 style byte-level byte-pair encoding over an
// immutable vocabulary and merge rank table.
//
// Encoding runs text through the Pretokenizer, merges each chunk with the
// Merger (memoized by a Cache) and maps the final symbols to ids with the
// Vocabulary. Decoding maps ids back to their bytes.
package bpe

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/jmorganca/gptenc/logutil"
)

type options struct {
	cache       *Cache
	pattern     string
	special     bool
	parallelism int
}

type Option func(*options)

// WithCache shares c between encoders. By default each Encoder owns an
// unbounded cache.
func WithCache(c *Cache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithPattern replaces DefaultPattern.
func WithPattern(pattern string) Option {
	return func(o *options) {
		o.pattern = pattern
	}
}

// WithSpecialTokens makes Encode emit the id of special tokens such as
// <|endoftext|> found in the input. Without it they are encoded as text.
func WithSpecialTokens() Option {
	return func(o *options) {
		o.special = true
	}
}

// WithParallelism limits how many texts EncodeBatch encodes at once.
func WithParallelism(n int) Option {
	return func(o *options) {
		o.parallelism = n
	}
}

// Encoder converts text to token ids. It is safe for concurrent use.
type Encoder struct {
	vocab        *Vocabulary
	pretokenizer *Pretokenizer
	merger       *Merger
	cache        *Cache
	decoder      *Decoder

	special     bool
	parallelism int
}

// New builds an Encoder. It fails with ErrVocabularyIncomplete if vocab does
// not have an id for every byte-level symbol.
func New(vocab *Vocabulary, ranks *Ranks, opts ...Option) (*Encoder, error) {
	o := options{
		pattern:     DefaultPattern,
		parallelism: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := vocab.CheckByteCoverage(); err != nil {
		return nil, err
	}

	pretokenizer, err := NewPretokenizer(o.pattern)
	if err != nil {
		return nil, err
	}

	if o.cache == nil {
		o.cache, err = NewCache(0)
		if err != nil {
			return nil, err
		}
	}

	if o.parallelism < 1 {
		o.parallelism = 1
	}

	return &Encoder{
		vocab:        vocab,
		pretokenizer: pretokenizer,
		merger:       NewMerger(ranks),
		cache:        o.cache,
		decoder:      NewDecoder(vocab),
		special:      o.special,
		parallelism:  o.parallelism,
	}, nil
}

// WithSpecial returns an Encoder that shares e's vocabulary and cache but
// sets whether special tokens are recognized.
func (e *Encoder) WithSpecial(special bool) *Encoder {
	c := *e
	c.special = special
	return &c
}

func (e *Encoder) Vocabulary() *Vocabulary {
	return e.vocab
}

func (e *Encoder) Cache() *Cache {
	return e.cache
}

func (e *Encoder) Decoder() *Decoder {
	return e.decoder
}

// Encode returns the token ids for text. text is treated as a byte sequence
// and need not be valid UTF-8. The empty string yields an empty slice.
func (e *Encoder) Encode(text string) ([]uint32, error) {
	return e.encode(text, e.special)
}

// EncodeBytes is Encode for a byte slice.
func (e *Encoder) EncodeBytes(b []byte) ([]uint32, error) {
	return e.encode(string(b), e.special)
}

// EncodeSpecial is Encode with special token recognition set per call.
func (e *Encoder) EncodeSpecial(text string, special bool) ([]uint32, error) {
	return e.encode(text, special)
}

func (e *Encoder) encode(text string, special bool) ([]uint32, error) {
	fragments := []fragment{{value: text}}
	if special {
		fragments = splitSpecialTokens(text, e.vocab)
	}

	ids := []uint32{}
	for _, frag := range fragments {
		if len(frag.ids) > 0 {
			ids = append(ids, frag.ids...)
			continue
		}

		for _, chunk := range e.pretokenizer.Split(frag.value) {
			for _, symbol := range e.cache.GetOrCompute(chunk, e.merger.Merge) {
				id, ok := e.vocab.Encode(symbol)
				if !ok {
					return nil, &VocabularyIncompleteError{Symbol: symbol, Chunk: chunk}
				}

				ids = append(ids, id)
			}
		}
	}

	logutil.Trace("encoded", "text", logutil.Quoted(text), "ids", logutil.IDs(ids))
	return ids, nil
}

// Count returns the number of tokens text encodes to.
func (e *Encoder) Count(text string) (int, error) {
	ids, err := e.Encode(text)
	if err != nil {
		return 0, err
	}

	return len(ids), nil
}

// EncodeBatch encodes texts concurrently through the shared cache. Results
// are in input order. The first error cancels the remaining work.
func (e *Encoder) EncodeBatch(ctx context.Context, texts []string) ([][]uint32, error) {
	results := make([][]uint32, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, text := range texts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			ids, err := e.Encode(text)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}

			results[i] = ids
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (e *Encoder) Decode(ids []uint32) (string, error) {
	return e.decoder.Decode(ids)
}

func (e *Encoder) DecodeBytes(ids []uint32) ([]byte, error) {
	return e.decoder.DecodeBytes(ids)
}
