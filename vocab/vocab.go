// Package vocab loads the vocabulary and merge ranks an Encoder is built
// from. Sources are GPT-2 encoder.json and vocab.bpe files, HuggingFace
// tokenizer.json files, and tiktoken rank files, including the r50k_base
// data embedded in the binary.
package vocab

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmorganca/gptenc/bpe"
)

const EndOfText = "<|endoftext|>"

var ErrUnknownSource = errors.New("unknown vocabulary source")

// Model is a validated vocabulary and rank table pair.
type Model struct {
	Name       string
	Vocabulary *bpe.Vocabulary
	Ranks      *bpe.Ranks
}

func (m *Model) NewEncoder(opts ...bpe.Option) (*bpe.Encoder, error) {
	return bpe.New(m.Vocabulary, m.Ranks, opts...)
}

func newModel(name string, ids map[string]uint32, ranks *bpe.Ranks, special ...string) (*Model, error) {
	var specials []string
	for _, s := range special {
		if _, ok := ids[s]; ok {
			specials = append(specials, s)
		}
	}

	v, err := bpe.NewVocabulary(ids, specials...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	if err := v.CheckByteCoverage(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	var missing int
	for _, p := range ranks.Merges() {
		if _, ok := v.Encode(p.Left + p.Right); !ok {
			missing++
		}
	}

	if missing > 0 {
		slog.Warn("merges produce symbols missing from the vocabulary", "model", name, "count", missing)
	}

	slog.Debug("loaded vocabulary", "model", name, "tokens", v.Len(), "merges", ranks.Len())
	return &Model{Name: name, Vocabulary: v, Ranks: ranks}, nil
}

// Load resolves source to a Model. source is one of
//   - an encoding name such as "gpt2" or "r50k_base", read from embedded data
//   - a tokenizer.json file or a .tiktoken rank file
//   - a directory holding tokenizer.json, encoder.json and vocab.bpe, or
//     vocab.json and merges.txt
func Load(source string) (*Model, error) {
	if file, ok := encodings[source]; ok {
		return LoadTiktoken(offlineLoader, file, source)
	}

	fi, err := os.Stat(source)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	} else if err != nil {
		return nil, err
	}

	if fi.IsDir() {
		return LoadFS(os.DirFS(source), filepath.Base(source))
	}

	switch {
	case strings.HasSuffix(source, ".tiktoken"):
		return LoadTiktoken(FileLoader{}, source, strings.TrimSuffix(filepath.Base(source), ".tiktoken"))
	case strings.HasSuffix(source, ".json"):
		return LoadTokenizerJSON(source)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
}

// LoadFS finds vocabulary files at the root of fsys.
func LoadFS(fsys fs.FS, name string) (*Model, error) {
	if f, err := fsys.Open("tokenizer.json"); errors.Is(err, fs.ErrNotExist) {
		// noop
	} else if err != nil {
		return nil, err
	} else {
		defer f.Close()
		return parseTokenizerJSON(f, name)
	}

	for _, files := range [][2]string{
		{"encoder.json", "vocab.bpe"},
		{"vocab.json", "merges.txt"},
	} {
		if _, err := fs.Stat(fsys, files[0]); errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, err
		}

		return loadPair(fsys, files[0], files[1], name)
	}

	return nil, fmt.Errorf("%w: no vocabulary files in %q", ErrUnknownSource, name)
}
