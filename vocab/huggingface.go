package vocab

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmorganca/gptenc/bpe"
)

type tokenizer struct {
	AddedTokens []token `json:"added_tokens"`
	Model       struct {
		Type   string            `json:"type"`
		Vocab  map[string]uint32 `json:"vocab"`
		Merges json.RawMessage   `json:"merges"`
	} `json:"model"`
}

type token struct {
	ID      uint32 `json:"id"`
	Content string `json:"content"`
	Special bool   `json:"special"`
}

// LoadTokenizerJSON loads a HuggingFace tokenizer.json with a BPE model.
// Added tokens join the vocabulary; those marked special are recognized by
// encoders built with bpe.WithSpecialTokens.
func LoadTokenizerJSON(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parseTokenizerJSON(f, filepath.Base(filepath.Dir(path)))
}

func parseTokenizerJSON(r io.Reader, name string) (*Model, error) {
	var tt tokenizer
	if err := json.NewDecoder(r).Decode(&tt); err != nil {
		return nil, fmt.Errorf("parse tokenizer json: %w", err)
	}

	if tt.Model.Type != "" && tt.Model.Type != "BPE" {
		return nil, fmt.Errorf("unsupported tokenizer model %q", tt.Model.Type)
	}

	merges, err := parseMergesJSON(tt.Model.Merges)
	if err != nil {
		return nil, err
	}

	ranks, err := bpe.NewRanks(merges)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	ids := tt.Model.Vocab
	if ids == nil {
		ids = make(map[string]uint32, len(tt.AddedTokens))
	}

	var special []string
	for _, t := range tt.AddedTokens {
		ids[t.Content] = t.ID
		if t.Special {
			special = append(special, t.Content)
		}
	}

	return newModel(name, ids, ranks, special...)
}

// parseMergesJSON accepts merges as "left right" strings or as [left, right]
// arrays.
func parseMergesJSON(raw json.RawMessage) ([]bpe.Pair, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var merges []bpe.Pair
	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		for _, line := range lines {
			left, right, ok := strings.Cut(line, " ")
			if !ok {
				return nil, fmt.Errorf("malformed merge %q", line)
			}

			merges = append(merges, bpe.Pair{Left: left, Right: right})
		}

		return merges, nil
	}

	var pairs [][]string
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, fmt.Errorf("could not parse tokenizer merges. expected []string or [][]string: %w", err)
	}

	for _, p := range pairs {
		if len(p) != 2 {
			return nil, fmt.Errorf("malformed merge %q", p)
		}

		merges = append(merges, bpe.Pair{Left: p[0], Right: p[1]})
	}

	return merges, nil
}
