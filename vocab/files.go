package vocab

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmorganca/gptenc/bpe"
)

// ParseEncoderJSON reads a symbol to id object such as GPT-2's encoder.json
// or a HuggingFace vocab.json.
func ParseEncoderJSON(r io.Reader) (map[string]uint32, error) {
	var ids map[string]uint32
	if err := json.NewDecoder(r).Decode(&ids); err != nil {
		return nil, fmt.Errorf("parse encoder json: %w", err)
	}

	return ids, nil
}

// ParseMerges reads merges, one "left right" pair per line, in rank order.
// A leading #version line is skipped and the list ends at the first blank
// line.
func ParseMerges(r io.Reader) ([]bpe.Pair, error) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var merges []bpe.Pair
	for n := 1; s.Scan(); n++ {
		line := strings.TrimSuffix(s.Text(), "\r")
		if n == 1 && strings.HasPrefix(line, "#version") {
			continue
		}

		if line == "" {
			break
		}

		left, right, ok := strings.Cut(line, " ")
		if !ok || left == "" || right == "" || strings.Contains(right, " ") {
			return nil, fmt.Errorf("parse merges: line %d: malformed merge %q", n, line)
		}

		merges = append(merges, bpe.Pair{Left: left, Right: right})
	}

	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("parse merges: %w", err)
	}

	return merges, nil
}

// LoadFiles loads an encoder.json (or vocab.json) and vocab.bpe (or
// merges.txt) pair.
func LoadFiles(vocabPath, mergesPath string) (*Model, error) {
	ids, err := readFile(vocabPath, ParseEncoderJSON)
	if err != nil {
		return nil, err
	}

	merges, err := readFile(mergesPath, ParseMerges)
	if err != nil {
		return nil, err
	}

	return fromMerges(filepath.Base(filepath.Dir(vocabPath)), ids, merges)
}

func loadPair(fsys fs.FS, vocabName, mergesName, name string) (*Model, error) {
	vf, err := fsys.Open(vocabName)
	if err != nil {
		return nil, err
	}
	defer vf.Close()

	ids, err := ParseEncoderJSON(vf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", vocabName, err)
	}

	mf, err := fsys.Open(mergesName)
	if err != nil {
		return nil, err
	}
	defer mf.Close()

	merges, err := ParseMerges(mf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", mergesName, err)
	}

	return fromMerges(name, ids, merges)
}

func fromMerges(name string, ids map[string]uint32, merges []bpe.Pair) (*Model, error) {
	ranks, err := bpe.NewRanks(merges)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	return newModel(name, ids, ranks, EndOfText)
}

func readFile[T any](path string, parse func(io.Reader) (T, error)) (T, error) {
	f, err := os.Open(path)
	if err != nil {
		var zero T
		return zero, err
	}
	defer f.Close()

	return parse(f)
}
