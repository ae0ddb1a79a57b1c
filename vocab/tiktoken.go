package vocab

import (
	"cmp"
	"encoding/base64"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/jmorganca/gptenc/bpe"
	"github.com/jmorganca/gptenc/bytelevel"
)

const (
	r50kBaseFile = "https://openaipublic.blob.core.windows.net/encodings/r50k_base.tiktoken"
	p50kBaseFile = "https://openaipublic.blob.core.windows.net/encodings/p50k_base.tiktoken"
)

// encodings maps the names Load accepts to rank files embedded by the
// offline loader. All of them use the GPT-2 pretokenizer.
var encodings = map[string]string{
	"gpt2":      r50kBaseFile,
	"r50k_base": r50kBaseFile,
	"p50k_base": p50kBaseFile,
}

var offlineLoader tiktoken.BpeLoader = tiktoken_loader.NewOfflineLoader()

// FileLoader reads tiktoken rank files from disk: one base64 token and its
// rank per line.
type FileLoader struct{}

func (FileLoader) LoadTiktokenBpe(tiktokenBpeFile string) (map[string]int, error) {
	b, err := os.ReadFile(tiktokenBpeFile)
	if err != nil {
		return nil, err
	}

	ranks := make(map[string]int)
	for n, line := range strings.Split(string(b), "\n") {
		if line == "" {
			continue
		}

		encoded, rank, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("line %d: malformed rank %q", n+1, line)
		}

		token, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}

		ranks[string(token)], err = strconv.Atoi(strings.TrimSpace(rank))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
	}

	return ranks, nil
}

// Encodings returns the encoding names Load resolves without any files.
func Encodings() []string {
	return slices.Sorted(maps.Keys(encodings))
}

// LoadTiktoken builds a Model from a tiktoken rank file. tiktoken files hold
// ranked byte strings rather than merges, so each multi-byte token of rank r
// is split in two by merging its bytes with the ranks below r; that split is
// the merge of rank r. <|endoftext|> takes the lowest id no ranked token uses,
// 50256 for both r50k_base and p50k_base.
func LoadTiktoken(loader tiktoken.BpeLoader, file, name string) (*Model, error) {
	tokens, err := loader.LoadTiktokenBpe(file)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}

	ids, merges, err := fromTiktokenRanks(tokens)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	if _, ok := ids[EndOfText]; !ok {
		used := make(map[uint32]bool, len(ids))
		for _, id := range ids {
			used[id] = true
		}

		var id uint32
		for used[id] {
			id++
		}

		ids[EndOfText] = id
	}

	ranks, err := bpe.NewRanksFromMap(merges)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	return newModel(name, ids, ranks, EndOfText)
}

func fromTiktokenRanks(tokens map[string]int) (map[string]uint32, map[bpe.Pair]int, error) {
	ids := make(map[string]uint32, len(tokens)+1)
	merges := make(map[bpe.Pair]int, len(tokens))

	for _, token := range slices.SortedFunc(maps.Keys(tokens), func(a, b string) int {
		return cmp.Compare(tokens[a], tokens[b])
	}) {
		rank := tokens[token]
		if rank < 0 {
			return nil, nil, fmt.Errorf("negative rank %d for token %q", rank, token)
		}

		ids[bytelevel.EncodeString(token)] = uint32(rank)
		if len(token) < 2 {
			continue
		}

		left, right, ok := splitToken(tokens, token, rank)
		if !ok {
			return nil, nil, fmt.Errorf("token %q of rank %d cannot be built from lower ranked tokens", token, rank)
		}

		merges[bpe.Pair{Left: bytelevel.EncodeString(left), Right: bytelevel.EncodeString(right)}] = rank
	}

	return ids, merges, nil
}

// splitToken merges the bytes of token using only ranks below maxRank and
// reports the two parts left when no more merges apply.
func splitToken(tokens map[string]int, token string, maxRank int) (string, string, bool) {
	parts := make([]string, len(token))
	for i := range len(token) {
		parts[i] = token[i : i+1]
	}

	for len(parts) > 2 {
		best, bestRank := -1, maxRank
		for i := range len(parts) - 1 {
			if rank, ok := tokens[parts[i]+parts[i+1]]; ok && rank < bestRank {
				best, bestRank = i, rank
			}
		}

		if best < 0 {
			break
		}

		parts = slices.Replace(parts, best, best+2, parts[best]+parts[best+1])
	}

	if len(parts) != 2 {
		return "", "", false
	}

	return parts[0], parts[1], true
}
