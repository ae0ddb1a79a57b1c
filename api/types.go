package api

// TokenizeRequest is the request passed to [Client.Tokenize] and
// [Client.Count].
type TokenizeRequest struct {
	Text string `json:"text"`

	// Special makes special tokens such as <|endoftext|> in Text encode to
	// their own ids instead of as text.
	Special bool `json:"special,omitempty"`
}

type TokenizeResponse struct {
	Tokens []uint32 `json:"tokens"`
}

// BatchTokenizeRequest encodes many texts in one call. Results keep the
// order of Texts.
type BatchTokenizeRequest struct {
	Texts   []string `json:"texts"`
	Special bool     `json:"special,omitempty"`
}

type BatchTokenizeResponse struct {
	Tokens [][]uint32 `json:"tokens"`
}

type DetokenizeRequest struct {
	Tokens []uint32 `json:"tokens"`
}

// DetokenizeResponse carries the decoded tokens twice. Text is JSON text, so
// ids that end inside a multi-byte character come back with U+FFFD in place
// of the partial bytes. Bytes is base64 encoded and holds the exact bytes.
type DetokenizeResponse struct {
	Text  string `json:"text"`
	Bytes []byte `json:"bytes"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type VersionResponse struct {
	Version string `json:"version"`
}

// StatusResponse describes the vocabulary a server encodes with.
type StatusResponse struct {
	Vocabulary string     `json:"vocabulary"`
	Tokens     int        `json:"tokens"`
	Merges     int        `json:"merges"`
	Special    []string   `json:"special,omitempty"`
	Cache      CacheStats `json:"cache"`
}

type CacheStats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}
