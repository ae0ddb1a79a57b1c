package bpe

import (
	"errors"
	"fmt"
)

var (
	// ErrVocabularyIncomplete reports a vocabulary that cannot represent
	// every merged symbol. It is a configuration error, never an input error.
	ErrVocabularyIncomplete = errors.New("vocabulary incomplete")

	// ErrUnknownToken reports a token id that is not in the vocabulary.
	ErrUnknownToken = errors.New("unknown token")
)

// VocabularyIncompleteError names the symbol that had no id.
type VocabularyIncompleteError struct {
	Symbol string
	// Chunk is the pretokenized input that produced Symbol. Empty when the
	// error was found while constructing an Encoder.
	Chunk string
}

func (e *VocabularyIncompleteError) Error() string {
	if e.Chunk == "" {
		return fmt.Sprintf("%v: no id for symbol %q", ErrVocabularyIncomplete, e.Symbol)
	}

	return fmt.Sprintf("%v: no id for symbol %q in chunk %q", ErrVocabularyIncomplete, e.Symbol, e.Chunk)
}

func (e *VocabularyIncompleteError) Is(target error) bool {
	return target == ErrVocabularyIncomplete
}

// UnknownTokenError names the id that could not be decoded.
type UnknownTokenError struct {
	ID uint32
}

func (e *UnknownTokenError) Error() string {
	return fmt.Sprintf("%v: %d", ErrUnknownToken, e.ID)
}

func (e *UnknownTokenError) Is(target error) bool {
	return target == ErrUnknownToken
}
