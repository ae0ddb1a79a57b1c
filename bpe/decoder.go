package bpe

import (
	"github.com/jmorganca/gptenc/logutil"
)

// Decoder turns token ids back into bytes. It never re-merges.
type Decoder struct {
	vocab *Vocabulary
}

func NewDecoder(vocab *Vocabulary) *Decoder {
	return &Decoder{vocab: vocab}
}

// DecodeBytes concatenates the bytes of each token. An id missing from the
// vocabulary fails with *UnknownTokenError; nothing is substituted.
func (d *Decoder) DecodeBytes(ids []uint32) ([]byte, error) {
	out := make([]byte, 0, 4*len(ids))
	for _, id := range ids {
		b, ok := d.vocab.Bytes(id)
		if !ok {
			return nil, &UnknownTokenError{ID: id}
		}

		out = append(out, b...)
	}

	logutil.Trace("decoded", "ids", logutil.IDs(ids), "bytes", len(out))
	return out, nil
}

// Decode is DecodeBytes as a string. The string holds the exact bytes that
// were encoded, which need not be valid UTF-8.
func (d *Decoder) Decode(ids []uint32) (string, error) {
	b, err := d.DecodeBytes(ids)
	if err != nil {
		return "", err
	}

	return string(b), nil
}
