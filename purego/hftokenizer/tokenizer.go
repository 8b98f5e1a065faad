// Package hftokenizer wraps the HuggingFace tokenizers library for a
// model directory holding tokenizer.json.
package hftokenizer

import (
	"fmt"
	"path/filepath"

	"github.com/daulet/tokenizers"

	"baatcheet-go/internal/logger"
	"baatcheet-go/purego"
)

// Tokenizer encodes with the model's special tokens (BOS) and decodes
// with them stripped.
type Tokenizer struct {
	tk        *tokenizers.Tokenizer
	special   purego.SpecialTokens
	vocabSize int
}

// New loads dir/tokenizer.json and resolves special tokens from the
// configs beside it.
func New(dir string) (*Tokenizer, error) {
	tk, err := tokenizers.FromFile(filepath.Join(dir, "tokenizer.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	t := &Tokenizer{tk: tk, vocabSize: int(tk.VocabSize())}
	t.special = purego.LoadSpecialTokens(dir, t.lookup)

	logger.Log.Debug("loaded tokenizer",
		"vocab", t.vocabSize,
		"bos", t.special.BOS,
		"eos", t.special.EOS,
	)
	return t, nil
}

// lookup maps a special token string to its id
func (t *Tokenizer) lookup(token string) (int, bool) {
	if token == "" {
		return 0, false
	}
	ids, _ := t.tk.Encode(token, false)
	if len(ids) != 1 {
		return 0, false
	}
	return int(ids[0]), true
}

// Encode converts text to token IDs, adding BOS as the model expects
func (t *Tokenizer) Encode(text string) ([]int, error) {
	ids, _ := t.tk.Encode(text, true)
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out, nil
}

// Decode converts token IDs to text, skipping special tokens
func (t *Tokenizer) Decode(tokenIDs []int) (string, error) {
	ids := make([]uint32, len(tokenIDs))
	for i, id := range tokenIDs {
		if id < 0 {
			return "", fmt.Errorf("invalid token id %d", id)
		}
		ids[i] = uint32(id)
	}
	return t.tk.Decode(ids, true), nil
}

// EOSTokenID returns the EOS token ID, -1 if unknown
func (t *Tokenizer) EOSTokenID() int { return t.special.EOS }

// VocabSize returns the tokenizer vocabulary size
func (t *Tokenizer) VocabSize() int { return t.vocabSize }

// Close frees the native tokenizer
func (t *Tokenizer) Close() error {
	return t.tk.Close()
}
