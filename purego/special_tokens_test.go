package purego

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

var vocab = map[string]int{"<s>": 1, "</s>": 2, "<unk>": 0}

func lookupVocab(tok string) (int, bool) {
	id, ok := vocab[tok]
	return id, ok
}

func TestLoadSpecialTokensFromTokenizerConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tokenizer_config.json", `{
		"bos_token": {"content": "<s>", "lstrip": false},
		"eos_token": "</s>",
		"pad_token": null
	}`)

	st := LoadSpecialTokens(dir, lookupVocab)
	assert.Equal(t, SpecialTokens{BOS: 1, EOS: 2, Pad: -1}, st)
}

func TestLoadSpecialTokensPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "tokenizer_config.json", `{"eos_token": "</s>", "pad_token": "<unk>"}`)
	writeFile(t, dir, "config.json", `{"bos_token_id": 1, "eos_token_id": 5}`)
	writeFile(t, dir, "generation_config.json", `{"eos_token_id": [7, 8]}`)

	st := LoadSpecialTokens(dir, lookupVocab)
	assert.Equal(t, 1, st.BOS)
	assert.Equal(t, 7, st.EOS)
	assert.Equal(t, 0, st.Pad)
}

func TestLoadSpecialTokensMissingFiles(t *testing.T) {
	st := LoadSpecialTokens(t.TempDir(), nil)
	assert.Equal(t, SpecialTokens{BOS: -1, EOS: -1, Pad: -1}, st)
}

func TestLoadSpecialTokensIgnoresBadJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.json", `{"eos_token_id": 2}`)
	writeFile(t, dir, "generation_config.json", `not json`)

	assert.Equal(t, 2, LoadSpecialTokens(dir, nil).EOS)
}
