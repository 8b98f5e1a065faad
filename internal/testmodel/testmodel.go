// Package testmodel writes tiny deterministic Llama checkpoints for tests.
package testmodel

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

// Shape of the tiny checkpoint
const (
	VocabSize  = 16
	Hidden     = 8
	FFN        = 16
	Layers     = 2
	Heads      = 2
	KVHeads    = 1
	HeadDim    = Hidden / Heads
	MaxPos     = 32
	BOSTokenID = 1
	EOSTokenID = 2
)

// Tensor is a row-major float32 tensor
type Tensor struct {
	Shape []int
	Data  []float32
}

// Rand fills a tensor with values in [-0.5, 0.5)
func Rand(rng *rand.Rand, shape ...int) Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = rng.Float32() - 0.5
	}
	return Tensor{Shape: shape, Data: data}
}

// Ones is a vector of ones
func Ones(n int) Tensor {
	data := make([]float32, n)
	for i := range data {
		data[i] = 1
	}
	return Tensor{Shape: []int{n}, Data: data}
}

// WriteSafetensors writes F32 tensors in safetensors layout
func WriteSafetensors(t testing.TB, path string, tensors map[string]Tensor) {
	t.Helper()

	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := map[string]any{"__metadata__": map[string]string{"format": "pt"}}
	var body []byte
	for _, name := range names {
		tt := tensors[name]
		start := len(body)
		for _, v := range tt.Data {
			body = binary.LittleEndian.AppendUint32(body, math.Float32bits(v))
		}
		header[name] = map[string]any{
			"dtype":        "F32",
			"shape":        tt.Shape,
			"data_offsets": []int{start, len(body)},
		}
	}

	hdr, err := json.Marshal(header)
	require.NoError(t, err)

	out := binary.LittleEndian.AppendUint64(nil, uint64(len(hdr)))
	out = append(out, hdr...)
	out = append(out, body...)
	require.NoError(t, os.WriteFile(path, out, 0o644))
}

// Weights builds the checkpoint tensors from a fixed seed
func Weights(tied bool) map[string]Tensor {
	rng := rand.New(rand.NewPCG(42, 7))
	w := map[string]Tensor{
		"model.embed_tokens.weight": Rand(rng, VocabSize, Hidden),
		"model.norm.weight":         Ones(Hidden),
		"model.rotary_emb.inv_freq": Rand(rng, HeadDim/2),
	}
	if !tied {
		w["lm_head.weight"] = Rand(rng, VocabSize, Hidden)
	}
	for i := 0; i < Layers; i++ {
		p := fmt.Sprintf("model.layers.%d.", i)
		w[p+"input_layernorm.weight"] = Ones(Hidden)
		w[p+"post_attention_layernorm.weight"] = Ones(Hidden)
		w[p+"self_attn.q_proj.weight"] = Rand(rng, Heads*HeadDim, Hidden)
		w[p+"self_attn.k_proj.weight"] = Rand(rng, KVHeads*HeadDim, Hidden)
		w[p+"self_attn.v_proj.weight"] = Rand(rng, KVHeads*HeadDim, Hidden)
		w[p+"self_attn.o_proj.weight"] = Rand(rng, Hidden, Heads*HeadDim)
		w[p+"mlp.gate_proj.weight"] = Rand(rng, FFN, Hidden)
		w[p+"mlp.up_proj.weight"] = Rand(rng, FFN, Hidden)
		w[p+"mlp.down_proj.weight"] = Rand(rng, Hidden, FFN)
	}
	return w
}

// Options vary the written checkpoint
type Options struct {
	Arch   string // llama (default) or mistral
	Tied   bool   // tie lm_head to the embeddings
	Window int    // sliding_window, 0 for none
}

// Config renders config.json for the tiny checkpoint
func Config(opts Options) []byte {
	arch := opts.Arch
	if arch == "" {
		arch = "llama"
	}
	cfg := map[string]any{
		"model_type":              arch,
		"vocab_size":              VocabSize,
		"hidden_size":             Hidden,
		"intermediate_size":       FFN,
		"num_hidden_layers":       Layers,
		"num_attention_heads":     Heads,
		"num_key_value_heads":     KVHeads,
		"max_position_embeddings": MaxPos,
		"rms_norm_eps":            1e-5,
		"rope_theta":              10000.0,
		"tie_word_embeddings":     opts.Tied,
		"torch_dtype":             "float32",
		"sliding_window":          nil,
		"bos_token_id":            BOSTokenID,
		"eos_token_id":            EOSTokenID,
	}
	if opts.Window > 0 {
		cfg["sliding_window"] = opts.Window
	}
	data, _ := json.Marshal(cfg)
	return data
}

// Write creates config.json and model.safetensors in a fresh temp dir
func Write(t testing.TB, opts Options) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), Config(opts), 0o644))
	WriteSafetensors(t, filepath.Join(dir, "model.safetensors"), Weights(opts.Tied))
	return dir
}
