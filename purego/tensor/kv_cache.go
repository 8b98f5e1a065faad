package tensor

import "fmt"

// KVCache stores per-layer keys and values for one sequence, plus the
// scratch buffers its forward passes write into. The model itself stays
// read-only, so one model can serve several caches.
type KVCache struct {
	Keys   [][]float32 // per layer [max_seq_len, kv_dim]
	Values [][]float32 // per layer [max_seq_len, kv_dim]

	kvDim  int
	maxLen int
	length int

	scratch *scratch
}

type scratch struct {
	x, xb, xb2 []float32 // hidden
	q, att     []float32 // q_dim
	k, v       []float32 // kv_dim
	gate, up   []float32 // intermediate
	scores     []float32 // max_seq_len
	logits     []float32 // vocab
}

// NewKVCache allocates a cache for up to maxLen positions
func NewKVCache(cfg *ModelConfig, maxLen int) *KVCache {
	kvDim := cfg.KVDim()
	kv := &KVCache{
		Keys:   make([][]float32, cfg.NumLayers),
		Values: make([][]float32, cfg.NumLayers),
		kvDim:  kvDim,
		maxLen: maxLen,
		scratch: &scratch{
			x:      make([]float32, cfg.HiddenSize),
			xb:     make([]float32, cfg.HiddenSize),
			xb2:    make([]float32, cfg.HiddenSize),
			q:      make([]float32, cfg.QDim()),
			att:    make([]float32, cfg.QDim()),
			k:      make([]float32, kvDim),
			v:      make([]float32, kvDim),
			gate:   make([]float32, cfg.IntermediateSize),
			up:     make([]float32, cfg.IntermediateSize),
			scores: make([]float32, maxLen),
			logits: make([]float32, cfg.VocabSize),
		},
	}
	for i := range kv.Keys {
		kv.Keys[i] = make([]float32, maxLen*kvDim)
		kv.Values[i] = make([]float32, maxLen*kvDim)
	}
	return kv
}

// Len is the number of cached positions
func (kv *KVCache) Len() int { return kv.length }

// Cap is the maximum number of positions
func (kv *KVCache) Cap() int { return kv.maxLen }

func (kv *KVCache) store(layer, pos int, k, v []float32) {
	copy(kv.Keys[layer][pos*kv.kvDim:(pos+1)*kv.kvDim], k)
	copy(kv.Values[layer][pos*kv.kvDim:(pos+1)*kv.kvDim], v)
}

func (kv *KVCache) key(layer, pos int) []float32 {
	return kv.Keys[layer][pos*kv.kvDim : (pos+1)*kv.kvDim]
}

func (kv *KVCache) value(layer, pos int) []float32 {
	return kv.Values[layer][pos*kv.kvDim : (pos+1)*kv.kvDim]
}

func (kv *KVCache) advance() error {
	if kv.length >= kv.maxLen {
		return fmt.Errorf("kv cache full at %d positions", kv.maxLen)
	}
	kv.length++
	return nil
}

// Clear resets the cache for reuse
func (kv *KVCache) Clear() {
	kv.length = 0
}
