package purego

import (
	"fmt"
	"sync"

	"baatcheet-go/baatcheet"
	"baatcheet-go/internal/logger"
	"baatcheet-go/purego/tensor"
)

// NativeModelRunner implements ModelRunner with the pure Go decoder.
// Each sequence gets its own KV cache, created on prefill and dropped
// on Release.
type NativeModelRunner struct {
	model *tensor.LlamaModel

	mu       sync.Mutex
	caches   map[int64]*tensor.KVCache
	samplers samplerSet
}

// NewNativeModelRunner wraps an already loaded model
func NewNativeModelRunner(model *tensor.LlamaModel) *NativeModelRunner {
	return &NativeModelRunner{
		model:  model,
		caches: make(map[int64]*tensor.KVCache),
	}
}

// LoadNativeModelRunner loads safetensors weights from dir using the
// precision settings in config.
func LoadNativeModelRunner(dir string, config *baatcheet.Config) (*NativeModelRunner, error) {
	model, err := tensor.LoadModel(dir, tensor.LoadOptions{
		DType:      string(config.DType),
		LoadIn4Bit: config.LoadIn4Bit,
		GroupSize:  config.QuantGroupSize,
		MaxSeqLen:  config.MaxSeqLength,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	logger.Log.Info("loaded model",
		"arch", model.Config.Architecture,
		"layers", model.Config.NumLayers,
		"dtype", model.DType,
		"4bit", model.Quantized,
		"weight_mb", model.WeightBytes()>>20,
		"fingerprint", model.Fingerprint(),
	)
	return NewNativeModelRunner(model), nil
}

// Model exposes the loaded weights
func (m *NativeModelRunner) Model() *tensor.LlamaModel {
	return m.model
}

// Run executes one step for each sequence. Prefill feeds the whole
// prompt into a fresh cache; decode feeds only the last token.
func (m *NativeModelRunner) Run(seqs []*baatcheet.Sequence, isPrefill bool) ([]int, error) {
	if m.model == nil {
		return nil, fmt.Errorf("model runner is closed")
	}
	if len(seqs) == 0 {
		return nil, fmt.Errorf("no sequences to process")
	}

	tokenIDs := make([]int, len(seqs))
	for i, seq := range seqs {
		logits, err := m.step(seq, isPrefill)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", seq.SeqID, err)
		}
		tokenIDs[i] = m.samplers.get(seq).Sample(logits)
	}
	return tokenIDs, nil
}

func (m *NativeModelRunner) step(seq *baatcheet.Sequence, isPrefill bool) ([]float32, error) {
	if seq.Len() == 0 {
		return nil, fmt.Errorf("sequence has no tokens")
	}

	if isPrefill {
		kv := m.model.NewKVCache()
		m.mu.Lock()
		m.caches[seq.SeqID] = kv
		m.mu.Unlock()
		return m.model.Prefill(seq.TokenIDs, kv)
	}

	m.mu.Lock()
	kv, ok := m.caches[seq.SeqID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("decode before prefill")
	}
	if kv.Len() != seq.Len()-1 {
		return nil, fmt.Errorf("cache holds %d positions, sequence has %d tokens", kv.Len(), seq.Len())
	}
	return m.model.Forward(seq.LastToken, kv)
}

// Release drops the cache and sampler of a finished sequence
func (m *NativeModelRunner) Release(seqID int64) {
	m.mu.Lock()
	delete(m.caches, seqID)
	m.mu.Unlock()
	m.samplers.release(seqID)
}

// Close drops the model and every cache
func (m *NativeModelRunner) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = nil
	clear(m.caches)
	return nil
}
