package tensor

import (
	"fmt"
	"math"
)

// Layer holds one decoder block's weights
type Layer struct {
	AttnNorm []float32
	FFNNorm  []float32

	Wq, Wk, Wv, Wo    Matrix
	WGate, WUp, WDown Matrix
}

// LlamaModel is a Llama/Mistral decoder. It is read-only after loading;
// all per-sequence state lives in a KVCache.
type LlamaModel struct {
	Config *ModelConfig
	Embed  Matrix
	Layers []*Layer
	Norm   []float32
	LMHead Matrix

	DType     string
	Quantized bool

	rope        *RoPECache
	maxSeqLen   int
	fingerprint uint64
}

// MaxSeqLen is the longest sequence a cache from this model can hold
func (m *LlamaModel) MaxSeqLen() int { return m.maxSeqLen }

// Fingerprint identifies the loaded weights; the same files always give
// the same value.
func (m *LlamaModel) Fingerprint() string {
	return fmt.Sprintf("%016x", m.fingerprint)
}

// WeightBytes is the resident size of all weights
func (m *LlamaModel) WeightBytes() int {
	total := m.Embed.Bytes() + len(m.Norm)*4
	if m.LMHead != m.Embed {
		total += m.LMHead.Bytes()
	}
	for _, l := range m.Layers {
		total += (len(l.AttnNorm) + len(l.FFNNorm)) * 4
		for _, w := range []Matrix{l.Wq, l.Wk, l.Wv, l.Wo, l.WGate, l.WUp, l.WDown} {
			total += w.Bytes()
		}
	}
	return total
}

// NewKVCache allocates a cache sized to MaxSeqLen
func (m *LlamaModel) NewKVCache() *KVCache {
	return NewKVCache(m.Config, m.maxSeqLen)
}

// Forward runs one token at position kv.Len() and returns the logits.
// The slice is owned by kv and overwritten by the next call.
func (m *LlamaModel) Forward(token int, kv *KVCache) ([]float32, error) {
	cfg := m.Config
	if token < 0 || token >= cfg.VocabSize {
		return nil, fmt.Errorf("token %d outside vocabulary of %d", token, cfg.VocabSize)
	}
	pos := kv.Len()
	if pos >= kv.Cap() {
		return nil, fmt.Errorf("sequence exceeds %d positions", kv.Cap())
	}

	s := kv.scratch
	eps := float32(cfg.RMSNormEps)

	m.Embed.Row(token, s.x)

	for li, l := range m.Layers {
		RMSNorm(s.xb, s.x, l.AttnNorm, eps)
		if err := m.attention(li, l, kv, pos); err != nil {
			return nil, fmt.Errorf("layer %d: %w", li, err)
		}
		AddInPlace(s.x, s.xb2)

		RMSNorm(s.xb, s.x, l.FFNNorm, eps)
		m.feedForward(l, s)
		AddInPlace(s.x, s.xb2)
	}

	RMSNorm(s.xb, s.x, m.Norm, eps)
	m.LMHead.MatVec(s.logits, s.xb)

	if err := kv.advance(); err != nil {
		return nil, err
	}
	return s.logits, nil
}

// Prefill feeds every token and returns the logits after the last one
func (m *LlamaModel) Prefill(tokens []int, kv *KVCache) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("prefill needs at least one token")
	}
	var logits []float32
	for _, tok := range tokens {
		var err error
		if logits, err = m.Forward(tok, kv); err != nil {
			return nil, err
		}
	}
	return logits, nil
}

// feedForward computes down(silu(gate(x)) * up(x)) into s.xb2
func (m *LlamaModel) feedForward(l *Layer, s *scratch) {
	l.WGate.MatVec(s.gate, s.xb)
	l.WUp.MatVec(s.up, s.xb)
	for i, g := range s.gate {
		s.gate[i] = SiLU(g) * s.up[i]
	}
	l.WDown.MatVec(s.xb2, s.gate)
}

// attention runs grouped-query attention for s.xb at pos into s.xb2
func (m *LlamaModel) attention(li int, l *Layer, kv *KVCache, pos int) error {
	cfg := m.Config
	s := kv.scratch
	hd := cfg.HeadDim

	l.Wq.MatVec(s.q, s.xb)
	l.Wk.MatVec(s.k, s.xb)
	l.Wv.MatVec(s.v, s.xb)

	if err := m.rope.Apply(s.q, pos); err != nil {
		return err
	}
	if err := m.rope.Apply(s.k, pos); err != nil {
		return err
	}
	kv.store(li, pos, s.k, s.v)

	start := 0
	if w := cfg.Window(); w > 0 && pos-w+1 > 0 {
		start = pos - w + 1
	}

	group := cfg.NumHeads / cfg.NumKVHeads
	scale := float32(1 / math.Sqrt(float64(hd)))
	scores := s.scores[:pos+1-start]

	for h := 0; h < cfg.NumHeads; h++ {
		q := s.q[h*hd : (h+1)*hd]
		off := (h / group) * hd

		for t := start; t <= pos; t++ {
			scores[t-start] = Dot(q, kv.key(li, t)[off:off+hd]) * scale
		}
		SoftmaxInPlace(scores)

		out := s.att[h*hd : (h+1)*hd]
		clear(out)
		for t := start; t <= pos; t++ {
			w := scores[t-start]
			for i, v := range kv.value(li, t)[off : off+hd] {
				out[i] += w * v
			}
		}
	}

	l.Wo.MatVec(s.xb2, s.att)
	return nil
}
