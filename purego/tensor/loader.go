package tensor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// LoadOptions controls how weights are stored once loaded
type LoadOptions struct {
	DType      string // auto, float32, float16, bfloat16
	LoadIn4Bit bool   // quantize projection weights to Q4
	GroupSize  int    // Q4 group size
	MaxSeqLen  int    // 0 uses max_position_embeddings
}

// ResolveDType maps "auto" onto the checkpoint's torch_dtype
func ResolveDType(requested, torchDType string) string {
	if requested != "" && requested != "auto" {
		return requested
	}
	switch torchDType {
	case "float16", "bfloat16", "float32":
		return torchDType
	}
	return "float32"
}

// LoadModel loads a Llama/Mistral checkpoint from a directory holding
// config.json and safetensors weights.
func LoadModel(dir string, opts LoadOptions) (*LlamaModel, error) {
	cfg, err := LoadModelConfig(dir)
	if err != nil {
		return nil, err
	}

	ws, err := OpenWeights(dir)
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	return loadFromWeights(cfg, ws, opts)
}

func loadFromWeights(cfg *ModelConfig, ws *WeightSet, opts LoadOptions) (*LlamaModel, error) {
	maxSeq := opts.MaxSeqLen
	if maxSeq <= 0 {
		maxSeq = cfg.MaxPositionEmbeddings
	}
	if maxSeq <= 0 {
		maxSeq = 2048
	}

	m := &LlamaModel{
		Config:    cfg,
		Layers:    make([]*Layer, cfg.NumLayers),
		DType:     ResolveDType(opts.DType, cfg.TorchDType),
		Quantized: opts.LoadIn4Bit,
		rope:      NewRoPECache(cfg.HeadDim, maxSeq, cfg.RopeTheta),
		maxSeqLen: maxSeq,
	}
	for i := range m.Layers {
		m.Layers[i] = &Layer{}
	}

	switch m.DType {
	case "float32", "float16", "bfloat16":
	default:
		return nil, fmt.Errorf("unsupported dtype %q", m.DType)
	}

	// names are hashed in sorted order so shard layout does not matter
	digest := xxhash.New()
	for _, name := range ws.Names() {
		raw, info, err := ws.Raw(name)
		if err != nil {
			return nil, err
		}
		digest.WriteString(name)
		digest.Write(raw)

		if err := m.assign(name, raw, info, opts); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	m.fingerprint = digest.Sum64()

	if m.LMHead == nil {
		m.LMHead = m.Embed
	}
	if err := m.check(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *LlamaModel) assign(name string, raw []byte, info TensorInfo, opts LoadOptions) error {
	switch name {
	case "model.embed_tokens.weight":
		w, err := m.dense(raw, info)
		m.Embed = w
		return err
	case "lm_head.weight":
		w, err := m.dense(raw, info)
		m.LMHead = w
		return err
	case "model.norm.weight":
		v, err := DecodeFloats(raw, info)
		m.Norm = v
		return err
	}

	rest, ok := strings.CutPrefix(name, "model.layers.")
	if !ok {
		return nil
	}
	idxStr, param, ok := strings.Cut(rest, ".")
	if !ok {
		return nil
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 || idx >= len(m.Layers) {
		return fmt.Errorf("layer index %q out of range", idxStr)
	}
	l := m.Layers[idx]

	var slot *Matrix
	switch param {
	case "input_layernorm.weight":
		l.AttnNorm, err = DecodeFloats(raw, info)
		return err
	case "post_attention_layernorm.weight":
		l.FFNNorm, err = DecodeFloats(raw, info)
		return err
	case "self_attn.q_proj.weight":
		slot = &l.Wq
	case "self_attn.k_proj.weight":
		slot = &l.Wk
	case "self_attn.v_proj.weight":
		slot = &l.Wv
	case "self_attn.o_proj.weight":
		slot = &l.Wo
	case "mlp.gate_proj.weight":
		slot = &l.WGate
	case "mlp.up_proj.weight":
		slot = &l.WUp
	case "mlp.down_proj.weight":
		slot = &l.WDown
	default:
		return nil
	}

	w, err := m.linear(raw, info, opts)
	*slot = w
	return err
}

// linear stores a projection, quantized when requested and the shape allows
func (m *LlamaModel) linear(raw []byte, info TensorInfo, opts LoadOptions) (Matrix, error) {
	if !opts.LoadIn4Bit {
		return m.dense(raw, info)
	}
	if opts.GroupSize <= 0 {
		return nil, fmt.Errorf("quant group size must be positive, got %d", opts.GroupSize)
	}
	rows, cols, err := shape2D(info)
	if err != nil {
		return nil, err
	}
	if cols%opts.GroupSize != 0 {
		return m.dense(raw, info)
	}
	data, err := DecodeFloats(raw, info)
	if err != nil {
		return nil, err
	}
	return QuantizeQ4(rows, cols, data, opts.GroupSize)
}

// dense stores a matrix at the model's dtype
func (m *LlamaModel) dense(raw []byte, info TensorInfo) (Matrix, error) {
	rows, cols, err := shape2D(info)
	if err != nil {
		return nil, err
	}
	data, err := DecodeFloats(raw, info)
	if err != nil {
		return nil, err
	}
	switch m.DType {
	case "float16":
		return NewHalfMatrix(rows, cols, data, false)
	case "bfloat16":
		return NewHalfMatrix(rows, cols, data, true)
	default:
		return NewF32Matrix(rows, cols, data)
	}
}

func shape2D(info TensorInfo) (int, int, error) {
	if len(info.Shape) != 2 {
		return 0, 0, fmt.Errorf("expected 2D weight, got shape %v", info.Shape)
	}
	return info.Shape[0], info.Shape[1], nil
}

// check verifies every weight is present with the configured shape
func (m *LlamaModel) check() error {
	cfg := m.Config
	want := func(name string, w Matrix, rows, cols int) error {
		if w == nil {
			return fmt.Errorf("missing weight %s", name)
		}
		if w.Rows() != rows || w.Cols() != cols {
			return fmt.Errorf("weight %s is [%d, %d], want [%d, %d]", name, w.Rows(), w.Cols(), rows, cols)
		}
		return nil
	}
	wantVec := func(name string, v []float32, n int) error {
		if len(v) != n {
			return fmt.Errorf("weight %s has %d elements, want %d", name, len(v), n)
		}
		return nil
	}

	if err := want("model.embed_tokens.weight", m.Embed, cfg.VocabSize, cfg.HiddenSize); err != nil {
		return err
	}
	if err := want("lm_head.weight", m.LMHead, cfg.VocabSize, cfg.HiddenSize); err != nil {
		return err
	}
	if err := wantVec("model.norm.weight", m.Norm, cfg.HiddenSize); err != nil {
		return err
	}

	h, q, kv, inter := cfg.HiddenSize, cfg.QDim(), cfg.KVDim(), cfg.IntermediateSize
	for i, l := range m.Layers {
		p := fmt.Sprintf("model.layers.%d.", i)
		checks := []error{
			wantVec(p+"input_layernorm.weight", l.AttnNorm, h),
			wantVec(p+"post_attention_layernorm.weight", l.FFNNorm, h),
			want(p+"self_attn.q_proj.weight", l.Wq, q, h),
			want(p+"self_attn.k_proj.weight", l.Wk, kv, h),
			want(p+"self_attn.v_proj.weight", l.Wv, kv, h),
			want(p+"self_attn.o_proj.weight", l.Wo, h, q),
			want(p+"mlp.gate_proj.weight", l.WGate, inter, h),
			want(p+"mlp.up_proj.weight", l.WUp, inter, h),
			want(p+"mlp.down_proj.weight", l.WDown, h, inter),
		}
		for _, err := range checks {
			if err != nil {
				return err
			}
		}
	}
	return nil
}
