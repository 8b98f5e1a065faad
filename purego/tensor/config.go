package tensor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// ModelArchitecture names a supported decoder family
type ModelArchitecture string

const (
	ArchLlama   ModelArchitecture = "llama"   // GQA, RoPE, RMSNorm, SwiGLU
	ArchMistral ModelArchitecture = "mistral" // Llama plus sliding window attention
)

// ModelConfig is the subset of a HuggingFace config.json the decoder needs
type ModelConfig struct {
	Architecture ModelArchitecture `json:"model_type"`

	VocabSize             int     `json:"vocab_size"`
	HiddenSize            int     `json:"hidden_size"`
	IntermediateSize      int     `json:"intermediate_size"`
	NumLayers             int     `json:"num_hidden_layers"`
	NumHeads              int     `json:"num_attention_heads"`
	NumKVHeads            int     `json:"num_key_value_heads"`
	HeadDim               int     `json:"head_dim"`
	MaxPositionEmbeddings int     `json:"max_position_embeddings"`
	RMSNormEps            float64 `json:"rms_norm_eps"`
	RopeTheta             float64 `json:"rope_theta"`
	SlidingWindow         *int    `json:"sliding_window"`
	TieWordEmbeddings     bool    `json:"tie_word_embeddings"`
	TorchDType            string  `json:"torch_dtype"`

	BOSTokenID TokenIDList `json:"bos_token_id"`
	EOSTokenID TokenIDList `json:"eos_token_id"`
}

// TokenIDList accepts either a single id or a list of ids
type TokenIDList []int

func (l *TokenIDList) UnmarshalJSON(data []byte) error {
	var one *int
	if err := json.Unmarshal(data, &one); err == nil {
		if one != nil {
			*l = TokenIDList{*one}
		}
		return nil
	}
	var many []int
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("token id must be an int or list of ints: %w", err)
	}
	*l = many
	return nil
}

// First returns the first id, or -1 when the list is empty
func (l TokenIDList) First() int {
	if len(l) == 0 {
		return -1
	}
	return l[0]
}

// LoadModelConfig reads config.json from a model directory and fills defaults
func LoadModelConfig(dir string) (*ModelConfig, error) {
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseModelConfig(data)
}

// ParseModelConfig decodes config.json bytes
func ParseModelConfig(data []byte) (*ModelConfig, error) {
	var cfg ModelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	switch cfg.Architecture {
	case ArchLlama, ArchMistral:
	case "":
		cfg.Architecture = ArchLlama
	default:
		return nil, fmt.Errorf("unsupported model_type %q", cfg.Architecture)
	}

	if cfg.NumKVHeads == 0 {
		cfg.NumKVHeads = cfg.NumHeads
	}
	if cfg.HeadDim == 0 && cfg.NumHeads > 0 {
		cfg.HeadDim = cfg.HiddenSize / cfg.NumHeads
	}
	if cfg.RMSNormEps == 0 {
		cfg.RMSNormEps = 1e-6
	}
	if cfg.RopeTheta == 0 {
		cfg.RopeTheta = 10000
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the shape invariants the forward pass relies on
func (c *ModelConfig) Validate() error {
	switch {
	case c.VocabSize <= 0, c.HiddenSize <= 0, c.IntermediateSize <= 0, c.NumLayers <= 0, c.NumHeads <= 0:
		return fmt.Errorf("config has non-positive dimensions")
	case c.NumKVHeads <= 0 || c.NumHeads%c.NumKVHeads != 0:
		return fmt.Errorf("num_attention_heads %d not divisible by num_key_value_heads %d", c.NumHeads, c.NumKVHeads)
	case c.HeadDim <= 0 || c.HeadDim%2 != 0:
		return fmt.Errorf("head_dim must be positive and even, got %d", c.HeadDim)
	}
	return nil
}

// QDim is the width of the query projection
func (c *ModelConfig) QDim() int { return c.NumHeads * c.HeadDim }

// KVDim is the width of each key and value projection
func (c *ModelConfig) KVDim() int { return c.NumKVHeads * c.HeadDim }

// Window returns the attention window, or 0 when attention is unbounded
func (c *ModelConfig) Window() int {
	if c.Architecture != ArchMistral || c.SlidingWindow == nil {
		return 0
	}
	return *c.SlidingWindow
}
