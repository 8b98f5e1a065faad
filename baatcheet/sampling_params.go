package baatcheet

import "fmt"

// SamplingParams holds the decoding parameters for generation.
//
// The zero temperature default means greedy (argmax) decoding, so a given
// model and prompt always produce the same continuation.
type SamplingParams struct {
	Temperature float64
	TopK        int
	TopP        float64
	MaxTokens   int
	IgnoreEOS   bool
	Seed        int64
}

// SamplingOption is a functional option for SamplingParams
type SamplingOption func(*SamplingParams)

// NewSamplingParams creates a new SamplingParams with default values
func NewSamplingParams(opts ...SamplingOption) *SamplingParams {
	sp := &SamplingParams{
		Temperature: 0,
		TopK:        0,
		TopP:        1.0,
		MaxTokens:   64,
		IgnoreEOS:   false,
		Seed:        0,
	}

	for _, opt := range opts {
		opt(sp)
	}

	return sp
}

// Validate checks if the sampling parameters are valid
func (sp *SamplingParams) Validate() error {
	if sp.Temperature < 0 {
		return fmt.Errorf("temperature must be >= 0, got %g", sp.Temperature)
	}
	if sp.TopK < 0 {
		return fmt.Errorf("top_k must be >= 0, got %d", sp.TopK)
	}
	if sp.TopP <= 0 || sp.TopP > 1 {
		return fmt.Errorf("top_p must be in (0, 1], got %g", sp.TopP)
	}
	if sp.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", sp.MaxTokens)
	}
	return nil
}

// Greedy reports whether the params select argmax decoding
func (sp *SamplingParams) Greedy() bool {
	return sp.Temperature <= 1e-10
}

// WithTemperature sets the sampling temperature (0 = greedy)
func WithTemperature(t float64) SamplingOption {
	return func(sp *SamplingParams) {
		sp.Temperature = t
	}
}

// WithTopK restricts sampling to the k most likely tokens (0 = off)
func WithTopK(k int) SamplingOption {
	return func(sp *SamplingParams) {
		sp.TopK = k
	}
}

// WithTopP sets the nucleus sampling threshold
func WithTopP(p float64) SamplingOption {
	return func(sp *SamplingParams) {
		sp.TopP = p
	}
}

// WithMaxTokens sets the maximum number of tokens to generate
func WithMaxTokens(n int) SamplingOption {
	return func(sp *SamplingParams) {
		sp.MaxTokens = n
	}
}

// WithIgnoreEOS sets whether to ignore the EOS token
func WithIgnoreEOS(b bool) SamplingOption {
	return func(sp *SamplingParams) {
		sp.IgnoreEOS = b
	}
}

// WithSeed fixes the random source used when sampling
func WithSeed(seed int64) SamplingOption {
	return func(sp *SamplingParams) {
		sp.Seed = seed
	}
}
