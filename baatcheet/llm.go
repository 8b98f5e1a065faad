package baatcheet

// LLM is the user-facing API for the inference engine
type LLM struct {
	*LLMEngine
}

// NewLLM creates an LLM over the mock runner and tokenizer, useful for
// dry runs of the pipeline without a model artifact.
func NewLLM(config *Config) *LLM {
	tokenizer := NewMockTokenizer()
	modelRunner := NewMockModelRunner(tokenizer.EOSTokenID())
	return NewLLMWithComponents(config, modelRunner, tokenizer)
}

// NewLLMWithComponents creates a new LLM with custom components
func NewLLMWithComponents(config *Config, modelRunner ModelRunner, tokenizer Tokenizer) *LLM {
	return &LLM{
		LLMEngine: NewLLMEngine(config, modelRunner, tokenizer),
	}
}

// GenerateText runs the prompts in order and returns just the decoded
// texts, with the same partial-result behavior as Generate.
func (llm *LLM) GenerateText(prompts []string, samplingParams *SamplingParams) ([]string, error) {
	outputs, err := llm.Generate(prompts, samplingParams)
	texts := make([]string, len(outputs))
	for i, o := range outputs {
		texts[i] = o.Text
	}
	return texts, err
}
