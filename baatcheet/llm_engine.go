package baatcheet

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"baatcheet-go/internal/logger"
	"baatcheet-go/internal/metrics"
)

// EncodedInput is a prompt in the model's vocabulary
type EncodedInput struct {
	TokenIDs      []int
	AttentionMask []int
}

// EncodedOutput is the prompt followed by the generated continuation
type EncodedOutput struct {
	TokenIDs        []int
	NumPromptTokens int
	FinishReason    FinishReason
}

// CompletionTokenIDs returns only the newly generated tokens
func (o EncodedOutput) CompletionTokenIDs() []int {
	return o.TokenIDs[o.NumPromptTokens:]
}

// Output represents the output of a generation request
type Output struct {
	RequestID          string
	Prompt             string
	Text               string // prompt and continuation, special tokens stripped
	Completion         string // continuation only
	TokenIDs           []int
	CompletionTokenIDs []int
	FinishReason       FinishReason
}

// LLMEngine drives encode, generate and decode over one model/tokenizer pair.
// It is not safe for concurrent use.
type LLMEngine struct {
	config      *Config
	modelRunner ModelRunner
	tokenizer   Tokenizer
	eos         int
}

// NewLLMEngine creates a new LLM engine
func NewLLMEngine(config *Config, modelRunner ModelRunner, tokenizer Tokenizer) *LLMEngine {
	eos := config.EOS
	if eos < 0 {
		eos = tokenizer.EOSTokenID()
	}
	return &LLMEngine{
		config:      config,
		modelRunner: modelRunner,
		tokenizer:   tokenizer,
		eos:         eos,
	}
}

// Close cleans up resources
func (e *LLMEngine) Close() error {
	if c, ok := e.tokenizer.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return e.modelRunner.Close()
}

// Encode converts a prompt into model input
func (e *LLMEngine) Encode(prompt string) (EncodedInput, error) {
	tokenIDs, err := e.tokenizer.Encode(prompt)
	if err != nil {
		return EncodedInput{}, fmt.Errorf("failed to encode prompt: %w", err)
	}
	if len(tokenIDs) == 0 {
		return EncodedInput{}, ErrEmptyPrompt
	}
	if len(tokenIDs) > e.config.MaxSeqLength {
		return EncodedInput{}, fmt.Errorf("%w: %d tokens, limit %d", ErrPromptTooLong, len(tokenIDs), e.config.MaxSeqLength)
	}

	mask := make([]int, len(tokenIDs))
	for i := range mask {
		mask[i] = 1
	}
	return EncodedInput{TokenIDs: tokenIDs, AttentionMask: mask}, nil
}

// GenerateTokens extends input by at most samplingParams.MaxTokens tokens
func (e *LLMEngine) GenerateTokens(input EncodedInput, samplingParams *SamplingParams) (EncodedOutput, error) {
	if len(input.TokenIDs) == 0 {
		return EncodedOutput{}, ErrEmptyPrompt
	}
	if err := samplingParams.Validate(); err != nil {
		return EncodedOutput{}, err
	}

	seq := NewSequence(input.TokenIDs, samplingParams)
	seq.Status = StatusRunning
	if r, ok := e.modelRunner.(SequenceReleaser); ok {
		defer r.Release(seq.SeqID)
	}

	start := time.Now()
	isPrefill := true
	for !seq.IsFinished() {
		if seq.Len() >= e.config.MaxSeqLength {
			seq.Finish(FinishLength)
			break
		}
		if err := e.step(seq, isPrefill); err != nil {
			return EncodedOutput{}, err
		}
		isPrefill = false
	}

	metrics.PromptTokens.Observe(float64(seq.NumPromptTokens))
	metrics.GeneratedTokens.Add(float64(seq.NumCompletionTokens()))
	metrics.GenerationDuration.Observe(time.Since(start).Seconds())

	return EncodedOutput{
		TokenIDs:        seq.TokenIDs,
		NumPromptTokens: seq.NumPromptTokens,
		FinishReason:    seq.FinishReason,
	}, nil
}

// step performs one inference step
func (e *LLMEngine) step(seq *Sequence, isPrefill bool) error {
	tokenIDs, err := e.modelRunner.Run([]*Sequence{seq}, isPrefill)
	if err != nil {
		return fmt.Errorf("model inference failed: %w", err)
	}
	if len(tokenIDs) != 1 {
		return fmt.Errorf("model runner returned %d tokens for 1 sequence", len(tokenIDs))
	}

	tokenID := tokenIDs[0]
	seq.AppendToken(tokenID)

	switch {
	case !seq.Params.IgnoreEOS && tokenID == e.eos:
		seq.Finish(FinishEOS)
	case seq.NumCompletionTokens() >= seq.Params.MaxTokens:
		seq.Finish(FinishTokens)
	}
	return nil
}

// Decode converts generated tokens back to text, special tokens stripped
func (e *LLMEngine) Decode(output EncodedOutput) (string, error) {
	text, err := e.tokenizer.Decode(output.TokenIDs)
	if err != nil {
		return "", fmt.Errorf("failed to decode tokens: %w", err)
	}
	return text, nil
}

// Generate runs every prompt through encode, generate and decode, one
// after another, and returns outputs in prompt order. When a prompt fails
// the outputs of the prompts before it are returned with the error.
func (e *LLMEngine) Generate(prompts []string, samplingParams *SamplingParams) ([]Output, error) {
	outputs := make([]Output, 0, len(prompts))
	err := e.GenerateEach(prompts, samplingParams, func(out Output) error {
		outputs = append(outputs, out)
		return nil
	})
	return outputs, err
}

// GenerateEach is Generate with each output handed to fn as soon as its
// prompt completes. An error from fn stops generation and is returned.
func (e *LLMEngine) GenerateEach(prompts []string, samplingParams *SamplingParams, fn func(Output) error) error {
	if err := samplingParams.Validate(); err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	if e.config.ShowProgress {
		bar = progressbar.NewOptions(len(prompts),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("Generating"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}

	for i, prompt := range prompts {
		requestID := uuid.NewString()
		log := logger.Log.With("request_id", requestID, "prompt_index", i)

		out, err := e.generateOne(prompt, samplingParams)
		if err != nil {
			metrics.PromptsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("prompt %d: %w", i, err)
		}
		out.RequestID = requestID
		metrics.PromptsTotal.WithLabelValues(string(out.FinishReason)).Inc()

		log.Debug("generation finished",
			"prompt_tokens", len(out.TokenIDs)-len(out.CompletionTokenIDs),
			"new_tokens", len(out.CompletionTokenIDs),
			"finish_reason", string(out.FinishReason))

		if bar != nil {
			bar.Add(1)
		}
		if err := fn(out); err != nil {
			return err
		}
	}

	if bar != nil {
		bar.Finish()
	}

	return nil
}

func (e *LLMEngine) generateOne(prompt string, samplingParams *SamplingParams) (Output, error) {
	input, err := e.Encode(prompt)
	if err != nil {
		return Output{}, err
	}

	encoded, err := e.GenerateTokens(input, samplingParams)
	if err != nil {
		return Output{}, err
	}

	text, err := e.Decode(encoded)
	if err != nil {
		return Output{}, err
	}

	completionIDs := encoded.CompletionTokenIDs()
	completion, err := e.tokenizer.Decode(completionIDs)
	if err != nil {
		return Output{}, fmt.Errorf("failed to decode completion: %w", err)
	}

	return Output{
		Prompt:             prompt,
		Text:               text,
		Completion:         completion,
		TokenIDs:           encoded.TokenIDs,
		CompletionTokenIDs: completionIDs,
		FinishReason:       encoded.FinishReason,
	}, nil
}
