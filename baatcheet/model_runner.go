package baatcheet

import (
	"fmt"
	"strings"
)

// ModelRunner is the model handle: it runs one forward step for the given
// sequences and returns the next token ID for each of them.
//
// On a prefill step the runner sees the whole prompt; on a decode step only
// seq.LastToken is new. Implementations live in the purego package:
// - pure Go transformer (safetensors weights, optional 4-bit blocks)
// - ONNX Runtime sessions
// - HTTP calls to an inference server
type ModelRunner interface {
	Run(seqs []*Sequence, isPrefill bool) ([]int, error)

	// Close cleans up resources
	Close() error
}

// SequenceReleaser is implemented by runners that keep per-sequence state
// (KV caches) and want to drop it once a sequence finishes.
type SequenceReleaser interface {
	Release(seqID int64)
}

// Tokenizer is the tokenizer handle paired with a ModelRunner.
type Tokenizer interface {
	// Encode converts text to token IDs, adding the model's special
	// prefix tokens (BOS) the way the reference tokenizer does.
	Encode(text string) ([]int, error)

	// Decode converts token IDs to text with special tokens stripped.
	Decode(tokenIDs []int) (string, error)

	// EOSTokenID returns the EOS token ID
	EOSTokenID() int
}

// MockModelRunner is a deterministic runner for tests and dry runs.
// It echoes prompt tokens back in order and emits EOS after EOSAfter
// completion tokens (never, when EOSAfter is 0).
type MockModelRunner struct {
	EOS      int
	EOSAfter int
	Calls    int
	released []int64
}

// NewMockModelRunner creates a new mock model runner
func NewMockModelRunner(eos int) *MockModelRunner {
	return &MockModelRunner{EOS: eos}
}

// Run generates mock output tokens
func (m *MockModelRunner) Run(seqs []*Sequence, isPrefill bool) ([]int, error) {
	m.Calls++
	tokenIDs := make([]int, len(seqs))

	for i, seq := range seqs {
		n := seq.NumCompletionTokens()
		if m.EOSAfter > 0 && n >= m.EOSAfter {
			tokenIDs[i] = m.EOS
			continue
		}
		prompt := seq.PromptTokenIDs()
		tokenIDs[i] = prompt[n%len(prompt)]
	}

	return tokenIDs, nil
}

// Release records that a sequence's state was dropped
func (m *MockModelRunner) Release(seqID int64) {
	m.released = append(m.released, seqID)
}

// Released returns the IDs passed to Release, in call order
func (m *MockModelRunner) Released() []int64 {
	return m.released
}

// Close cleans up resources
func (m *MockModelRunner) Close() error {
	return nil
}

// MockTokenizer maps each rune to one token, with BOS=1 and EOS=2 reserved.
// Decode strips both, so Decode(Encode(s)) == s for any valid UTF-8 s.
type MockTokenizer struct {
	AddBOS bool
}

const (
	mockBOS    = 1
	mockEOS    = 2
	mockOffset = 3
)

// NewMockTokenizer creates a new mock tokenizer
func NewMockTokenizer() *MockTokenizer {
	return &MockTokenizer{AddBOS: true}
}

// Encode performs mock tokenization
func (t *MockTokenizer) Encode(text string) ([]int, error) {
	tokens := make([]int, 0, len(text)+1)
	if t.AddBOS {
		tokens = append(tokens, mockBOS)
	}
	for _, r := range text {
		tokens = append(tokens, int(r)+mockOffset)
	}
	return tokens, nil
}

// Decode performs mock detokenization
func (t *MockTokenizer) Decode(tokenIDs []int) (string, error) {
	var sb strings.Builder
	for _, id := range tokenIDs {
		switch {
		case id == mockBOS || id == mockEOS:
		case id < mockOffset:
			return "", fmt.Errorf("unknown token id %d", id)
		default:
			sb.WriteRune(rune(id - mockOffset))
		}
	}
	return sb.String(), nil
}

// EOSTokenID returns the EOS token ID
func (t *MockTokenizer) EOSTokenID() int {
	return mockEOS
}
