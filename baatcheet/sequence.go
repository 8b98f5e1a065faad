package baatcheet

import "sync/atomic"

// SequenceStatus represents the status of a sequence
type SequenceStatus int

const (
	StatusWaiting SequenceStatus = iota
	StatusRunning
	StatusFinished
)

// FinishReason records why generation stopped
type FinishReason string

const (
	FinishNone   FinishReason = ""
	FinishEOS    FinishReason = "eos"    // model emitted EOS
	FinishTokens FinishReason = "tokens" // max new tokens reached
	FinishLength FinishReason = "length" // max sequence length reached
)

// Sequence represents a single generation request
type Sequence struct {
	SeqID           int64
	Status          SequenceStatus
	FinishReason    FinishReason
	TokenIDs        []int
	LastToken       int
	NumTokens       int
	NumPromptTokens int
	Params          SamplingParams
}

var seqCounter int64 = 0

// NewSequence creates a new sequence from token IDs and sampling parameters.
// tokenIDs must not be empty.
func NewSequence(tokenIDs []int, samplingParams *SamplingParams) *Sequence {
	seqID := atomic.AddInt64(&seqCounter, 1) - 1

	tokens := make([]int, len(tokenIDs))
	copy(tokens, tokenIDs)

	return &Sequence{
		SeqID:           seqID,
		Status:          StatusWaiting,
		TokenIDs:        tokens,
		LastToken:       tokens[len(tokens)-1],
		NumTokens:       len(tokens),
		NumPromptTokens: len(tokens),
		Params:          *samplingParams,
	}
}

// Len returns the number of tokens in the sequence
func (s *Sequence) Len() int {
	return s.NumTokens
}

// IsFinished returns true if the sequence has finished generating
func (s *Sequence) IsFinished() bool {
	return s.Status == StatusFinished
}

// NumCompletionTokens returns the number of completion tokens
func (s *Sequence) NumCompletionTokens() int {
	return s.NumTokens - s.NumPromptTokens
}

// PromptTokenIDs returns the prompt token IDs
func (s *Sequence) PromptTokenIDs() []int {
	return s.TokenIDs[:s.NumPromptTokens]
}

// CompletionTokenIDs returns the completion token IDs
func (s *Sequence) CompletionTokenIDs() []int {
	return s.TokenIDs[s.NumPromptTokens:]
}

// AppendToken appends a token to the sequence
func (s *Sequence) AppendToken(tokenID int) {
	s.TokenIDs = append(s.TokenIDs, tokenID)
	s.LastToken = tokenID
	s.NumTokens++
}

// Finish marks the sequence done
func (s *Sequence) Finish(reason FinishReason) {
	s.Status = StatusFinished
	s.FinishReason = reason
}
