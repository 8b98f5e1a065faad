package baatcheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceCreation(t *testing.T) {
	samplingParams := NewSamplingParams(
		WithTemperature(0.8),
		WithMaxTokens(100),
	)

	tokenIDs := []int{1, 2, 3, 4, 5}
	seq := NewSequence(tokenIDs, samplingParams)

	assert.Equal(t, 5, seq.Len())
	assert.Equal(t, 5, seq.NumPromptTokens)
	assert.Equal(t, 0, seq.NumCompletionTokens())
	assert.Equal(t, StatusWaiting, seq.Status)
	assert.Equal(t, 5, seq.LastToken)
	assert.Equal(t, 100, seq.Params.MaxTokens)

	// the sequence owns its copy of the prompt
	tokenIDs[0] = 99
	assert.Equal(t, 1, seq.TokenIDs[0])
}

func TestSequenceIDsAreUnique(t *testing.T) {
	sp := NewSamplingParams()
	a := NewSequence([]int{1}, sp)
	b := NewSequence([]int{1}, sp)
	assert.NotEqual(t, a.SeqID, b.SeqID)
}

func TestSequenceAppendToken(t *testing.T) {
	seq := NewSequence([]int{1, 2, 3}, NewSamplingParams())

	seq.AppendToken(4)

	assert.Equal(t, 4, seq.Len())
	assert.Equal(t, 4, seq.LastToken)
	assert.Equal(t, 1, seq.NumCompletionTokens())
	assert.Equal(t, []int{1, 2, 3}, seq.PromptTokenIDs())
	assert.Equal(t, []int{4}, seq.CompletionTokenIDs())
}

func TestSequenceFinish(t *testing.T) {
	seq := NewSequence([]int{1}, NewSamplingParams())
	require.False(t, seq.IsFinished())

	seq.Finish(FinishEOS)

	assert.True(t, seq.IsFinished())
	assert.Equal(t, FinishEOS, seq.FinishReason)
}

func TestSamplingParams(t *testing.T) {
	sp := NewSamplingParams(
		WithTemperature(0.7),
		WithTopK(40),
		WithTopP(0.9),
		WithMaxTokens(128),
		WithIgnoreEOS(true),
		WithSeed(7),
	)

	assert.Equal(t, 0.7, sp.Temperature)
	assert.Equal(t, 40, sp.TopK)
	assert.Equal(t, 0.9, sp.TopP)
	assert.Equal(t, 128, sp.MaxTokens)
	assert.True(t, sp.IgnoreEOS)
	assert.Equal(t, int64(7), sp.Seed)
	assert.False(t, sp.Greedy())
	assert.NoError(t, sp.Validate())
}

func TestSamplingParamsDefaultsAreGreedy(t *testing.T) {
	sp := NewSamplingParams()

	assert.True(t, sp.Greedy())
	assert.Equal(t, 64, sp.MaxTokens)
	assert.NoError(t, sp.Validate())
}

func TestSamplingParamsValidation(t *testing.T) {
	tests := []struct {
		name string
		opt  SamplingOption
	}{
		{"negative temperature", WithTemperature(-0.1)},
		{"negative top_k", WithTopK(-1)},
		{"zero top_p", WithTopP(0)},
		{"top_p above one", WithTopP(1.5)},
		{"zero max tokens", WithMaxTokens(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, NewSamplingParams(tt.opt).Validate())
		})
	}
}
