package purego

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"baatcheet-go/baatcheet"
	"baatcheet-go/internal/testmodel"
	"baatcheet-go/purego/tensor"
)

func loadTinyRunner(t *testing.T, opts ...baatcheet.ConfigOption) *NativeModelRunner {
	t.Helper()
	dir := testmodel.Write(t, testmodel.Options{})
	config := baatcheet.NewConfig(dir, append([]baatcheet.ConfigOption{baatcheet.WithQuantGroupSize(4)}, opts...)...)
	runner, err := LoadNativeModelRunner(dir, config)
	require.NoError(t, err)
	t.Cleanup(func() { runner.Close() })
	return runner
}

func TestNativeRunnerPrefillThenDecode(t *testing.T) {
	runner := loadTinyRunner(t)
	seq := baatcheet.NewSequence([]int{1, 5, 9}, baatcheet.NewSamplingParams())

	toks, err := runner.Run([]*baatcheet.Sequence{seq}, true)
	require.NoError(t, err)
	require.Len(t, toks, 1)
	assert.GreaterOrEqual(t, toks[0], 0)
	assert.Less(t, toks[0], testmodel.VocabSize)

	seq.AppendToken(toks[0])
	toks, err = runner.Run([]*baatcheet.Sequence{seq}, false)
	require.NoError(t, err)
	require.Len(t, toks, 1)

	runner.Release(seq.SeqID)
	assert.Empty(t, runner.caches)
	assert.Zero(t, runner.samplers.len())
}

func TestNativeRunnerGreedyMatchesModel(t *testing.T) {
	runner := loadTinyRunner(t, baatcheet.WithLoadIn4Bit(false))
	prompt := []int{1, 4, 7, 3}

	logits, err := runner.Model().Prefill(prompt, runner.Model().NewKVCache())
	require.NoError(t, err)
	want := tensor.Greedy(logits)

	seq := baatcheet.NewSequence(prompt, baatcheet.NewSamplingParams())
	toks, err := runner.Run([]*baatcheet.Sequence{seq}, true)
	require.NoError(t, err)
	assert.Equal(t, want, toks[0])
}

func TestNativeRunnerIsDeterministic(t *testing.T) {
	generate := func(runner *NativeModelRunner, params *baatcheet.SamplingParams) []int {
		seq := baatcheet.NewSequence([]int{1, 2, 3}, params)
		defer runner.Release(seq.SeqID)
		for i := 0; i < 6; i++ {
			toks, err := runner.Run([]*baatcheet.Sequence{seq}, i == 0)
			require.NoError(t, err)
			seq.AppendToken(toks[0])
		}
		return seq.CompletionTokenIDs()
	}

	runner := loadTinyRunner(t)
	greedy := baatcheet.NewSamplingParams()
	assert.Equal(t, generate(runner, greedy), generate(runner, greedy))

	sampled := baatcheet.NewSamplingParams(baatcheet.WithTemperature(0.9), baatcheet.WithSeed(11))
	assert.Equal(t, generate(runner, sampled), generate(runner, sampled))
}

func TestNativeRunnerDecodeWithoutPrefill(t *testing.T) {
	runner := loadTinyRunner(t)
	seq := baatcheet.NewSequence([]int{1, 2}, baatcheet.NewSamplingParams())

	_, err := runner.Run([]*baatcheet.Sequence{seq}, false)
	assert.ErrorContains(t, err, "decode before prefill")
}

func TestNativeRunnerDetectsStaleCache(t *testing.T) {
	runner := loadTinyRunner(t)
	seq := baatcheet.NewSequence([]int{1, 2}, baatcheet.NewSamplingParams())

	_, err := runner.Run([]*baatcheet.Sequence{seq}, true)
	require.NoError(t, err)

	// two tokens appended without a decode step in between
	seq.AppendToken(3)
	seq.AppendToken(4)
	_, err = runner.Run([]*baatcheet.Sequence{seq}, false)
	assert.Error(t, err)
}

func TestNativeRunnerWithEngine(t *testing.T) {
	runner := loadTinyRunner(t, baatcheet.WithMaxSeqLength(12))
	llm := baatcheet.NewLLMWithComponents(
		baatcheet.NewConfig("tiny", baatcheet.WithMaxSeqLength(12)),
		runner,
		baatcheet.NewMockTokenizer(),
	)

	// mock token ids are rune+3, so keep prompts inside the 16-token vocab
	input := baatcheet.EncodedInput{TokenIDs: []int{1, 3, 4, 5}}
	out, err := llm.GenerateTokens(input, baatcheet.NewSamplingParams(baatcheet.WithMaxTokens(20), baatcheet.WithIgnoreEOS(true)))
	require.NoError(t, err)
	assert.Equal(t, baatcheet.FinishLength, out.FinishReason)
	assert.Len(t, out.TokenIDs, 12)
	assert.Empty(t, runner.caches)
}

func TestNativeRunnerClosed(t *testing.T) {
	runner := loadTinyRunner(t)
	require.NoError(t, runner.Close())

	_, err := runner.Run([]*baatcheet.Sequence{baatcheet.NewSequence([]int{1}, baatcheet.NewSamplingParams())}, true)
	assert.Error(t, err)
}
