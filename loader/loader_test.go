package loader

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"baatcheet-go/baatcheet"
	"baatcheet-go/hub"
	"baatcheet-go/internal/metrics"
	"baatcheet-go/internal/testmodel"
	"baatcheet-go/purego"
)

type sizedTokenizer struct {
	*baatcheet.MockTokenizer
	vocab int
}

func (t sizedTokenizer) VocabSize() int { return t.vocab }

// useTokenizer swaps the HF tokenizer for an in-memory one
func useTokenizer(t *testing.T, tok baatcheet.Tokenizer) {
	t.Helper()
	orig := newTokenizer
	newTokenizer = func(string) (baatcheet.Tokenizer, error) { return tok, nil }
	t.Cleanup(func() { newTokenizer = orig })
}

// tinyArtifact writes a loadable model dir with a placeholder tokenizer.json
func tinyArtifact(t *testing.T) string {
	t.Helper()
	dir := testmodel.Write(t, testmodel.Options{})
	require.NoError(t, os.WriteFile(filepath.Join(dir, hub.TokenizerFile), []byte("{}"), 0o644))
	return dir
}

func TestLoadNativeLocal(t *testing.T) {
	useTokenizer(t, sizedTokenizer{baatcheet.NewMockTokenizer(), testmodel.VocabSize})
	dir := tinyArtifact(t)

	cfg := baatcheet.NewConfig(dir, baatcheet.WithQuantGroupSize(4), baatcheet.WithMaxSeqLength(16))
	runner, tok, err := Load(cfg)
	require.NoError(t, err)
	defer runner.Close()

	native, ok := runner.(*purego.NativeModelRunner)
	require.True(t, ok)
	assert.True(t, native.Model().Quantized)
	assert.Equal(t, 16, native.Model().MaxSeqLen())
	assert.NotNil(t, tok)

	assert.Equal(t, float64(native.Model().WeightBytes()), testutil.ToFloat64(metrics.ModelWeightBytes))
	assert.Positive(t, testutil.CollectAndCount(metrics.ModelLoadDuration))
}

func TestLoadIsIdempotent(t *testing.T) {
	useTokenizer(t, baatcheet.NewMockTokenizer())
	dir := tinyArtifact(t)
	cfg := baatcheet.NewConfig(dir, baatcheet.WithQuantGroupSize(4))

	load := func() []int {
		llm, err := LoadLLM(cfg)
		require.NoError(t, err)
		t.Cleanup(func() { llm.Close() })

		out, err := llm.GenerateTokens(baatcheet.EncodedInput{TokenIDs: []int{1, 5, 6}}, baatcheet.NewSamplingParams(baatcheet.WithMaxTokens(8)))
		require.NoError(t, err)
		return out.CompletionTokenIDs()
	}

	assert.Equal(t, load(), load())
}

func TestLoadRejectsLargerTokenizerVocab(t *testing.T) {
	useTokenizer(t, sizedTokenizer{baatcheet.NewMockTokenizer(), testmodel.VocabSize + 1})

	_, _, err := Load(baatcheet.NewConfig(tinyArtifact(t), baatcheet.WithQuantGroupSize(4)))
	assert.ErrorContains(t, err, "exceeds model vocabulary")
}

func TestLoadMissingArtifactFiles(t *testing.T) {
	useTokenizer(t, baatcheet.NewMockTokenizer())
	dir := testmodel.Write(t, testmodel.Options{})

	_, _, err := Load(baatcheet.NewConfig(dir))
	assert.ErrorIs(t, err, hub.ErrMissingFile)
}

func TestLoadInvalidConfig(t *testing.T) {
	_, _, err := Load(baatcheet.NewConfig("org/model", baatcheet.WithDevice(baatcheet.DeviceCUDA)))
	assert.ErrorIs(t, err, baatcheet.ErrUnsupportedDevice)

	_, _, err = Load(baatcheet.NewConfig("org/model", baatcheet.WithMaxSeqLength(-1)))
	assert.ErrorIs(t, err, baatcheet.ErrInvalidConfig)
}

func TestLoadHTTP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(purego.ServerInfo{ModelID: baatcheet.DefaultModelID, VocabSize: 32000, EOSTokenID: 2})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := baatcheet.NewConfig("", baatcheet.WithBackend(baatcheet.BackendHTTP), baatcheet.WithServerURL(srv.URL))
	runner, tok, err := Load(cfg)
	require.NoError(t, err)
	defer runner.Close()

	assert.IsType(t, &purego.HTTPModelRunner{}, runner)
	assert.Equal(t, 2, tok.EOSTokenID())
}

func TestLoadHTTPWithoutEOS(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model_id": "` + baatcheet.DefaultModelID + `", "vocab_size": 32000}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := baatcheet.NewConfig("", baatcheet.WithBackend(baatcheet.BackendHTTP), baatcheet.WithServerURL(srv.URL))
	runner, tok, err := Load(cfg)
	require.NoError(t, err)
	defer runner.Close()

	assert.Equal(t, -1, tok.EOSTokenID())
}
