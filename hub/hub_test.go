package hub

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"baatcheet-go/baatcheet"
)

// fakeRepo serves files out of a directory and records downloads
type fakeRepo struct {
	dir        string
	downloaded []string
	fail       string
}

func (r *fakeRepo) HasFile(name string) bool {
	_, err := os.Stat(filepath.Join(r.dir, name))
	return err == nil
}

func (r *fakeRepo) DownloadFile(name string) (string, error) {
	if name == r.fail {
		return "", errors.New("connection reset")
	}
	r.downloaded = append(r.downloaded, name)
	return filepath.Join(r.dir, name), nil
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	}
}

func TestResolveRepoSingleFile(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, ConfigFile, TokenizerFile, "tokenizer_config.json", WeightsFile)
	repo := &fakeRepo{dir: dir}

	art, err := ResolveRepo(baatcheet.NewConfig("org/model"), repo)
	require.NoError(t, err)

	assert.Equal(t, dir, art.Dir)
	assert.Equal(t, "org/model", art.ModelID)
	assert.False(t, art.Local)
	assert.Equal(t, []string{ConfigFile, TokenizerFile, "tokenizer_config.json", WeightsFile}, repo.downloaded)
}

func TestResolveRepoSharded(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, ConfigFile, TokenizerFile, "model-00001-of-00002.safetensors", "model-00002-of-00002.safetensors")
	require.NoError(t, os.WriteFile(filepath.Join(dir, WeightsIndexFile), []byte(`{
		"metadata": {"total_size": 10},
		"weight_map": {
			"a": "model-00002-of-00002.safetensors",
			"b": "model-00001-of-00002.safetensors",
			"c": "model-00002-of-00002.safetensors"
		}
	}`), 0o644))
	repo := &fakeRepo{dir: dir}

	_, err := ResolveRepo(baatcheet.NewConfig("org/model"), repo)
	require.NoError(t, err)
	assert.Equal(t, []string{
		ConfigFile, TokenizerFile, WeightsIndexFile,
		"model-00001-of-00002.safetensors", "model-00002-of-00002.safetensors",
	}, repo.downloaded)
}

func TestResolveRepoONNX(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, ConfigFile, TokenizerFile, "onnx/model.onnx", "onnx/model.onnx_data")
	repo := &fakeRepo{dir: dir}

	art, err := ResolveRepo(baatcheet.NewConfig("org/model", baatcheet.WithBackend(baatcheet.BackendONNX)), repo)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "onnx/model.onnx"), art.ONNXPath)
	assert.Contains(t, repo.downloaded, "onnx/model.onnx_data")
	assert.NotContains(t, repo.downloaded, WeightsFile)
}

func TestResolveRepoMissingFiles(t *testing.T) {
	tests := []struct {
		name    string
		files   []string
		backend baatcheet.Backend
	}{
		{"no config", []string{TokenizerFile, WeightsFile}, baatcheet.BackendNative},
		{"no tokenizer", []string{ConfigFile, WeightsFile}, baatcheet.BackendNative},
		{"no weights", []string{ConfigFile, TokenizerFile}, baatcheet.BackendNative},
		{"no onnx graph", []string{ConfigFile, TokenizerFile, WeightsFile}, baatcheet.BackendONNX},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			touch(t, dir, tt.files...)
			_, err := ResolveRepo(baatcheet.NewConfig("org/model", baatcheet.WithBackend(tt.backend)), &fakeRepo{dir: dir})
			assert.ErrorIs(t, err, ErrMissingFile)
		})
	}
}

func TestResolveRepoDownloadError(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, ConfigFile, TokenizerFile, WeightsFile)

	_, err := ResolveRepo(baatcheet.NewConfig("org/model"), &fakeRepo{dir: dir, fail: WeightsFile})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestResolveLocalDirectory(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, ConfigFile, TokenizerFile, WeightsIndexFile)

	art, err := Resolve(baatcheet.NewConfig(dir))
	require.NoError(t, err)
	assert.True(t, art.Local)
	assert.Equal(t, dir, art.Dir)
	assert.Empty(t, art.ONNXPath)
}

func TestResolveLocalONNX(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, ConfigFile, TokenizerFile, "model.onnx")

	art, err := Resolve(baatcheet.NewConfig(dir, baatcheet.WithBackend(baatcheet.BackendONNX)))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "model.onnx"), art.ONNXPath)
}

func TestResolveLocalMissingWeights(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, ConfigFile, TokenizerFile)

	_, err := Resolve(baatcheet.NewConfig(dir))
	assert.ErrorIs(t, err, ErrMissingFile)
}
