package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"baatcheet-go/baatcheet"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp(&out)
	err := app.Run(context.Background(), append([]string{"baatcheet", "--env-file", ""}, args...))
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDryRunDefaultPrompts(t *testing.T) {
	out, err := runApp(t, "--dry-run", "--max-new-tokens", "1")
	require.NoError(t, err)

	// the first mock token is BOS, which decoding strips
	want := baatcheet.DefaultPrompts[0] + "\n" + baatcheet.DefaultPrompts[1] + "\n"
	assert.Equal(t, want, out)
}

func TestDryRunPromptFlags(t *testing.T) {
	out, err := runApp(t, "--dry-run", "-n", "3", "--prompt", "hello", "--prompt", "abc")
	require.NoError(t, err)
	assert.Equal(t, "hellohe\nabcab\n", out)
}

func TestDryRunTextIsWrapped(t *testing.T) {
	out, err := runApp(t, "--dry-run", "-n", "1", "--text", "Good morning")
	require.NoError(t, err)
	assert.Equal(t, baatcheet.TranslationPrompt("Good morning")+"\n", out)
}

func TestOutputsPrintedBeforeLaterFailure(t *testing.T) {
	out, err := runApp(t, "--dry-run", "-n", "1", "--max-seq-length", "8",
		"--prompt", "ab", "--prompt", "this prompt is too long")
	assert.ErrorIs(t, err, baatcheet.ErrPromptTooLong)
	assert.Equal(t, "ab\n", out)
}

func TestConfigFileFillsUnsetFlags(t *testing.T) {
	cfg := writeFile(t, "run.yaml", "prompts: [hello]\nmax_new_tokens: 3\n")

	out, err := runApp(t, "--dry-run", "--config", cfg)
	require.NoError(t, err)
	assert.Equal(t, "hellohe\n", out)

	// explicit flags win over the file
	out, err = runApp(t, "--dry-run", "--config", cfg, "--max-new-tokens", "2")
	require.NoError(t, err)
	assert.Equal(t, "helloh\n", out)
}

func TestConfigFileTOML(t *testing.T) {
	cfg := writeFile(t, "run.toml", "prompts = [\"abc\"]\nmax_new_tokens = 2\n")

	out, err := runApp(t, "--dry-run", "--config", cfg)
	require.NoError(t, err)
	assert.Equal(t, "abca\n", out)
}

func TestConfigFileIgnoreEOSAndToken(t *testing.T) {
	path := writeFile(t, "run.yaml", "ignore_eos: true\nhf_token: hf_from_file\n")
	cfg, err := LoadFileConfig(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.IgnoreEOS)
	assert.True(t, *cfg.IgnoreEOS)
	assert.Equal(t, "hf_from_file", cfg.HFToken)

	// the overlay runs inside the action, after flags are parsed
	var got *cliOptions
	app := newApp(&bytes.Buffer{})
	app.Action = func(ctx context.Context, c *cli.Command) error {
		o := &cliOptions{hfToken: "hf_flag"}
		applyFileConfig(c, cfg, o)
		got = o
		return nil
	}
	require.NoError(t, app.Run(context.Background(), []string{"baatcheet"}))
	assert.True(t, got.ignoreEOS)
	assert.Equal(t, "hf_from_file", got.hfToken)
	assert.True(t, got.samplingParams().IgnoreEOS)

	app = newApp(&bytes.Buffer{})
	app.Action = func(ctx context.Context, c *cli.Command) error {
		o := &cliOptions{hfToken: "hf_flag"}
		applyFileConfig(c, cfg, o)
		got = o
		return nil
	}
	require.NoError(t, app.Run(context.Background(), []string{"baatcheet", "--hf-token", "hf_flag", "--ignore-eos=false"}))
	assert.False(t, got.ignoreEOS)
	assert.Equal(t, "hf_flag", got.hfToken)
}

func TestLoadFileConfig(t *testing.T) {
	path := writeFile(t, "run.yml", `
model: ./local-model
load_in_4bit: false
quant_group_size: 32
temperature: 0.7
seed: 9
`)
	cfg, err := LoadFileConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "./local-model", cfg.Model)
	require.NotNil(t, cfg.LoadIn4Bit)
	assert.False(t, *cfg.LoadIn4Bit)
	require.NotNil(t, cfg.QuantGroupSize)
	assert.Equal(t, 32, *cfg.QuantGroupSize)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.7, *cfg.Temperature, 1e-9)
	require.NotNil(t, cfg.Seed)
	assert.Equal(t, int64(9), *cfg.Seed)
	assert.Nil(t, cfg.MaxNewTokens)

	_, err = LoadFileConfig(writeFile(t, "run.json", "{}"))
	assert.ErrorContains(t, err, "unsupported config format")

	_, err = LoadFileConfig(writeFile(t, "bad.yaml", "prompts: [unterminated\n"))
	assert.Error(t, err)
}

func TestEngineConfigFromFlags(t *testing.T) {
	o := &cliOptions{
		model:          "org/model",
		revision:       "v1",
		maxSeqLength:   128,
		dtype:          "float16",
		loadIn4Bit:     false,
		quantGroupSize: 32,
		device:         "cpu",
		backend:        "native",
		cacheDir:       "/tmp/hf",
		hfToken:        "secret",
	}
	cfg := o.engineConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "org/model", cfg.ModelID)
	assert.Equal(t, "v1", cfg.Revision)
	assert.Equal(t, 128, cfg.MaxSeqLength)
	assert.Equal(t, baatcheet.DTypeFloat16, cfg.DType)
	assert.False(t, cfg.LoadIn4Bit)
	assert.Equal(t, "/tmp/hf", cfg.CacheDir)
	assert.Equal(t, "secret", cfg.Token)
}

func TestInvalidOptionsFail(t *testing.T) {
	_, err := runApp(t, "--dry-run", "--dtype", "int3")
	assert.ErrorIs(t, err, baatcheet.ErrInvalidConfig)

	_, err = runApp(t, "--dry-run", "--max-new-tokens", "0")
	assert.Error(t, err)
}

func TestMetricsFileWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baatcheet.prom")

	_, err := runApp(t, "--dry-run", "-n", "1", "--prompt", "x", "--metrics-file", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "baatcheet_prompts_total")
}

func TestEnvFileLoaded(t *testing.T) {
	t.Setenv("BAATCHEET_TEST_VALUE", "")
	os.Unsetenv("BAATCHEET_TEST_VALUE")

	require.NoError(t, loadEnvFile(writeFile(t, ".env", "BAATCHEET_TEST_VALUE=loaded\n")))
	assert.Equal(t, "loaded", os.Getenv("BAATCHEET_TEST_VALUE"))

	assert.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}
