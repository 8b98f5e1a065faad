package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"baatcheet-go/baatcheet"
)

// FileConfig is the optional --config file. Pointer fields distinguish
// "not set" from zero values.
type FileConfig struct {
	Model          string `yaml:"model" toml:"model"`
	Revision       string `yaml:"revision" toml:"revision"`
	MaxSeqLength   *int   `yaml:"max_seq_length" toml:"max_seq_length"`
	DType          string `yaml:"dtype" toml:"dtype"`
	LoadIn4Bit     *bool  `yaml:"load_in_4bit" toml:"load_in_4bit"`
	QuantGroupSize *int   `yaml:"quant_group_size" toml:"quant_group_size"`
	Device         string `yaml:"device" toml:"device"`
	Backend        string `yaml:"backend" toml:"backend"`
	ServerURL      string `yaml:"server_url" toml:"server_url"`
	CacheDir       string `yaml:"cache_dir" toml:"cache_dir"`
	HFToken        string `yaml:"hf_token" toml:"hf_token"`

	Prompts      []string `yaml:"prompts" toml:"prompts"`
	Texts        []string `yaml:"texts" toml:"texts"`
	MaxNewTokens *int     `yaml:"max_new_tokens" toml:"max_new_tokens"`
	Temperature  *float64 `yaml:"temperature" toml:"temperature"`
	TopK         *int     `yaml:"top_k" toml:"top_k"`
	TopP         *float64 `yaml:"top_p" toml:"top_p"`
	Seed         *int64   `yaml:"seed" toml:"seed"`
	IgnoreEOS    *bool    `yaml:"ignore_eos" toml:"ignore_eos"`

	MetricsFile string `yaml:"metrics_file" toml:"metrics_file"`
	Progress    *bool  `yaml:"progress" toml:"progress"`
	LogLevel    string `yaml:"log_level" toml:"log_level"`
	LogFormat   string `yaml:"log_format" toml:"log_format"`
}

// LoadFileConfig reads a YAML (.yaml, .yml) or TOML (.toml) config file
func LoadFileConfig(path string) (FileConfig, error) {
	var cfg FileConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// applyFileConfig copies config file values into o for every flag the
// user did not set explicitly.
func applyFileConfig(c *cli.Command, cfg FileConfig, o *cliOptions) {
	setString := func(flag, val string, dst *string) {
		if val != "" && !c.IsSet(flag) {
			*dst = val
		}
	}
	setString("model", cfg.Model, &o.model)
	setString("revision", cfg.Revision, &o.revision)
	setString("dtype", cfg.DType, &o.dtype)
	setString("device", cfg.Device, &o.device)
	setString("backend", cfg.Backend, &o.backend)
	setString("server-url", cfg.ServerURL, &o.serverURL)
	setString("cache-dir", cfg.CacheDir, &o.cacheDir)
	setString("hf-token", cfg.HFToken, &o.hfToken)
	setString("metrics-file", cfg.MetricsFile, &o.metricsFile)
	setString("log-level", cfg.LogLevel, &o.logLevel)
	setString("log-format", cfg.LogFormat, &o.logFormat)

	if cfg.MaxSeqLength != nil && !c.IsSet("max-seq-length") {
		o.maxSeqLength = *cfg.MaxSeqLength
	}
	if cfg.LoadIn4Bit != nil && !c.IsSet("load-in-4bit") {
		o.loadIn4Bit = *cfg.LoadIn4Bit
	}
	if cfg.QuantGroupSize != nil && !c.IsSet("quant-group-size") {
		o.quantGroupSize = *cfg.QuantGroupSize
	}
	if len(cfg.Prompts) > 0 && !c.IsSet("prompt") {
		o.prompts = cfg.Prompts
	}
	if len(cfg.Texts) > 0 && !c.IsSet("text") {
		o.texts = cfg.Texts
	}
	if cfg.MaxNewTokens != nil && !c.IsSet("max-new-tokens") {
		o.maxNewTokens = *cfg.MaxNewTokens
	}
	if cfg.Temperature != nil && !c.IsSet("temperature") {
		o.temperature = *cfg.Temperature
	}
	if cfg.TopK != nil && !c.IsSet("top-k") {
		o.topK = *cfg.TopK
	}
	if cfg.TopP != nil && !c.IsSet("top-p") {
		o.topP = *cfg.TopP
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		o.seed = *cfg.Seed
	}
	if cfg.IgnoreEOS != nil && !c.IsSet("ignore-eos") {
		o.ignoreEOS = *cfg.IgnoreEOS
	}
	if cfg.Progress != nil && !c.IsSet("progress") {
		o.progress = *cfg.Progress
	}
}

// loadEnvFile loads a dotenv file without overriding variables already
// set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// engineConfig maps the options onto a baatcheet.Config
func (o *cliOptions) engineConfig() *baatcheet.Config {
	opts := []baatcheet.ConfigOption{
		baatcheet.WithRevision(o.revision),
		baatcheet.WithMaxSeqLength(o.maxSeqLength),
		baatcheet.WithDType(baatcheet.DType(o.dtype)),
		baatcheet.WithLoadIn4Bit(o.loadIn4Bit),
		baatcheet.WithQuantGroupSize(o.quantGroupSize),
		baatcheet.WithDevice(baatcheet.Device(o.device)),
		baatcheet.WithBackend(baatcheet.Backend(o.backend)),
		baatcheet.WithServerURL(o.serverURL),
		baatcheet.WithShowProgress(o.progress),
	}
	if o.cacheDir != "" {
		opts = append(opts, baatcheet.WithCacheDir(o.cacheDir))
	}
	if o.hfToken != "" {
		opts = append(opts, baatcheet.WithToken(o.hfToken))
	}
	return baatcheet.NewConfig(o.model, opts...)
}

// samplingParams maps the generation flags onto SamplingParams
func (o *cliOptions) samplingParams() *baatcheet.SamplingParams {
	return baatcheet.NewSamplingParams(
		baatcheet.WithMaxTokens(o.maxNewTokens),
		baatcheet.WithTemperature(o.temperature),
		baatcheet.WithTopK(o.topK),
		baatcheet.WithTopP(o.topP),
		baatcheet.WithSeed(o.seed),
		baatcheet.WithIgnoreEOS(o.ignoreEOS),
	)
}

// promptList returns raw prompts, then wrapped texts, or the built-in
// pair when neither is given.
func (o *cliOptions) promptList() []string {
	var prompts []string
	prompts = append(prompts, o.prompts...)
	for _, text := range o.texts {
		prompts = append(prompts, baatcheet.TranslationPrompt(text))
	}
	if len(prompts) == 0 {
		return baatcheet.DefaultPrompts
	}
	return prompts
}
