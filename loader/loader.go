// Package loader turns a Config into a ready model runner and tokenizer
// for the selected backend.
package loader

import (
	"fmt"
	"time"

	"baatcheet-go/baatcheet"
	"baatcheet-go/hub"
	"baatcheet-go/internal/logger"
	"baatcheet-go/internal/metrics"
	"baatcheet-go/purego"
	"baatcheet-go/purego/hftokenizer"
)

// newTokenizer is replaced in tests that have no tokenizer.json
var newTokenizer = func(dir string) (baatcheet.Tokenizer, error) {
	return hftokenizer.New(dir)
}

type vocabSizer interface {
	VocabSize() int
}

// Load resolves cfg.ModelID and builds the runner and tokenizer for
// cfg.Backend. The caller owns both and must Close them, which
// baatcheet.LLM.Close does.
func Load(cfg *baatcheet.Config) (baatcheet.ModelRunner, baatcheet.Tokenizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	start := time.Now()
	var (
		runner    baatcheet.ModelRunner
		tokenizer baatcheet.Tokenizer
		err       error
	)

	switch cfg.Backend {
	case baatcheet.BackendHTTP:
		runner, tokenizer, err = loadHTTP(cfg)
	default:
		runner, tokenizer, err = loadLocal(cfg)
	}
	if err != nil {
		return nil, nil, err
	}

	elapsed := time.Since(start)
	metrics.ModelLoadDuration.WithLabelValues(string(cfg.Backend)).Observe(elapsed.Seconds())
	logger.Log.Info("model ready", "model", cfg.ModelID, "backend", cfg.Backend, "took", elapsed.Round(time.Millisecond).String())
	return runner, tokenizer, nil
}

// LoadLLM is Load wrapped into the generation facade
func LoadLLM(cfg *baatcheet.Config) (*baatcheet.LLM, error) {
	runner, tokenizer, err := Load(cfg)
	if err != nil {
		return nil, err
	}
	return baatcheet.NewLLMWithComponents(cfg, runner, tokenizer), nil
}

func loadHTTP(cfg *baatcheet.Config) (baatcheet.ModelRunner, baatcheet.Tokenizer, error) {
	runner, err := purego.NewHTTPModelRunner(cfg.ServerURL, cfg.ModelID)
	if err != nil {
		return nil, nil, err
	}
	return runner, purego.NewHTTPTokenizer(cfg.ServerURL, runner.Info().EOSTokenID), nil
}

func loadLocal(cfg *baatcheet.Config) (baatcheet.ModelRunner, baatcheet.Tokenizer, error) {
	art, err := hub.Resolve(cfg)
	if err != nil {
		return nil, nil, err
	}

	tokenizer, err := newTokenizer(art.Dir)
	if err != nil {
		return nil, nil, err
	}
	closeTokenizer := func() {
		if c, ok := tokenizer.(interface{ Close() error }); ok {
			c.Close()
		}
	}

	if cfg.Backend == baatcheet.BackendONNX {
		runner, err := purego.NewONNXModelRunner(art.ONNXPath, cfg)
		if err != nil {
			closeTokenizer()
			return nil, nil, err
		}
		return runner, tokenizer, nil
	}

	if cfg.Device == baatcheet.DeviceAuto {
		logger.Log.Debug("native backend runs on cpu")
	}
	runner, err := purego.LoadNativeModelRunner(art.Dir, cfg)
	if err != nil {
		closeTokenizer()
		return nil, nil, err
	}

	model := runner.Model()
	if vs, ok := tokenizer.(vocabSizer); ok && vs.VocabSize() > model.Config.VocabSize {
		runner.Close()
		closeTokenizer()
		return nil, nil, fmt.Errorf("tokenizer vocabulary %d exceeds model vocabulary %d", vs.VocabSize(), model.Config.VocabSize)
	}
	metrics.ModelWeightBytes.Set(float64(model.WeightBytes()))

	return runner, tokenizer, nil
}
