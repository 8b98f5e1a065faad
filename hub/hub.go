// Package hub resolves a model identifier to files on local disk, either
// a directory the caller already has or a HuggingFace Hub repository
// downloaded into the cache.
package hub

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"
	hfhub "github.com/gomlx/go-huggingface/hub"

	"baatcheet-go/baatcheet"
	"baatcheet-go/internal/logger"
)

// ErrMissingFile is returned when a required model file is absent
var ErrMissingFile = errors.New("model file not found")

// Files every backend that tokenizes locally needs
const (
	ConfigFile        = "config.json"
	TokenizerFile     = "tokenizer.json"
	WeightsFile       = "model.safetensors"
	WeightsIndexFile  = "model.safetensors.index.json"
	tokenizerConfig   = "tokenizer_config.json"
	generationConfig  = "generation_config.json"
	specialTokensFile = "special_tokens_map.json"
)

var onnxCandidates = []string{"onnx/model.onnx", "model.onnx"}

// Artifact is a model resolved to local files
type Artifact struct {
	ModelID  string
	Dir      string // holds config.json, tokenizer.json and safetensors weights
	ONNXPath string // set when the onnx backend is selected
	Local    bool   // ModelID named an existing directory
}

// Repo is the subset of a Hub repository the resolver needs
type Repo interface {
	HasFile(name string) bool
	DownloadFile(name string) (string, error)
}

// Resolve locates the files cfg.Backend needs. A ModelID naming an
// existing directory is used in place; anything else is fetched from
// the Hub at cfg.Revision, reusing the cache on later calls.
func Resolve(cfg *baatcheet.Config) (*Artifact, error) {
	if info, err := os.Stat(cfg.ModelID); err == nil && info.IsDir() {
		return resolveLocal(cfg)
	}

	repo := hfhub.New(cfg.ModelID).
		WithRevision(cfg.Revision).
		WithProgressBar(cfg.ShowProgress)
	if cfg.Token != "" {
		repo = repo.WithAuth(cfg.Token)
	}
	if cfg.CacheDir != "" {
		repo = repo.WithCacheDir(filepath.Join(cfg.CacheDir, "hub"))
	}
	if err := repo.DownloadInfo(false); err != nil {
		return nil, fmt.Errorf("failed to fetch %s@%s: %w", cfg.ModelID, cfg.Revision, err)
	}

	return ResolveRepo(cfg, repo)
}

// ResolveRepo downloads the files cfg.Backend needs from repo
func ResolveRepo(cfg *baatcheet.Config, repo Repo) (*Artifact, error) {
	fetch := func(name string, required bool) (string, error) {
		if !repo.HasFile(name) {
			if required {
				return "", fmt.Errorf("%w: %s in %s", ErrMissingFile, name, cfg.ModelID)
			}
			return "", nil
		}
		logger.Log.Debug("fetching model file", "model", cfg.ModelID, "file", name)
		path, err := repo.DownloadFile(name)
		if err != nil {
			return "", fmt.Errorf("failed to download %s: %w", name, err)
		}
		return path, nil
	}

	configPath, err := fetch(ConfigFile, true)
	if err != nil {
		return nil, err
	}
	art := &Artifact{ModelID: cfg.ModelID, Dir: filepath.Dir(configPath)}

	if _, err := fetch(TokenizerFile, true); err != nil {
		return nil, err
	}
	for _, name := range []string{tokenizerConfig, generationConfig, specialTokensFile} {
		if _, err := fetch(name, false); err != nil {
			return nil, err
		}
	}

	switch cfg.Backend {
	case baatcheet.BackendONNX:
		for _, name := range onnxCandidates {
			if !repo.HasFile(name) {
				continue
			}
			if art.ONNXPath, err = fetch(name, true); err != nil {
				return nil, err
			}
			if _, err := fetch(name+"_data", false); err != nil {
				return nil, err
			}
			break
		}
		if art.ONNXPath == "" {
			return nil, fmt.Errorf("%w: no ONNX graph in %s", ErrMissingFile, cfg.ModelID)
		}

	default:
		indexPath, err := fetch(WeightsIndexFile, false)
		if err != nil {
			return nil, err
		}
		if indexPath == "" {
			if _, err := fetch(WeightsFile, true); err != nil {
				return nil, err
			}
			break
		}
		shards, err := readShards(indexPath)
		if err != nil {
			return nil, err
		}
		for _, shard := range shards {
			if _, err := fetch(shard, true); err != nil {
				return nil, err
			}
		}
	}

	logger.Log.Info("resolved model", "model", cfg.ModelID, "revision", cfg.Revision, "dir", art.Dir)
	return art, nil
}

func resolveLocal(cfg *baatcheet.Config) (*Artifact, error) {
	dir := cfg.ModelID
	art := &Artifact{ModelID: cfg.ModelID, Dir: dir, Local: true}

	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(dir, name))
		return err == nil
	}
	for _, name := range []string{ConfigFile, TokenizerFile} {
		if !exists(name) {
			return nil, fmt.Errorf("%w: %s in %s", ErrMissingFile, name, dir)
		}
	}

	switch cfg.Backend {
	case baatcheet.BackendONNX:
		for _, name := range onnxCandidates {
			if exists(name) {
				art.ONNXPath = filepath.Join(dir, name)
				break
			}
		}
		if art.ONNXPath == "" {
			return nil, fmt.Errorf("%w: no ONNX graph in %s", ErrMissingFile, dir)
		}
	default:
		if !exists(WeightsFile) && !exists(WeightsIndexFile) {
			return nil, fmt.Errorf("%w: %s or %s in %s", ErrMissingFile, WeightsFile, WeightsIndexFile, dir)
		}
	}

	logger.Log.Debug("using local model", "dir", dir)
	return art, nil
}

// readShards lists the distinct shard files of a safetensors index
func readShards(indexPath string) ([]string, error) {
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, err
	}
	var index struct {
		WeightMap map[string]string `json:"weight_map"`
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", WeightsIndexFile, err)
	}

	seen := make(map[string]bool)
	var shards []string
	for _, shard := range index.WeightMap {
		if !seen[shard] {
			seen[shard] = true
			shards = append(shards, shard)
		}
	}
	sort.Strings(shards)
	return shards, nil
}
