package main

import (
	"github.com/urfave/cli/v3"

	"baatcheet-go/baatcheet"
)

// cliOptions collects every flag value. Config file values are folded in
// afterwards for flags the user did not set.
type cliOptions struct {
	model          string
	revision       string
	maxSeqLength   int
	dtype          string
	loadIn4Bit     bool
	quantGroupSize int
	device         string
	backend        string
	serverURL      string
	cacheDir       string
	hfToken        string

	prompts      []string
	texts        []string
	maxNewTokens int
	temperature  float64
	topK         int
	topP         float64
	seed         int64
	ignoreEOS    bool

	configFile  string
	envFile     string
	metricsFile string
	progress    bool
	dryRun      bool

	logLevel  string
	logFormat string
	debug     bool
}

func modelFlags(o *cliOptions) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "Hub model id or local model directory",
			Value:       baatcheet.DefaultModelID,
			Destination: &o.model,
		},
		&cli.StringFlag{
			Name:        "revision",
			Usage:       "Hub revision (branch, tag or commit)",
			Value:       "main",
			Destination: &o.revision,
		},
		&cli.IntFlag{
			Name:        "max-seq-length",
			Aliases:     []string{"ctx"},
			Usage:       "max total tokens per sequence",
			Value:       2048,
			Destination: &o.maxSeqLength,
		},
		&cli.StringFlag{
			Name:        "dtype",
			Usage:       "weight precision (auto, float32, float16, bfloat16)",
			Value:       string(baatcheet.DTypeAuto),
			Destination: &o.dtype,
		},
		&cli.BoolFlag{
			Name:        "load-in-4bit",
			Usage:       "quantize projection weights to 4 bits",
			Value:       true,
			Destination: &o.loadIn4Bit,
		},
		&cli.IntFlag{
			Name:        "quant-group-size",
			Usage:       "weights per 4-bit scale",
			Value:       64,
			Destination: &o.quantGroupSize,
		},
		&cli.StringFlag{
			Name:        "device",
			Usage:       "execution device (auto, cpu, cuda)",
			Value:       string(baatcheet.DeviceAuto),
			Destination: &o.device,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "inference backend (native, onnx, http)",
			Value:       string(baatcheet.BackendNative),
			Destination: &o.backend,
		},
		&cli.StringFlag{
			Name:        "server-url",
			Usage:       "inference server for the http backend",
			Destination: &o.serverURL,
		},
		&cli.StringFlag{
			Name:        "cache-dir",
			Usage:       "Hub cache root (defaults to $HF_HOME)",
			Destination: &o.cacheDir,
		},
		&cli.StringFlag{
			Name:        "hf-token",
			Usage:       "Hub access token (defaults to $HF_TOKEN)",
			Destination: &o.hfToken,
		},
	}
}

func generationFlags(o *cliOptions) []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "raw prompt, repeatable; replaces the built-in prompts",
			Destination: &o.prompts,
		},
		&cli.StringSliceFlag{
			Name:        "text",
			Usage:       "English sentence to translate, repeatable",
			Destination: &o.texts,
		},
		&cli.IntFlag{
			Name:        "max-new-tokens",
			Aliases:     []string{"n"},
			Usage:       "max tokens generated per prompt",
			Value:       64,
			Destination: &o.maxNewTokens,
		},
		&cli.Float64Flag{
			Name:        "temperature",
			Aliases:     []string{"temp"},
			Usage:       "sampling temperature (0 = greedy)",
			Destination: &o.temperature,
		},
		&cli.IntFlag{
			Name:        "top-k",
			Usage:       "top-k sampling (0 = disabled)",
			Destination: &o.topK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Usage:       "top-p sampling (1 = disabled)",
			Value:       1.0,
			Destination: &o.topP,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampling seed",
			Destination: &o.seed,
		},
		&cli.BoolFlag{
			Name:        "ignore-eos",
			Usage:       "keep generating past EOS",
			Destination: &o.ignoreEOS,
		},
	}
}

func appFlags(o *cliOptions) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "YAML or TOML config file",
			Destination: &o.configFile,
		},
		&cli.StringFlag{
			Name:        "env-file",
			Usage:       "dotenv file loaded before reading the environment",
			Value:       ".env",
			Destination: &o.envFile,
		},
		&cli.StringFlag{
			Name:        "metrics-file",
			Usage:       "write Prometheus metrics here on exit",
			Destination: &o.metricsFile,
		},
		&cli.BoolFlag{
			Name:        "progress",
			Usage:       "show a progress bar on stderr",
			Destination: &o.progress,
		},
		&cli.BoolFlag{
			Name:        "dry-run",
			Usage:       "run the pipeline with a mock model",
			Destination: &o.dryRun,
		},
	}
}

func loggingFlags(o *cliOptions) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &o.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (console, json)",
			Value:       "console",
			Destination: &o.logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &o.debug,
		},
	}
}
