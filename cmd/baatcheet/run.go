package main

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"baatcheet-go/baatcheet"
	"baatcheet-go/internal/logger"
	"baatcheet-go/internal/metrics"
	"baatcheet-go/loader"
)

func newApp(out io.Writer) *cli.Command {
	o := &cliOptions{}

	var flags []cli.Flag
	flags = append(flags, modelFlags(o)...)
	flags = append(flags, generationFlags(o)...)
	flags = append(flags, appFlags(o)...)
	flags = append(flags, loggingFlags(o)...)

	return &cli.Command{
		Name:  "baatcheet",
		Usage: "Translate English into Hinglish with the Baatcheet 7B model",
		Description: "With no flags, loads " + baatcheet.DefaultModelID + " in 4-bit and prints\n" +
			"the continuation of the two built-in translation prompts.",
		Flags:  flags,
		Writer: out,
		Action: func(ctx context.Context, c *cli.Command) error {
			return run(c, o, out)
		},
	}
}

func run(c *cli.Command, o *cliOptions, out io.Writer) error {
	if err := loadEnvFile(o.envFile); err != nil {
		return err
	}
	if o.configFile != "" {
		fileCfg, err := LoadFileConfig(o.configFile)
		if err != nil {
			return err
		}
		applyFileConfig(c, fileCfg, o)
	}

	if o.debug {
		o.logLevel = "debug"
	}
	logger.Setup(o.logLevel, o.logFormat)

	cfg := o.engineConfig()
	params := o.samplingParams()
	prompts := o.promptList()

	var llm *baatcheet.LLM
	if o.dryRun {
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger.Log.Warn("dry run: generating with a mock model")
		llm = baatcheet.NewLLM(cfg)
	} else {
		var err error
		if llm, err = loader.LoadLLM(cfg); err != nil {
			return err
		}
	}
	defer llm.Close()

	genErr := llm.GenerateEach(prompts, params, func(output baatcheet.Output) error {
		_, err := fmt.Fprintln(out, output.Text)
		return err
	})

	if o.metricsFile != "" {
		if err := metrics.WriteTextfile(o.metricsFile); err != nil {
			logger.Log.Error("metrics not written", "error", err)
		}
	}
	return genErr
}
