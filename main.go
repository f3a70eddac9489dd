package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"make_real/config"
	"make_real/generator"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "make_real",
	Short:         "Turn wireframes into working HTML previews",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logs")
	rootCmd.AddCommand(serveCmd, generateCmd, exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and builds the logger.
func loadConfig() (*config.Config, *slog.Logger, func() error, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if verbose {
		cfg.Logger.Level = "debug"
	}
	logger, closer, err := config.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, closer, nil
}

// buildLLM returns a factory for the configured provider. A key passed per
// invocation wins over the configured one.
func buildLLM(cfg config.LLMConfig) (generator.Factory, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("llm config missing; please set llm.provider in config")
	}
	switch cfg.Provider {
	case "mock":
		return func(string) (generator.LLMClient, error) { return generator.MockLLM{}, nil }, nil
	case "openai":
		return func(apiKey string) (generator.LLMClient, error) {
			if apiKey == "" {
				apiKey = cfg.APIKey
			}
			llm, err := generator.NewOpenAILLMFromConfig(&generator.LLMSettings{
				Provider: cfg.Provider,
				Model:    cfg.Model,
				APIKey:   apiKey,
				BaseURL:  cfg.BaseURL,
			})
			if err != nil {
				return nil, err
			}
			return llm, nil
		}, nil
	default:
		return nil, fmt.Errorf("llm provider %s not supported", cfg.Provider)
	}
}
