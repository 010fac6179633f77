package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lexiqai/interview-assistant/internal/config"
	"github.com/lexiqai/interview-assistant/internal/observability"
)

const serviceName = "interview-assistant"

var rootCmd = &cobra.Command{
	Use:           serviceName,
	Short:         "Live speech assistant for interviewers",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and initializes the structured logger
func bootstrap() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not initialized yet
		return nil, zerolog.Nop(), fmt.Errorf("failed to load configuration: %w", err)
	}
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	return cfg, observability.GetLogger(), nil
}
