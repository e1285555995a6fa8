// Package commands implements the voxloop command line interface.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voxloop/voxloop/cmd/voxloop/internal/config"
	"github.com/voxloop/voxloop/pkg/cli"
)

var (
	// Global flags
	configPath   string
	verbose      bool
	formatOutput string
	outputFile   string
	jqFilter     string
	serverURL    string

	// Global configuration (loaded at init time)
	globalConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "voxloop",
	Short: "Full-duplex voice session server and tools",
	Long: `voxloop - a full-duplex speech-to-speech session server.

The server pairs one caller at a time with a streaming speech model:
audio flows up over websocket or WebRTC, generated audio and text
tokens flow back down while the caller is still talking.

Configuration lives in the OS config directory:
  macOS:   ~/Library/Application Support/voxloop/config.yaml
  Linux:   ~/.config/voxloop/config.yaml
  Windows: %AppData%/voxloop/config.yaml

Examples:
  # Write a starter config, then serve with the simulated backend
  voxloop config init
  voxloop serve --sim

  # Inspect a running server
  voxloop status
  voxloop sessions list --jq '.[0]'
  voxloop monitor

  # Manage persona voice artifacts
  voxloop voices list
  voxloop voices sync`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&formatOutput, "format", "f", "yaml", "output format (yaml|json|raw)")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "write output to file instead of stdout")
	rootCmd.PersistentFlags().StringVar(&jqFilter, "jq", "", "jq expression applied to the output")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "server base URL (overrides config)")
}

// configLoadErr stores the error from config.Load for deferred
// reporting, so commands that need no config still run.
var configLoadErr error

func initConfig() {
	cfg, err := config.Load(configPath)
	if err != nil {
		configLoadErr = err
		return
	}
	globalConfig = cfg
}

// GetConfig returns the global configuration.
func GetConfig() (*config.Config, error) {
	if globalConfig == nil {
		if configLoadErr != nil {
			return nil, fmt.Errorf("config not available: %w", configLoadErr)
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("config not available: %w", err)
		}
		globalConfig = cfg
	}
	return globalConfig, nil
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// serverBase resolves the server URL read commands target.
func serverBase() (string, error) {
	if serverURL != "" {
		return serverURL, nil
	}
	cfg, err := GetConfig()
	if err != nil {
		return "", err
	}
	return cfg.Server, nil
}

// outputOptions builds the rendering options from the global flags.
func outputOptions() cli.OutputOptions {
	return cli.OutputOptions{
		Format: cli.OutputFormat(formatOutput),
		Filter: jqFilter,
		File:   outputFile,
	}
}
