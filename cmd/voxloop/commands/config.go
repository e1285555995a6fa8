package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/voxloop/voxloop/cmd/voxloop/internal/config"
	"github.com/voxloop/voxloop/pkg/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the voxloop configuration file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		if IsVerbose() {
			if cfg.Path != "" {
				cli.PrintInfo("loaded from %s", cfg.Path)
			} else {
				cli.PrintInfo("no config file, showing defaults")
			}
		}
		return cli.Output(cfg, outputOptions())
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file with the defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := cli.NewPaths()
		if err != nil {
			return err
		}
		path := configPath
		if path == "" {
			path = paths.ConfigFile()
		}

		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}

		cfg, err := config.Default()
		if err != nil {
			return err
		}
		if path == paths.ConfigFile() {
			err = paths.EnsureConfig()
		} else {
			err = os.MkdirAll(filepath.Dir(path), 0o755)
		}
		if err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err := paths.EnsureData(); err != nil {
			return fmt.Errorf("create data dirs: %w", err)
		}
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		cli.PrintSuccess("wrote %s", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
