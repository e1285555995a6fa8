package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxloop/voxloop/pkg/cli"
	"github.com/voxloop/voxloop/pkg/runner"
	"github.com/voxloop/voxloop/pkg/voices"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the local voxloop setup",
	Long: `Verify the local voxloop setup before serving.

Checks that the configuration loads, the session store directory is
writable, voice artifacts are in place, and the model runner answers.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		cli.PrintError("config: %v", err)
		return fmt.Errorf("1 check failed")
	}
	if cfg.Path != "" {
		cli.PrintSuccess("config: %s", cfg.Path)
	} else {
		cli.PrintWarning("config: no file found, using defaults")
	}

	failures := 0

	if cfg.Store.InMemory {
		cli.PrintSuccess("store: in-memory")
	} else if err := probeDir(cfg.Store.Dir); err != nil {
		cli.PrintError("store: %v", err)
		failures++
	} else {
		cli.PrintSuccess("store: %s writable", cfg.Store.Dir)
	}

	catalog := voices.NewCatalog(cfg.Voices.Dir, nil)
	present := 0
	for _, info := range catalog.List() {
		if info.Present {
			present++
		}
	}
	if _, ok := catalog.Resolve(voices.Default); !ok {
		cli.PrintError("voices: default voice %s missing from %s (run 'voxloop voices sync')",
			voices.Default, cfg.Voices.Dir)
		failures++
	} else {
		cli.PrintSuccess("voices: %d/%d artifacts present, default %s available",
			present, len(voices.Names), voices.Default)
	}

	if cfg.Runner.Sim {
		cli.PrintSuccess("runner: simulated backend")
	} else if err := probeRunner(cmd.Context(), cfg.Runner.URL); err != nil {
		cli.PrintError("runner: %v", err)
		failures++
	} else {
		cli.PrintSuccess("runner: %s answers", cfg.Runner.URL)
	}

	if failures > 0 {
		return fmt.Errorf("%d check(s) failed", failures)
	}
	cli.PrintSuccess("all checks passed")
	return nil
}

// probeDir verifies dir exists (creating it if needed) and is writable.
func probeDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func probeRunner(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := runner.Dial(ctx, url, nil)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Ping(ctx)
}
