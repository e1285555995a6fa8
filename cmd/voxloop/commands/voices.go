package commands

import (
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/voxloop/voxloop/pkg/cli"
	"github.com/voxloop/voxloop/pkg/storage"
	"github.com/voxloop/voxloop/pkg/voices"
)

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "Manage persona voice artifacts",
}

var voicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the voice roster and local artifact presence",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		catalog := voices.NewCatalog(cfg.Voices.Dir, nil)
		return cli.Output(catalog.List(), outputOptions())
	},
}

var voicesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror voice artifacts from the configured S3 bucket",
	Long: `Mirror voice artifacts from the configured S3 bucket.

Downloads any roster artifact missing from the local voices directory.
The bucket is set in config (voices.bucket, voices.prefix,
voices.region) and credentials come from the usual AWS sources.`,
	RunE: runVoicesSync,
}

func init() {
	voicesCmd.AddCommand(voicesListCmd)
	voicesCmd.AddCommand(voicesSyncCmd)
	rootCmd.AddCommand(voicesCmd)
}

func runVoicesSync(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	if cfg.Voices.Bucket == "" {
		return fmt.Errorf("no bucket configured, set voices.bucket")
	}
	if err := os.MkdirAll(cfg.Voices.Dir, 0o755); err != nil {
		return fmt.Errorf("create voices dir: %w", err)
	}

	ctx := cmd.Context()
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Voices.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Voices.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	store := storage.NewS3(s3.NewFromConfig(awsCfg), cfg.Voices.Bucket, cfg.Voices.Prefix)
	catalog := voices.NewCatalog(cfg.Voices.Dir, nil)

	n, err := catalog.Sync(ctx, store, "")
	if err != nil {
		return err
	}
	if n == 0 {
		cli.PrintWarning("no roster artifacts found in bucket %s", cfg.Voices.Bucket)
		return nil
	}
	cli.PrintSuccess("synced %d artifact(s) to %s", n, cfg.Voices.Dir)
	return nil
}
