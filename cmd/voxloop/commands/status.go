package commands

import (
	"github.com/spf13/cobra"

	"github.com/voxloop/voxloop/pkg/cli"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the engine status of a running server",
	Long: `Show the engine status of a running server.

Fetches /healthz and renders it. Use --jq to pick fields:

  voxloop status --jq .ready
  voxloop status --jq .active_session.id`,
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := serverBase()
		if err != nil {
			return err
		}
		var status any
		if err := apiGet(cmd.Context(), base, "/healthz", &status); err != nil {
			return err
		}
		return cli.Output(status, outputOptions())
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
