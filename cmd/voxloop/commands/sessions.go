package commands

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/voxloop/voxloop/pkg/cli"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect recorded sessions on a running server",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := serverBase()
		if err != nil {
			return err
		}
		var sessions any
		if err := apiGet(cmd.Context(), base, "/v1/sessions", &sessions); err != nil {
			return err
		}
		return cli.Output(sessions, outputOptions())
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session with its transcript events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := serverBase()
		if err != nil {
			return err
		}
		var detail any
		path := "/v1/sessions/" + url.PathEscape(args[0])
		if err := apiGet(cmd.Context(), base, path, &detail); err != nil {
			return err
		}
		return cli.Output(detail, outputOptions())
	},
}

var sessionsPurgeCmd = &cobra.Command{
	Use:   "purge <session-id>",
	Short: "Delete a session record and its transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := serverBase()
		if err != nil {
			return err
		}
		var result struct {
			Purged int `json:"purged"`
		}
		path := "/v1/sessions/" + url.PathEscape(args[0])
		if err := apiDo(cmd.Context(), http.MethodDelete, base, path, &result); err != nil {
			return err
		}
		if result.Purged == 0 {
			return fmt.Errorf("session %s not found", args[0])
		}
		cli.PrintSuccess("purged %d record(s) for session %s", result.Purged, args[0])
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsPurgeCmd)
	rootCmd.AddCommand(sessionsCmd)
}
