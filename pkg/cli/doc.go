// Package cli carries the shared plumbing of the voxloop command line:
// output rendering (YAML, JSON, raw) with an optional jq filter, the
// on-disk path layout, human formatting helpers, and the terminal
// frame the monitor command draws into.
//
// Commands render results through Output:
//
//	cli.Output(result, cli.OutputOptions{
//	    Format: cli.FormatJSON,
//	    Filter: jqExpr,
//	})
package cli
