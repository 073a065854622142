// Package cli wires the fleetd command tree.
package cli

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmagar/dash-sub004/internal/errors"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fleetd",
	Short: "Fleet host-management server",
	Long: `fleetd manages a fleet of remote machines over SSH: it monitors host
health, installs and supervises the fleet agent, polls remote processes, and
accepts agent websocket connections.

Configuration is read from fleet.yaml (or --config).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree and prints structured errors with their
// suggestions before exiting non-zero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var fleetErr *errors.Error
		if stderrors.As(err, &fleetErr) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", fleetErr.Message)
			if fleetErr.Suggestion != "" {
				fmt.Fprintf(os.Stderr, "\n%s\n", fleetErr.Suggestion)
			}
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default fleet.yaml)")
}
