package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gigwatch/gigwatch/cmd/gigwatch/commands"
	"github.com/gigwatch/gigwatch/logger"
)

var rootCmd = &cobra.Command{
	Use:   "gigwatch",
	Short: "gigwatch - event aggregation scheduler and lifecycle manager",
	Long: `gigwatch - background job orchestration for event aggregation.

gigwatch scrapes event sources on recurring schedules, moves events
through their lifecycle (draft, active, expired, archived), and gives
operators direct control when automation is not enough.

Available commands:
  serve      - Run the daemon (worker pool + scheduler)
  update     - Run the expiry sweep once
  stats      - Show event and job counts
  expire     - Force-expire an event
  reactivate - Reactivate an expired event

Examples:
  gigwatch serve                 # Run daemon in foreground
  gigwatch update                # Sweep expired events now
  gigwatch stats                 # Per-status event counts
  gigwatch expire 3f1c...        # Expire one event immediately`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: search for gigwatch.toml)")
	rootCmd.PersistentFlags().Bool("json", false, "JSON log output")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.UpdateCmd)
	rootCmd.AddCommand(commands.StatsCmd)
	rootCmd.AddCommand(commands.ExpireCmd)
	rootCmd.AddCommand(commands.ReactivateCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
