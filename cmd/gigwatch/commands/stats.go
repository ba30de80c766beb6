package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gigwatch/gigwatch/event"
	"github.com/gigwatch/gigwatch/jobs"
	"github.com/gigwatch/gigwatch/logger"
)

// StatsCmd shows event and job instance counts.
var StatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show event and job counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		manager := event.NewStatusManager(event.NewStore(database), logger.Logger)
		stats, err := manager.Statistics()
		if err != nil {
			return err
		}

		fmt.Printf("Events:\n")
		fmt.Printf("  draft:    %d\n", stats.Draft)
		fmt.Printf("  active:   %d\n", stats.Active)
		fmt.Printf("  expired:  %d\n", stats.Expired)
		fmt.Printf("  archived: %d\n", stats.Archived)
		if stats.Unknown > 0 {
			fmt.Printf("  unknown:  %d\n", stats.Unknown)
		}
		fmt.Printf("  total:    %d\n", stats.Total)

		jobStats, err := jobs.NewStore(database).GetStats()
		if err != nil {
			return err
		}

		fmt.Printf("Jobs:\n")
		fmt.Printf("  pending:   %d\n", jobStats.Pending)
		fmt.Printf("  active:    %d\n", jobStats.Active)
		fmt.Printf("  completed: %d\n", jobStats.Completed)
		fmt.Printf("  failed:    %d\n", jobStats.Failed)

		return nil
	},
}
