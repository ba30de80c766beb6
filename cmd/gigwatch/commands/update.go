package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gigwatch/gigwatch/event"
	"github.com/gigwatch/gigwatch/logger"
)

// UpdateCmd runs the expiry sweep once and reports what changed.
var UpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Run the expiry sweep once",
	Long: `Run one expiry sweep over all draft and active events.

Events whose end date (or start date, when no end date exists) has
passed are moved to expired. Running it again immediately is a no-op.`,
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
		result, err := manager.SweepExpired(cmd.Context(), time.Now())
		if err != nil {
			return err
		}

		fmt.Printf("Sweep: scanned %d, expired %d, skipped %d, failed %d\n",
			result.Scanned, result.Updated, result.Skipped, result.Failed)
		return nil
	},
}
