package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gigwatch/gigwatch/event"
	"github.com/gigwatch/gigwatch/logger"
)

// ExpireCmd force-expires a single event regardless of its dates.
var ExpireCmd = &cobra.Command{
	Use:   "expire <event-id>",
	Short: "Force-expire an event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, args[0], "expired",
			func(m *event.StatusManager, id string) (bool, error) {
				return m.ForceExpire(id)
			})
	},
}

// ReactivateCmd revives an expired event.
var ReactivateCmd = &cobra.Command{
	Use:   "reactivate <event-id>",
	Short: "Reactivate an expired event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransition(cmd, args[0], "active",
			func(m *event.StatusManager, id string) (bool, error) {
				return m.ForceReactivate(id)
			})
	},
}

func runTransition(cmd *cobra.Command, id, target string, apply func(*event.StatusManager, string) (bool, error)) error {
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
	applied, err := apply(manager, id)
	if err != nil {
		return err
	}

	if !applied {
		// Missing events and no-op transitions are reported, not treated as failure
		fmt.Printf("event %s unchanged (not found or not eligible)\n", id)
		return nil
	}

	fmt.Printf("event %s is %s\n", id, target)
	return nil
}
