package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/gigwatch/gigwatch/config"
	"github.com/gigwatch/gigwatch/db"
	"github.com/gigwatch/gigwatch/errors"
	"github.com/gigwatch/gigwatch/logger"
)

// loadConfig loads configuration honoring the --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

// openDatabase opens and migrates the database at the configured path.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = "gigwatch.db"
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}
