package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gigwatch/gigwatch/config"
	"github.com/gigwatch/gigwatch/errors"
	"github.com/gigwatch/gigwatch/event"
	"github.com/gigwatch/gigwatch/jobs"
	"github.com/gigwatch/gigwatch/logger"
	"github.com/gigwatch/gigwatch/schedule"
	"github.com/gigwatch/gigwatch/scrape"
)

// SweepDefinitionID is the logical ID of the recurring expiry sweep.
const SweepDefinitionID = "status-update-sweep"

// ServeCmd runs the gigwatch daemon: worker pool, scheduler ticker, and
// config hot reload, until interrupted.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gigwatch daemon",
	Long: `Run the gigwatch daemon in foreground mode.

The daemon will:
- Register the recurring expiry sweep and per-source scrape schedules
- Start the worker pool and scheduler ticker
- Re-register schedules when the config file changes
- Run until interrupted (Ctrl+C) with graceful shutdown`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}

		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		pool := jobs.NewPoolWithContext(ctx, database, poolConfig(cfg), logger.Logger)

		eventStore := event.NewStore(database)
		manager := event.NewStatusManager(eventStore, logger.Logger)

		scrapers := scrape.NewRegistry()
		registerScrapers(scrapers, cfg)

		pool.Registry().Register(scrape.NewHandler(scrapers, eventStore, logger.Logger))
		pool.Registry().Register(event.NewStatusUpdateHandler(manager))

		scheduler := schedule.NewScheduler(schedule.NewStore(database), logger.Logger)
		if err := registerSchedules(scheduler, cfg); err != nil {
			return err
		}

		pool.Start()

		ticker := schedule.NewTickerWithContext(ctx, schedule.NewStore(database), pool.Store(), schedule.DefaultTickerConfig(), logger.Logger)
		ticker.Start()

		// Hot reload: registration is idempotent, so re-running it on
		// every config change is safe.
		watcher := startConfigWatcher(cmd, scheduler, scrapers)
		if watcher != nil {
			defer watcher.Stop()
		}

		fmt.Printf("gigwatch daemon started\n")
		fmt.Printf("  Workers: %d\n", cfg.Pool.Workers)
		fmt.Printf("  Sources: %d\n", len(cfg.Sources))
		fmt.Printf("  Sweep schedule: %s\n", cfg.Sweep.Schedule)
		fmt.Printf("\nPress Ctrl+C for graceful shutdown\n\n")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		fmt.Printf("\nShutting down...\n")

		// Stop components in reverse order of startup
		ticker.Stop()
		pool.Stop()

		fmt.Printf("gigwatch daemon stopped\n")
		return nil
	},
}

// poolConfig maps file configuration onto the worker pool.
func poolConfig(cfg *config.Config) jobs.PoolConfig {
	pc := jobs.DefaultPoolConfig()
	if cfg.Pool.Workers > 0 {
		pc.Workers = cfg.Pool.Workers
	}
	if cfg.Pool.PollInterval > 0 {
		pc.PollInterval = cfg.Pool.PollInterval
	}
	if cfg.Pool.LeaseTTL > 0 {
		pc.LeaseTTL = cfg.Pool.LeaseTTL
	}
	if cfg.Pool.DrainTimeout > 0 {
		pc.DrainTimeout = cfg.Pool.DrainTimeout
	}
	if cfg.Retry.MaxAttempts > 0 {
		pc.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.BaseDelay > 0 {
		pc.RetryBaseDelay = cfg.Retry.BaseDelay
	}
	if cfg.Retry.MaxDelay > 0 {
		pc.RetryMaxDelay = cfg.Retry.MaxDelay
	}
	return pc
}

// registerScrapers binds every configured source to the default feed
// scraper with its rate cap. Sources needing custom scraping would
// register their own implementations here.
func registerScrapers(registry *scrape.Registry, cfg *config.Config) {
	feed := scrape.NewFeedScraper(30 * time.Second)
	for _, src := range cfg.Sources {
		registry.Register(src.Name, feed, src.RatePerSecond)
	}
}

// registerSchedules registers the sweep and one scrape definition per
// configured source. Idempotent: calling it again with an unchanged
// config changes nothing.
func registerSchedules(scheduler *schedule.Scheduler, cfg *config.Config) error {
	if err := scheduler.Register(SweepDefinitionID, event.StatusUpdateHandlerName, nil, cfg.Sweep.Schedule); err != nil {
		return errors.Wrap(err, "failed to register sweep schedule")
	}

	keep := []string{SweepDefinitionID}
	for _, src := range cfg.Sources {
		payload, err := json.Marshal(scrape.Payload{Source: src.Name, Options: src.Options})
		if err != nil {
			return errors.Wrapf(err, "failed to marshal payload for source %s", src.Name)
		}

		id := "scrape:" + src.Name
		if err := scheduler.Register(id, scrape.HandlerName, payload, src.Schedule); err != nil {
			return errors.Wrapf(err, "failed to register schedule for source %s", src.Name)
		}
		keep = append(keep, id)
	}

	// Sources removed from the config stop firing
	if _, err := scheduler.PruneExcept(keep); err != nil {
		return err
	}

	return nil
}

// startConfigWatcher watches the config file, if one was given, and
// re-registers schedules and scrapers on change. Returns nil when there
// is no file to watch.
func startConfigWatcher(cmd *cobra.Command, scheduler *schedule.Scheduler, scrapers *scrape.Registry) *config.Watcher {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		return nil
	}

	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		logger.Warnw("Config watcher unavailable, hot reload disabled",
			"path", configPath,
			"error", err)
		return nil
	}

	watcher.OnReload(func(newCfg *config.Config) error {
		registerScrapers(scrapers, newCfg)
		return registerSchedules(scheduler, newCfg)
	})
	watcher.Start()

	return watcher
}
