package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/familiar/internal/api"
	"github.com/mattjoyce/familiar/internal/config"
	"github.com/mattjoyce/familiar/internal/dispatch"
	"github.com/mattjoyce/familiar/internal/events"
	"github.com/mattjoyce/familiar/internal/jobstore"
	"github.com/mattjoyce/familiar/internal/log"
	"github.com/mattjoyce/familiar/internal/progress"
	"github.com/mattjoyce/familiar/internal/watch"
	"github.com/mattjoyce/familiar/internal/worker"
	"github.com/spf13/cobra"
)

func newRunCmd(g *globalOptions) *cobra.Command {
	var flags overrideFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process pending jobs, then watch for new ones",
		Long: `Drain every job already waiting in Jobs, then poll for new files until
interrupted. Jobs are processed one at a time. SIGINT or SIGTERM stops the
loop after the current job is finished.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g, flags.overrides(cmd))
			if err != nil {
				return err
			}
			return runService(cmd, cfg)
		},
	}
	flags.register(cmd, true)
	return cmd
}

func runService(cmd *cobra.Command, cfg *config.Config) error {
	indicator := progress.New(cmd.OutOrStdout(), cfg.Name, progress.Mode(cfg.Progress))
	log.SetupWriter(indicator.Guard(cmd.OutOrStdout()), cfg.LogLevel, cfg.LogFormat)
	logger := log.WithComponent("main")

	store, err := jobstore.New(cfg.VaultPath, cfg.Watch.Patterns...)
	if err != nil {
		return err
	}
	if err := store.EnsureLayout(); err != nil {
		logger.Error("failed to prepare vault", "vault", cfg.VaultPath, "error", err)
		return err
	}
	if err := store.CheckFilesystem(); err != nil {
		logger.Warn("filesystem check", "error", err)
	}

	hub := events.NewHub(256)
	if cfg.Watch.RecoverStale {
		recovered, err := store.RecoverStale(cfg.StaleAfter())
		if err != nil {
			logger.Error("stale job recovery failed", "error", err)
			return fmt.Errorf("recover stale jobs: %w", err)
		}
		for _, name := range recovered {
			logger.Warn("returned stale job to Jobs", "job", name, "older_than", cfg.StaleAfter())
			hub.Publish(events.JobRecovered, events.JobPayload{Job: name})
		}
	}

	if _, err := worker.ResolveCommand(cfg.Worker.Command); err != nil {
		logger.Warn("worker command not found; jobs will fail until it is installed",
			"command", cfg.Worker.Command, "error", err)
	}
	runner := worker.NewExecRunner(
		cfg.Worker.Command,
		cfg.Worker.Args,
		worker.Delivery(cfg.Worker.PromptDelivery),
		cfg.Worker.GracePeriod,
		log.WithComponent("worker"),
	)

	dispatcher := dispatch.New(store, runner, dispatch.Options{
		Name:         cfg.Name,
		VaultRoot:    cfg.VaultRoot,
		AllowedPaths: cfg.AllowedPaths,
		Timeout:      cfg.TimeoutDuration(),
		Events:       hub,
		Progress:     indicator,
	})
	watcher := watch.New(store, dispatcher, watch.Options{
		PollInterval: cfg.Watch.PollInterval,
		SettleDelay:  cfg.Watch.SettleDelay,
		FSNotify:     cfg.Watch.FSNotify,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var apiDone chan error
	if cfg.API.Enabled {
		srv := api.New(api.Config{Listen: cfg.API.Listen, APIKey: cfg.API.APIKey}, store, hub, log.WithComponent("api"))
		apiDone = make(chan error, 1)
		go func() { apiDone <- srv.Start(ctx) }()
	}

	logger.Info("familiar started",
		"version", version,
		"name", cfg.Name,
		"vault", cfg.VaultPath,
		"worker", cfg.Worker.Command,
		"timeout", cfg.TimeoutDuration(),
	)

	runErr := watcher.Run(ctx)
	stop()

	if apiDone != nil {
		if err := <-apiDone; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("API server stopped", "error", err)
		}
	}
	if runErr != nil {
		logger.Error("watcher stopped", "error", runErr)
		return runErr
	}
	logger.Info("shutting down")
	return nil
}
