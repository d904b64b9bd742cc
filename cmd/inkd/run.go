package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inkwell-app/inkwell-sync/internal/auth"
	"github.com/inkwell-app/inkwell-sync/internal/engine"
	"github.com/inkwell-app/inkwell-sync/internal/logging"
	"github.com/inkwell-app/inkwell-sync/internal/platform"
	"github.com/inkwell-app/inkwell-sync/internal/queue"
	"github.com/inkwell-app/inkwell-sync/internal/remote"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the sync daemon",
	Long: `Start the sync daemon: recover the queue, begin pushing pending
edits, and pull remote changes until interrupted.

The platform profile is detected from the environment (override with
the platform config key or INKWELL_PLATFORM). Identity comes from the
user_id/auth_token config keys for headless deployments.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logs := logging.NewFactory(logging.Options{File: cfg.LogFile})
		defer logs.Close()

		adapter, err := openAdapter(cfg, logs)
		if err != nil {
			return err
		}
		defer platform.Reset()

		identity := auth.NewSession()
		if cfg.AuthToken != "" {
			identity.SetIdentity(auth.Identity{UserID: cfg.UserID, Token: cfg.AuthToken})
		} else {
			fmt.Fprintf(os.Stderr, "Warning: no auth_token configured; sync is suspended until sign-in\n")
		}

		var eng *engine.Engine
		q := queue.New(adapter.Store, queue.Config{
			MaxAttempts: cfg.MaxAttempts,
			Logger:      logs.Component("queue"),
			OnEnqueue:   func() { eng.Kick() },
		})

		eng, err = engine.New(engine.Config{
			Queue:        q,
			Store:        adapter.Store,
			Backend:      remote.NewClient(cfg.ServerURL, identity, nil),
			Monitor:      adapter.Monitor,
			Auth:         identity,
			Notifier:     adapter.Notifier,
			BatchSize:    cfg.BatchSize,
			PollInterval: cfg.PollInterval,
			PullInterval: cfg.PullInterval,
			Backoff:      engine.Backoff{Base: cfg.BackoffBase, Cap: cfg.BackoffCap},
			Logger:       logs.Component("engine"),
		})
		if err != nil {
			return err
		}
		if err := eng.Start(); err != nil {
			return err
		}
		defer eng.Close()

		if cfg.FeedURL != "" {
			feed := remote.NewNotifier(remote.NotifierConfig{
				URL:      cfg.FeedURL,
				OnChange: eng.RequestPull,
				Identity: identity,
				Logger:   logs.Component("feed"),
			})
			defer feed.Close()
		}

		fmt.Printf("inkd running: profile=%s data=%s server=%s\n",
			adapter.Profile, cfg.DataDir, cfg.ServerURL)

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		fmt.Println("shutting down")
		return nil
	},
}
