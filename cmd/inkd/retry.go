package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inkwell-app/inkwell-sync/internal/logging"
	"github.com/inkwell-app/inkwell-sync/internal/platform"
	"github.com/inkwell-app/inkwell-sync/internal/queue"
)

var retryCmd = &cobra.Command{
	Use:   "retry <entry-id>",
	Short: "Reset a failed queue entry to pending",
	Long: `Reset a failed queue entry to pending with a fresh attempt budget.
The running daemon picks it up on its next pass. Entry ids are shown by
'inkd status'.`,
	Args: cobra.ExactArgs(1),
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

		q := queue.New(adapter.Store, queue.Config{
			MaxAttempts: cfg.MaxAttempts,
			Logger:      logs.Component("queue"),
		})
		if err := q.RetryFailed(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Entry %s reset to pending\n", args[0])
		return nil
	},
}
