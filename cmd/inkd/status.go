package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inkwell-app/inkwell-sync/internal/logging"
	"github.com/inkwell-app/inkwell-sync/internal/platform"
	"github.com/inkwell-app/inkwell-sync/internal/schema"
	"github.com/inkwell-app/inkwell-sync/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue and entity sync status",
	Long: `Display the local sync state: queue entries by status, entities
that are not cleanly synced, and the pull cursor.`,
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

		ctx := context.Background()
		st := adapter.Store

		entries, err := st.ListQueueEntries(ctx)
		if err != nil {
			return err
		}
		counts := map[schema.EntryStatus]int{}
		for _, entry := range entries {
			counts[entry.Status]++
		}
		fmt.Printf("Queue: %d pending, %d in flight, %d failed\n",
			counts[schema.StatusPending], counts[schema.StatusInFlight], counts[schema.StatusFailed])
		for _, entry := range entries {
			if entry.Status != schema.StatusFailed {
				continue
			}
			fmt.Printf("  failed %s  %s %s (attempts %d): %s\n",
				entry.EntryID, entry.Operation, entry.Key(), entry.Attempts, entry.FailureReason)
		}

		entities, err := st.ListEntities(ctx, "")
		if err != nil {
			return err
		}
		var pending, conflicted int
		for _, e := range entities {
			switch e.SyncState {
			case schema.StatePendingLocal:
				pending++
			case schema.StateConflicted:
				conflicted++
				fmt.Printf("  conflicted %s/%s (remote version %d)\n", e.Type, e.ID, e.RemoteVersion)
			}
		}
		fmt.Printf("Entities: %d total, %d with pending edits, %d conflicted\n",
			len(entities), pending, conflicted)

		cursor, err := st.Meta(ctx, store.MetaPullCursor)
		if errors.Is(err, store.ErrNotFound) {
			cursor = "0"
		} else if err != nil {
			return err
		}
		fmt.Printf("Pull cursor: %s\n", cursor)
		return nil
	},
}
