package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inkwell-app/inkwell-sync/internal/engine"
	"github.com/inkwell-app/inkwell-sync/internal/logging"
	"github.com/inkwell-app/inkwell-sync/internal/platform"
	"github.com/inkwell-app/inkwell-sync/internal/schema"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <type/id>",
	Short: "Mark a conflicted entity reviewed",
	Long: `Clear an entity's conflicted flag after reviewing the merge. The
entity is addressed as type/id, e.g. document/doc_4f2a. Conflicted
entities are listed by 'inkd status'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityType, id, ok := strings.Cut(args[0], "/")
		if !ok || id == "" {
			return fmt.Errorf("expected type/id, got %q", args[0])
		}
		t := schema.EntityType(entityType)
		if !t.Valid() {
			return fmt.Errorf("unknown entity type %q (valid: %v)", entityType, schema.EntityTypes)
		}

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

		if err := engine.Resolve(context.Background(), adapter.Store, t, id); err != nil {
			return err
		}
		fmt.Printf("%s marked resolved\n", args[0])
		return nil
	},
}
