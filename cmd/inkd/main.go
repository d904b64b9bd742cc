// inkd is the Inkwell sync daemon and its operator CLI.
//
//	inkd run                  start the sync daemon
//	inkd status               show queue and entity sync status
//	inkd retry <entry-id>     reset a failed queue entry to pending
//	inkd resolve <type/id>    mark a conflicted entity reviewed
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inkwell-app/inkwell-sync/internal/config"
	"github.com/inkwell-app/inkwell-sync/internal/logging"
	"github.com/inkwell-app/inkwell-sync/internal/platform"

	// Profile constructors register themselves on import.
	_ "github.com/inkwell-app/inkwell-sync/internal/platform/mobile"
	_ "github.com/inkwell-app/inkwell-sync/internal/platform/native"
	_ "github.com/inkwell-app/inkwell-sync/internal/platform/web"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "inkd",
	Short: "Inkwell offline-first sync daemon",
	Long: `inkd keeps a local Inkwell document store synchronized with the
remote backend. Local edits queue durably and flush when connectivity
allows; remote changes pull in the other direction. Edits are never
lost: failures park visibly and conflicts preserve both sides.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "directory containing inkd.yaml")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(resolveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the daemon configuration for a command.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// openAdapter builds the platform adapter from configuration, honoring
// an explicit platform override before falling back to detection.
func openAdapter(cfg *config.Config, logs *logging.Factory) (*platform.Adapter, error) {
	opts := platform.Options{
		DataDir:  cfg.DataDir,
		ProbeURL: cfg.ProbeURL,
		Logger:   logs.Component("platform"),
	}
	if cfg.Platform != "" {
		return platform.GetForProfile(platform.Profile(cfg.Platform), opts)
	}
	return platform.Get(opts)
}
