// Package native is the desktop-shell platform profile: SQLite storage
// through the ncruces driver (cgo-free, wazero-based) and an active
// connectivity probe.
package native

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/inkwell-app/inkwell-sync/internal/netmon"
	"github.com/inkwell-app/inkwell-sync/internal/platform"
	"github.com/inkwell-app/inkwell-sync/internal/store/sqlite"
)

func init() {
	platform.Register(platform.ProfileNative, New)
}

// New builds the native adapter.
func New(opts platform.Options) (*platform.Adapter, error) {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[platform] ", log.LstdFlags)
	}
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := sqlite.Open(filepath.Join(opts.DataDir, "inkwell.db"), "sqlite3", opts.Logger)
	if err != nil {
		return nil, err
	}

	mon, err := netmon.NewProbe(netmon.ProbeConfig{
		URL:    opts.ProbeURL,
		Logger: opts.Logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	return &platform.Adapter{
		Profile:  platform.ProfileNative,
		Store:    st,
		Monitor:  mon,
		Notifier: &platform.LogNotifier{Logger: opts.Logger},
		Capabilities: platform.Capabilities{
			BackgroundSync: true,
		},
	}, nil
}
