// Package mobile is the mobile-shell platform profile. It uses the
// pure-Go modernc SQLite driver because mobile builds carry no cgo
// toolchain, and probes connectivity actively like native does.
package mobile

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/inkwell-app/inkwell-sync/internal/netmon"
	"github.com/inkwell-app/inkwell-sync/internal/platform"
	"github.com/inkwell-app/inkwell-sync/internal/store/sqlite"
)

func init() {
	platform.Register(platform.ProfileMobile, New)
}

// New builds the mobile adapter.
func New(opts platform.Options) (*platform.Adapter, error) {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[platform] ", log.LstdFlags)
	}
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := sqlite.Open(filepath.Join(opts.DataDir, "inkwell.db"), "sqlite", opts.Logger)
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
		Profile:  platform.ProfileMobile,
		Store:    st,
		Monitor:  mon,
		Notifier: &platform.LogNotifier{Logger: opts.Logger},
		// The OS may suspend the process at any time; Recover on the
		// next launch picks up where the queue left off.
		Capabilities: platform.Capabilities{},
	}, nil
}
