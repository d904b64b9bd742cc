// Package web is the browser-bundle platform profile: file-backed
// storage and connectivity bridged from the host's online/offline
// events instead of active probing (browsers already know, and probing
// from a tab wastes battery and bandwidth).
package web

import (
	"fmt"
	"log"
	"os"

	"github.com/inkwell-app/inkwell-sync/internal/netmon"
	"github.com/inkwell-app/inkwell-sync/internal/platform"
	"github.com/inkwell-app/inkwell-sync/internal/store/filestore"
)

func init() {
	platform.Register(platform.ProfileWeb, New)
}

// New builds the web adapter. The returned adapter's Monitor is a
// *netmon.Bridge; the embedding shell feeds it host connectivity
// events via SetOnline. It starts online: the bundle was just fetched
// over the network, and the first probe-free signal arrives only when
// the host reports a change.
func New(opts platform.Options) (*platform.Adapter, error) {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[platform] ", log.LstdFlags)
	}
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := filestore.Open(opts.DataDir, opts.Logger)
	if err != nil {
		return nil, err
	}

	return &platform.Adapter{
		Profile:  platform.ProfileWeb,
		Store:    st,
		Monitor:  netmon.NewBridge(true),
		Notifier: &platform.LogNotifier{Logger: opts.Logger},
		Capabilities: platform.Capabilities{
			WatchesFiles: true,
		},
	}, nil
}
