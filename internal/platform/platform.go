// Package platform selects the persistence and connectivity stack for
// the host the app is embedded in.
//
// Inkwell ships one sync engine across three embeddings: the desktop
// shell (native), the mobile shell (mobile), and the browser bundle
// (web). Each embedding gets a different storage backend and a
// different way of learning about connectivity, but the engine itself
// is profile-blind: it talks to a store.Store and a netmon.Monitor and
// never asks which profile produced them.
//
// Profile implementations live in subpackages (native, mobile, web)
// and register themselves via Register() in their init() functions,
// mirroring how database drivers register with database/sql. Importing
// a profile package is what makes it available:
//
//	import _ "github.com/inkwell-app/inkwell-sync/internal/platform/native"
package platform

import (
	"log"

	"github.com/inkwell-app/inkwell-sync/internal/netmon"
	"github.com/inkwell-app/inkwell-sync/internal/store"
)

// Profile identifies a supported embedding. The set is closed: an
// unrecognized value is an error, never a silent fallback, because a
// wrong guess here picks the wrong storage engine.
type Profile string

const (
	// ProfileNative is the desktop shell. SQLite via the ncruces driver,
	// active connectivity probing.
	ProfileNative Profile = "native"

	// ProfileMobile is the mobile shell. SQLite via the pure-Go modernc
	// driver (no cgo toolchain on mobile builds), active probing.
	ProfileMobile Profile = "mobile"

	// ProfileWeb is the browser bundle. File-backed store, connectivity
	// bridged from the host's online/offline events.
	ProfileWeb Profile = "web"
)

// Valid reports whether p is a known profile.
func (p Profile) Valid() bool {
	switch p {
	case ProfileNative, ProfileMobile, ProfileWeb:
		return true
	}
	return false
}

// Profiles lists all known profiles.
var Profiles = []Profile{ProfileNative, ProfileMobile, ProfileWeb}

// Notifier surfaces user-facing notices (sync failures needing
// attention, conflicts awaiting review). Profiles that cannot reach a
// system notification surface fall back to logging.
type Notifier interface {
	Notify(title, body string) error
}

// Capabilities describes what the embedding supports. The engine reads
// these to decide which optional behaviors to enable.
type Capabilities struct {
	// BackgroundSync is true when the process may keep syncing while
	// the app is not foregrounded.
	BackgroundSync bool

	// WatchesFiles is true when the store detects external writes to
	// its backing files.
	WatchesFiles bool

	// UserNotifications is true when Notify reaches a real system
	// notification surface rather than the log.
	UserNotifications bool
}

// Adapter bundles everything profile-specific the engine needs.
type Adapter struct {
	Profile      Profile
	Store        store.Store
	Monitor      netmon.Monitor
	Notifier     Notifier
	Capabilities Capabilities
}

// Close releases the adapter's resources: the monitor first so nothing
// fires into a closed store.
func (a *Adapter) Close() error {
	var firstErr error
	if a.Monitor != nil {
		if err := a.Monitor.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Options carries the inputs a profile constructor needs.
type Options struct {
	// DataDir is the directory holding local state. Profile constructors
	// create it if missing.
	DataDir string

	// ProbeURL is the endpoint polled by probing monitors. Ignored by
	// profiles that bridge connectivity from the host.
	ProbeURL string

	// Logger for the adapter's components. Defaults to stderr.
	Logger *log.Logger
}

// LogNotifier writes notices to a logger. It is the fallback Notifier
// for profiles without a system notification surface.
type LogNotifier struct {
	Logger *log.Logger
}

func (n *LogNotifier) Notify(title, body string) error {
	n.Logger.Printf("Notice: %s: %s", title, body)
	return nil
}
