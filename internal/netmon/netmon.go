// Package netmon observes online/offline transitions and notifies
// subscribers. Notifications are edge-triggered: a callback fires on every
// transition, never on a repeated observation of the same state.
//
// Two variants exist. Probe polls an HTTP endpoint and suits the native
// and mobile profiles; Bridge receives transitions pushed in by the
// embedding shell and suits the web profile, where the browser already
// delivers connectivity events.
package netmon

import "sync"

// Callback is invoked with the new state on every transition.
type Callback func(online bool)

// Monitor is the uniform connectivity surface consumed by the sync engine.
type Monitor interface {
	// Online reports the last observed state.
	Online() bool

	// OnStatusChange registers a subscriber and returns an unsubscribe
	// handle. The callback is invoked from the monitor's goroutine;
	// subscribers must not block.
	OnStatusChange(cb Callback) (unsubscribe func())

	// Close stops the monitor. Subscribers receive no further calls.
	Close() error
}

// notifier implements the subscriber registry and edge detection shared by
// all monitor variants.
type notifier struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]Callback
	closed bool
}

func newNotifier(initial bool) *notifier {
	return &notifier{
		online: initial,
		subs:   make(map[int]Callback),
	}
}

func (n *notifier) Online() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online
}

func (n *notifier) OnStatusChange(cb Callback) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.subs[id] = cb
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

// set records a new observation and fires subscribers only when the state
// actually flipped.
func (n *notifier) set(online bool) {
	n.mu.Lock()
	if n.closed || n.online == online {
		n.mu.Unlock()
		return
	}
	n.online = online
	cbs := make([]Callback, 0, len(n.subs))
	for _, cb := range n.subs {
		cbs = append(cbs, cb)
	}
	n.mu.Unlock()

	for _, cb := range cbs {
		cb(online)
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.subs = make(map[int]Callback)
}

// Bridge is a monitor whose transitions are pushed in from outside, the
// way a browser shell forwards its online/offline events.
type Bridge struct {
	*notifier
}

// NewBridge creates a bridge monitor with the given initial state.
func NewBridge(initial bool) *Bridge {
	return &Bridge{notifier: newNotifier(initial)}
}

// SetOnline records a state observation pushed by the shell.
func (b *Bridge) SetOnline(online bool) {
	b.set(online)
}

// Close implements Monitor.
func (b *Bridge) Close() error {
	b.close()
	return nil
}
