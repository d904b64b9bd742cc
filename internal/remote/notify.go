package remote

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"

	"github.com/inkwell-app/inkwell-sync/internal/auth"
)

// MessageType identifies a change-feed message.
type MessageType string

const (
	// MessageTypeEntityChanged announces that one or more entities moved
	// past the client's pull cursor.
	MessageTypeEntityChanged MessageType = "entity_changed"

	// MessageTypePing is a keepalive and carries no data.
	MessageTypePing MessageType = "ping"
)

// Message is one change-feed frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NotifierConfig configures the change-feed subscriber.
type NotifierConfig struct {
	// URL is the websocket endpoint, e.g. wss://sync.example.com/v1/feed.
	URL string

	// OnChange is invoked for every entity_changed message. The engine
	// wires this to its pull trigger; the callback must not block.
	OnChange func()

	// Identity supplies the bearer credentials for the dial, the same
	// way every HTTP call carries them. Optional; without it the feed
	// connects unauthenticated.
	Identity auth.Source

	// ReconnectMin/Max bound the backoff between reconnect attempts.
	// Defaults: 1s / 1m.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// Logger for feed activity. Defaults to stderr.
	Logger *log.Logger
}

// Notifier maintains a websocket subscription to the backend's change
// feed. The feed makes remote edits visible promptly; the engine's
// periodic pull remains the safety net when the feed is down, so the
// notifier reconnects forever and never reports a fatal error.
type Notifier struct {
	cfg    NotifierConfig
	cancel context.CancelFunc
	done   chan struct{}
}

// NewNotifier creates and starts a change-feed subscriber.
func NewNotifier(cfg NotifierConfig) *Notifier {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[feed] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		cfg:    cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go n.run(ctx)
	return n
}

func (n *Notifier) run(ctx context.Context) {
	defer close(n.done)

	delay := n.cfg.ReconnectMin
	for {
		if ctx.Err() != nil {
			return
		}

		connected, err := n.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			delay = n.cfg.ReconnectMin
		}
		n.cfg.Logger.Printf("Change feed disconnected: %v (reconnecting in %s)", err, delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > n.cfg.ReconnectMax {
			delay = n.cfg.ReconnectMax
		}
	}
}

// listen holds one connection open and dispatches its messages. It
// reports whether a connection was established so run can reset the
// reconnect backoff.
func (n *Notifier) listen(ctx context.Context) (bool, error) {
	opts := &websocket.DialOptions{}
	if n.cfg.Identity != nil {
		if id, ok := n.cfg.Identity.Current(); ok {
			opts.HTTPHeader = http.Header{}
			opts.HTTPHeader.Set("Authorization", "Bearer "+id.Token)
			opts.HTTPHeader.Set("X-Inkwell-User", id.UserID)
		}
	}
	conn, _, err := websocket.Dial(ctx, n.cfg.URL, opts)
	if err != nil {
		return false, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	n.cfg.Logger.Printf("Change feed connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, err
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			n.cfg.Logger.Printf("Ignoring undecodable feed message: %v", err)
			continue
		}
		if msg.Type == MessageTypeEntityChanged && n.cfg.OnChange != nil {
			n.cfg.OnChange()
		}
	}
}

// Close stops the subscriber and waits for its goroutine to exit.
func (n *Notifier) Close() error {
	n.cancel()
	<-n.done
	return nil
}
