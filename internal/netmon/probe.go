package netmon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// DefaultProbeInterval is how often the probe checks reachability.
const DefaultProbeInterval = 15 * time.Second

// ProbeConfig configures a Probe monitor.
type ProbeConfig struct {
	// URL is the endpoint probed for reachability, typically the sync
	// backend's health endpoint.
	URL string

	// Interval between probes. Defaults to DefaultProbeInterval.
	Interval time.Duration

	// Client is the HTTP client used for probes. Defaults to a client
	// with a timeout shorter than the interval.
	Client *http.Client

	// Logger for probe activity. Defaults to stderr.
	Logger *log.Logger
}

// Probe is a polling connectivity monitor. Each tick issues a HEAD request
// against the configured URL; any response, including an HTTP error
// status, counts as reachable. Only transport failures mean offline.
type Probe struct {
	*notifier

	url    string
	client *http.Client
	logger *log.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewProbe creates and starts a probe monitor. The initial state is
// determined by a synchronous first probe so callers never start from a
// guessed state.
func NewProbe(cfg ProbeConfig) (*Probe, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("probe URL is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultProbeInterval
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Interval / 2}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Probe{
		url:    cfg.URL,
		client: cfg.Client,
		logger: cfg.Logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.notifier = newNotifier(p.check(ctx))

	go p.run(ctx, cfg.Interval)
	return p, nil
}

func (p *Probe) run(ctx context.Context, interval time.Duration) {
	defer close(p.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			online := p.check(ctx)
			if online != p.Online() {
				p.logger.Printf("Connectivity changed: online=%v", online)
			}
			p.set(online)
		}
	}
}

// check performs one reachability probe.
func (p *Probe) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

// Close implements Monitor.
func (p *Probe) Close() error {
	p.cancel()
	<-p.done
	p.close()
	return nil
}
