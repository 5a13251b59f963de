package connectivity

import (
	"context"
	"net"
	"net/url"
	"time"

	"stories-go/internal/stories"
)

// Dialer opens network connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Prober is the host adapter that turns dial attempts against the API host
// into tracker signals. The tracker itself never polls.
type Prober struct {
	tracker  *Tracker
	address  string
	interval time.Duration
	timeout  time.Duration
	dialer   Dialer
	logger   stories.Logger
}

// NewProber creates a Prober for the host of apiURL.
func NewProber(tracker *Tracker, apiURL string, interval time.Duration, logger stories.Logger) (*Prober, error) {
	addr, err := HostPort(apiURL)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Prober{
		tracker:  tracker,
		address:  addr,
		interval: interval,
		timeout:  5 * time.Second,
		dialer:   &net.Dialer{},
		logger:   logger,
	}, nil
}

// HostPort returns the dial address for a URL, filling in the scheme's default port.
func HostPort(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", &url.Error{Op: "parse", URL: rawURL, Err: net.UnknownNetworkError("missing host")}
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// Probe makes one dial attempt and feeds the outcome to the tracker.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", p.address)
	online := err == nil
	if online {
		conn.Close()
	}
	if p.tracker.Set(online) {
		p.logger.Info("connectivity changed", "online", online, "address", p.address)
	} else if err != nil {
		p.logger.Debug("probe failed", "address", p.address, "error", err)
	}
	return online
}

// Run probes immediately and then on every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.Probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
