// Package proxy is the background cache proxy. It sits between the client and
// the network, answers requests from cache generations when the network is
// unavailable, and relays lifecycle signals to the client.
package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"stories-go/internal/cachestore"
	"stories-go/internal/relay"
	"stories-go/internal/stories"
)

// State is the worker lifecycle state.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Broadcaster delivers relay messages to connected clients.
type Broadcaster interface {
	Broadcast(m relay.Message) int
}

// Options configures a Worker.
type Options struct {
	// Version names the current cache generations: static-<v>, dynamic-<v>, images-<v>.
	Version string
	// APIOrigin is the scheme://host of the story API.
	APIOrigin string
	// AppOrigin is what relative asset paths resolve against.
	AppOrigin       string
	StaticAssets    []string
	ShellPath       string
	PlaceholderPath string
	// AssetTimeout bounds each precache fetch during install.
	AssetTimeout time.Duration
	// SkipWaiting activates the worker as soon as install finishes.
	SkipWaiting bool
}

// Worker applies the caching strategies. Until it is activated every request
// passes straight through to the network.
type Worker struct {
	opts    Options
	storage cachestore.Storage
	network http.RoundTripper
	relay   Broadcaster
	clock   stories.Clock
	logger  stories.Logger

	apiOrigin   string
	staticURLs  []string
	staticSet   map[string]struct{}
	shellURL    string
	placeholder string

	mu    sync.RWMutex
	state State
}

const installConcurrency = 4

// NewWorker creates a Worker. network is the transport used to reach the origin.
func NewWorker(opts Options, storage cachestore.Storage, network http.RoundTripper, b Broadcaster, clock stories.Clock, logger stories.Logger) (*Worker, error) {
	if opts.Version == "" {
		return nil, fmt.Errorf("cache version required")
	}
	if opts.AssetTimeout <= 0 {
		opts.AssetTimeout = 15 * time.Second
	}
	if network == nil {
		network = http.DefaultTransport
	}
	if clock == nil {
		clock = stories.RealClock{}
	}

	apiOrigin, err := originOf(opts.APIOrigin)
	if err != nil {
		return nil, fmt.Errorf("api origin: %w", err)
	}
	base, err := url.Parse(strings.TrimRight(opts.AppOrigin, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("app origin: %w", err)
	}

	w := &Worker{
		opts:      opts,
		storage:   storage,
		network:   network,
		relay:     b,
		clock:     clock,
		logger:    logger,
		apiOrigin: apiOrigin,
		staticSet: make(map[string]struct{}),
		state:     StateParsed,
	}

	for _, asset := range opts.StaticAssets {
		resolved, err := resolve(base, asset)
		if err != nil {
			return nil, fmt.Errorf("static asset %q: %w", asset, err)
		}
		if _, dup := w.staticSet[resolved]; dup {
			continue
		}
		w.staticSet[resolved] = struct{}{}
		w.staticURLs = append(w.staticURLs, resolved)
	}
	if opts.ShellPath != "" {
		if w.shellURL, err = resolve(base, opts.ShellPath); err != nil {
			return nil, fmt.Errorf("shell path: %w", err)
		}
	}
	if opts.PlaceholderPath != "" {
		if w.placeholder, err = resolve(base, opts.PlaceholderPath); err != nil {
			return nil, fmt.Errorf("placeholder path: %w", err)
		}
	}
	return w, nil
}

func resolve(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

// originOf returns scheme://host for a URL, or "" for an empty string.
func originOf(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%q is not an absolute URL", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

// StaticCache, DynamicCache and ImageCache name the current generations.
func (w *Worker) StaticCache() string  { return "static-" + w.opts.Version }
func (w *Worker) DynamicCache() string { return "dynamic-" + w.opts.Version }
func (w *Worker) ImageCache() string   { return "images-" + w.opts.Version }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	w.logger.Debug("worker state changed", "state", s.String())
}

// Install precaches the static assets. Each asset is fetched independently;
// failures are logged and skipped so one missing asset never blocks install.
func (w *Worker) Install(ctx context.Context) error {
	w.setState(StateInstalling)

	cache, err := w.storage.Open(w.StaticCache())
	if err != nil {
		w.setState(StateParsed)
		return fmt.Errorf("opening %s: %w", w.StaticCache(), err)
	}

	var (
		mu     sync.Mutex
		cached int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)
	for _, assetURL := range w.staticURLs {
		g.Go(func() error {
			if err := w.precache(gctx, cache, assetURL); err != nil {
				w.logger.Warn("precache failed", "url", assetURL, "error", err)
				return nil
			}
			mu.Lock()
			cached++
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	w.logger.Info("worker installed", "cache", w.StaticCache(), "cached", cached, "assets", len(w.staticURLs))
	w.setState(StateInstalled)

	if w.opts.SkipWaiting {
		return w.Activate(ctx)
	}
	return nil
}

func (w *Worker) precache(ctx context.Context, cache cachestore.Cache, assetURL string) error {
	ctx, cancel := context.WithTimeout(ctx, w.opts.AssetTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return err
	}
	resp, err := w.network.RoundTrip(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	entry, err := cachestore.NewEntry(resp, w.clock.Now())
	if err != nil {
		return err
	}
	return cache.Put(assetURL, entry)
}

// Activate deletes every cache generation not named for the current version.
func (w *Worker) Activate(ctx context.Context) error {
	w.setState(StateActivating)

	names, err := w.storage.Names()
	if err != nil {
		w.setState(StateInstalled)
		return fmt.Errorf("listing caches: %w", err)
	}
	keep := []string{w.StaticCache(), w.DynamicCache(), w.ImageCache()}
	for _, name := range names {
		if slices.Contains(keep, name) {
			continue
		}
		if err := w.storage.Delete(name); err != nil {
			w.setState(StateInstalled)
			return fmt.Errorf("deleting old cache %s: %w", name, err)
		}
		w.logger.Info("deleted old cache", "cache", name)
	}

	w.setState(StateActivated)
	return nil
}

// skipWaiting activates a worker that finished installing.
func (w *Worker) skipWaiting(ctx context.Context) error {
	if w.State() != StateInstalled {
		return nil
	}
	return w.Activate(ctx)
}
