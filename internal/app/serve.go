package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"stories-go/internal/proxy"
	"stories-go/internal/relay"
)

const shutdownTimeout = 5 * time.Second

// ServeProxy runs the background cache proxy on the configured listen address
// until ctx is done.
func (a *App) ServeProxy(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Proxy.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Proxy.ListenAddr, err)
	}
	return a.ServeProxyOn(ctx, ln)
}

// ServeProxyOn runs the background cache proxy on ln until ctx is done.
// The worker installs in the background; requests pass straight through
// until it activates.
func (a *App) ServeProxyOn(ctx context.Context, ln net.Listener) error {
	log := a.logger.with("component", "proxy")
	pc := a.cfg.Proxy

	var worker *proxy.Worker
	hub := relay.NewHub(func(m relay.Message) {
		if _, err := worker.Dispatch(ctx, proxy.Event{Type: proxy.EventMessage, Message: &m}); err != nil {
			log.Warn("relay message failed", "type", string(m.Type), "error", err)
		}
	}, log)

	// The proxy must reach the origin directly, never through client_proxy_url.
	worker, err := proxy.NewWorker(proxy.Options{
		Version:         pc.Version,
		APIOrigin:       a.cfg.API.BaseURL,
		AppOrigin:       pc.AppOrigin,
		StaticAssets:    pc.StaticAssets,
		ShellPath:       pc.ShellPath,
		PlaceholderPath: pc.PlaceholderPath,
		SkipWaiting:     true,
	}, a.caches, http.DefaultTransport, hub, a.clock, log)
	if err != nil {
		ln.Close()
		return fmt.Errorf("creating proxy worker: %w", err)
	}

	srv := &http.Server{
		Handler:           proxy.NewServer(worker, hub, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("proxy listening", "addr", ln.Addr().String(), "version", pc.Version)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving proxy: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := worker.Dispatch(gctx, proxy.Event{Type: proxy.EventInstall}); err != nil {
			log.Error("proxy install failed", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
