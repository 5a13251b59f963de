package app

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"stories-go/internal/connectivity"
	"stories-go/internal/proxy"
	"stories-go/internal/relay"
)

// Watch keeps the offline queue draining until ctx is done. A sync is
// triggered when the prober sees the API come back and whenever the proxy
// relays a background-sync signal. Overlapping triggers collapse into one drain.
func (a *App) Watch(ctx context.Context) error {
	log := a.logger.with("component", "watch")

	var wg sync.WaitGroup
	defer wg.Wait()
	trigger := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.reconciler.Trigger(ctx)
		}()
	}

	cancel := a.tracker.Subscribe(func(t connectivity.Transition) {
		if t.Online {
			trigger()
		}
	})
	defer cancel()

	prober, err := connectivity.NewProber(a.tracker, a.cfg.API.BaseURL, a.cfg.Sync.ProbeInterval(), log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		prober.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.listenRelay(gctx, log, trigger)
		return nil
	})
	return g.Wait()
}

// listenRelay stays subscribed to the proxy's relay, reconnecting after the
// probe interval whenever the proxy is not running.
func (a *App) listenRelay(ctx context.Context, log *slogAdapter, trigger func()) {
	url := a.RelayURL()
	retry := a.cfg.Sync.ProbeInterval()

	for {
		sub, err := relay.Dial(ctx, url)
		if err != nil {
			log.Debug("relay unavailable", "url", url, "error", err)
		} else {
			log.Info("relay connected", "url", url)
			err = sub.Listen(ctx, func(m relay.Message) {
				a.handleRelayMessage(m, log, trigger)
			})
			sub.Close()
			if err != nil {
				log.Warn("relay connection lost", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(retry):
		}
	}
}

func (a *App) handleRelayMessage(m relay.Message, log *slogAdapter, trigger func()) {
	switch m.Type {
	case relay.TypeBackgroundSync:
		var p relay.SyncPayload
		if err := m.Decode(&p); err != nil {
			log.Warn("bad relay message", "id", m.ID.String(), "error", err)
			return
		}
		if p.Action == relay.SyncAction {
			log.Info("background sync requested", "id", m.ID.String())
			trigger()
		}
	case relay.TypePush:
		var n proxy.Notification
		if err := m.Decode(&n); err != nil {
			log.Warn("bad relay message", "id", m.ID.String(), "error", err)
			return
		}
		log.Info("notification", "title", n.Title, "body", n.Body)
	case relay.TypeNotificationClick:
		var c proxy.ClickPayload
		if err := m.Decode(&c); err != nil {
			log.Warn("bad relay message", "id", m.ID.String(), "error", err)
			return
		}
		log.Info("notification clicked", "action", c.Action, "url", c.URL)
	default:
		log.Debug("ignoring relay message", "type", string(m.Type))
	}
}
