package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"stories-go/internal/config"
	"stories-go/internal/credentials"
	"stories-go/internal/relay"
)

// fakeAPI is a minimal story API. While down it answers like a failing gateway.
type fakeAPI struct {
	mu      sync.Mutex
	down    bool
	stories []map[string]any
	created []string
	guests  []string
	srv     *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{
		stories: []map[string]any{
			{"id": "story-1", "name": "Ana", "description": "Beach", "photoUrl": "https://example.com/1.jpg", "createdAt": "2024-01-10T08:00:00Z", "lat": -8.65, "lon": 115.21},
			{"id": "story-2", "name": "Budi", "description": "Market", "photoUrl": "https://example.com/2.jpg", "createdAt": "2024-01-11T08:00:00Z"},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"error": false, "message": "success",
			"loginResult": map[string]string{"userId": "user-1", "name": "Ana", "token": "tok-1"},
		})
	})
	mux.HandleFunc("POST /v1/register", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"error": false, "message": "User created"})
	})
	mux.HandleFunc("GET /v1/stories", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"error": false, "message": "Stories fetched successfully", "listStory": api.stories})
	})
	mux.HandleFunc("GET /v1/stories/{id}", func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		defer api.mu.Unlock()
		for _, s := range api.stories {
			if s["id"] == r.PathValue("id") {
				writeJSON(w, http.StatusOK, map[string]any{"error": false, "message": "Story fetched successfully", "story": s})
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"error": true, "message": "Story not found"})
	})
	mux.HandleFunc("POST /v1/stories", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": true, "message": "Missing authentication"})
			return
		}
		if err := r.ParseMultipartForm(2 << 20); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": true, "message": err.Error()})
			return
		}
		api.mu.Lock()
		api.created = append(api.created, r.FormValue("description"))
		api.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]any{"error": false, "message": "Story created successfully"})
	})

	mux.HandleFunc("POST /v1/stories/guest", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(2 << 20); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": true, "message": err.Error()})
			return
		}
		api.mu.Lock()
		api.guests = append(api.guests, r.FormValue("description"))
		api.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]any{"error": false, "message": "success"})
	})

	api.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		down := api.down
		api.mu.Unlock()
		if down {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("<html>Service Unavailable</html>"))
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(api.srv.Close)
	return api
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (api *fakeAPI) setDown(down bool) {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.down = down
}

func (api *fakeAPI) createdStories() []string {
	api.mu.Lock()
	defer api.mu.Unlock()
	return append([]string(nil), api.created...)
}

func (api *fakeAPI) guestStories() []string {
	api.mu.Lock()
	defer api.mu.Unlock()
	return append([]string(nil), api.guests...)
}

// unusedAddr returns a loopback address nothing is listening on.
func unusedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func testConfig(t *testing.T, api *fakeAPI) *config.Config {
	t.Helper()
	cfg := config.NewConfig("client-1", t.TempDir())
	cfg.API.BaseURL = api.srv.URL + "/v1"
	cfg.API.TimeoutSeconds = 5
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	cfg.Credentials = config.CredentialsConfig{Type: "memory"}
	cfg.Sync.ProbeIntervalSeconds = 1
	cfg.Proxy.ListenAddr = unusedAddr(t)
	cfg.Proxy.AppOrigin = api.srv.URL
	cfg.Proxy.StaticAssets = nil
	cfg.Proxy.Cache = config.CacheConfig{Type: "memory"}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := NewApp(cfg, Options{Operation: "test"})
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func writePhoto(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hike.jpg")
	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
	if err := os.WriteFile(path, jpeg, 0644); err != nil {
		t.Fatalf("writing photo: %v", err)
	}
	return path
}

func TestApp_OfflineRoundTrip(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(t)
	a := newTestApp(t, testConfig(t, api))

	if _, err := a.Login(ctx, "ana@example.com", "secret123"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	online := a.List(ctx, 1, 10, false)
	if !online.Success || online.Offline || len(online.Data) != 2 {
		t.Fatalf("List() online = %+v", online)
	}

	api.setDown(true)

	cached := a.List(ctx, 1, 10, false)
	if !cached.Success || !cached.Offline {
		t.Fatalf("List() offline = %+v, want cached result", cached)
	}
	if cached.Data[0].ID != "story-2" {
		t.Errorf("first cached story = %q, want newest story-2", cached.Data[0].ID)
	}

	lat, lon := -7.25, 112.75
	res, err := a.AddStory(ctx, "Hiking trip", writePhoto(t), &lat, &lon)
	if err != nil {
		t.Fatalf("AddStory() error = %v", err)
	}
	if !res.Success || !res.Offline {
		t.Fatalf("AddStory() offline = %+v, want queued", res)
	}
	if res.Data.Payload.PhotoType != "image/jpeg" || res.Data.Payload.PhotoName != "hike.jpg" {
		t.Errorf("queued photo = %q %q", res.Data.Payload.PhotoName, res.Data.Payload.PhotoType)
	}

	if q := a.Queue(ctx); len(q.Data) != 1 {
		t.Fatalf("Queue() = %d items, want 1", len(q.Data))
	}

	api.setDown(false)

	results, err := a.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("Sync() results = %+v", results)
	}
	if got := api.createdStories(); len(got) != 1 || got[0] != "Hiking trip" {
		t.Errorf("API received %v, want [Hiking trip]", got)
	}
	if q := a.Queue(ctx); len(q.Data) != 0 {
		t.Errorf("Queue() after sync = %d items, want 0", len(q.Data))
	}
}

func TestApp_UnusableDataDir(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(t)
	cfg := testConfig(t, api)

	notADir := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(notADir, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg.Database = config.DatabaseConfig{Type: "sqlite", DataDir: notADir}

	a := newTestApp(t, cfg)

	res := a.List(ctx, 1, 10, false)
	if !res.Success || res.Offline || len(res.Data) != 2 {
		t.Fatalf("List() = %+v, want online success", res)
	}

	if _, err := a.Login(ctx, "ana@example.com", "secret123"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	added, err := a.AddStory(ctx, "Sunset", writePhoto(t), nil, nil)
	if err != nil {
		t.Fatalf("AddStory() error = %v", err)
	}
	if !added.Success || added.Offline {
		t.Errorf("AddStory() = %+v, want online success", added)
	}

	api.setDown(true)
	if res := a.List(ctx, 1, 10, false); res.Success {
		t.Errorf("List() offline = %+v, want failure without offline data", res)
	}
}

func TestApp_AddGuestStory(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(t)
	a := newTestApp(t, testConfig(t, api))
	photo := writePhoto(t)

	res, err := a.AddGuestStory(ctx, "Guest visit", photo, nil, nil)
	if err != nil {
		t.Fatalf("AddGuestStory() error = %v", err)
	}
	if !res.Success {
		t.Fatalf("AddGuestStory() = %+v, want success", res)
	}
	if got := api.guestStories(); len(got) != 1 || got[0] != "Guest visit" {
		t.Errorf("API received guest stories %v, want [Guest visit]", got)
	}

	api.setDown(true)
	res, err = a.AddGuestStory(ctx, "Offline guest", photo, nil, nil)
	if err != nil {
		t.Fatalf("AddGuestStory() error = %v", err)
	}
	if res.Success || res.Offline || res.Message != "Failed to add guest story" {
		t.Errorf("AddGuestStory() offline = %+v, want failure", res)
	}
	if q := a.Queue(ctx); len(q.Data) != 0 {
		t.Errorf("Queue() = %d items, want guest posts never queued", len(q.Data))
	}

	if _, err := a.AddGuestStory(ctx, "", photo, nil, nil); err == nil {
		t.Error("AddGuestStory() with empty description expected error")
	}
}

func TestApp_AddStoryValidation(t *testing.T) {
	api := newFakeAPI(t)
	a := newTestApp(t, testConfig(t, api))
	photo := writePhoto(t)
	lat := 1.0

	tests := []struct {
		name        string
		description string
		photo       string
		lat, lon    *float64
	}{
		{name: "empty description", description: "  ", photo: photo},
		{name: "lat without lon", description: "x", photo: photo, lat: &lat},
		{name: "missing photo", description: "x", photo: filepath.Join(t.TempDir(), "none.jpg")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.AddStory(context.Background(), tt.description, tt.photo, tt.lat, tt.lon); err == nil {
				t.Error("AddStory() expected error")
			}
		})
	}
}

func TestApp_FavoriteServedOffline(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(t)
	a := newTestApp(t, testConfig(t, api))

	fav := a.AddFavorite(ctx, "story-1")
	if !fav.Success {
		t.Fatalf("AddFavorite() = %+v", fav)
	}
	if missing := a.AddFavorite(ctx, "nope"); missing.Success {
		t.Errorf("AddFavorite(nope) = %+v, want failure", missing)
	}

	if res := a.ClearCache(ctx); !res.Success {
		t.Fatalf("ClearCache() = %+v", res)
	}
	if favs := a.Favorites(ctx); len(favs.Data) != 0 {
		t.Fatalf("Favorites() after clear = %d, want 0", len(favs.Data))
	}

	a.AddFavorite(ctx, "story-2")
	api.setDown(true)

	show := a.Show(ctx, "story-2")
	if !show.Success || !show.Offline || show.Data.Description != "Market" {
		t.Errorf("Show() offline = %+v", show)
	}
	if rm := a.RemoveFavorite(ctx, "story-2"); !rm.Success {
		t.Errorf("RemoveFavorite() = %+v", rm)
	}
}

func TestApp_Session(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(t)
	a := newTestApp(t, testConfig(t, api))

	if _, err := a.Session(); !errors.Is(err, credentials.ErrNotLoggedIn) {
		t.Fatalf("Session() before login error = %v, want ErrNotLoggedIn", err)
	}
	if err := a.Register(ctx, "Ana", "ana@example.com", "secret123"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	sess, err := a.Login(ctx, "ana@example.com", "secret123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if sess.UserID != "user-1" || sess.Name != "Ana" {
		t.Errorf("Login() = %+v", sess)
	}
	if err := a.Logout(); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := a.Session(); !errors.Is(err, credentials.ErrNotLoggedIn) {
		t.Errorf("Session() after logout error = %v, want ErrNotLoggedIn", err)
	}
}

func TestApp_WatchDrainsQueueWhenOnline(t *testing.T) {
	api := newFakeAPI(t)
	a := newTestApp(t, testConfig(t, api))
	ctx := context.Background()

	if _, err := a.Login(ctx, "ana@example.com", "secret123"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	api.setDown(true)
	if res, err := a.AddStory(ctx, "Queued while away", writePhoto(t), nil, nil); err != nil || !res.Offline {
		t.Fatalf("AddStory() = %+v, %v", res, err)
	}
	api.setDown(false)

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- a.Watch(watchCtx) }()

	deadline := time.Now().Add(5 * time.Second)
	for len(api.createdStories()) == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if got := api.createdStories(); len(got) != 1 || got[0] != "Queued while away" {
		t.Errorf("API received %v", got)
	}
	if !a.Tracker().Online() {
		t.Error("tracker still offline after probing a reachable API")
	}
}

func TestApp_ServeProxy(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(t)

	proxyCfg := testConfig(t, api)
	proxyApp := newTestApp(t, proxyCfg)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	proxyURL := "http://" + ln.Addr().String()

	serveCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- proxyApp.ServeProxyOn(serveCtx, ln) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("ServeProxyOn() error = %v", err)
		}
	}()

	waitForStatus(t, proxyURL, "activated")

	clientCfg := testConfig(t, api)
	clientCfg.Proxy.ClientProxyURL = proxyURL
	client := newTestApp(t, clientCfg)

	first := client.List(ctx, 1, 10, false)
	if !first.Success || first.Offline {
		t.Fatalf("List() through proxy = %+v", first)
	}

	api.setDown(true)

	// Same request: the proxy answers from its dynamic cache.
	again := client.List(ctx, 1, 10, false)
	if !again.Success || len(again.Data) != 2 {
		t.Fatalf("List() from proxy cache = %+v", again)
	}

	// Uncached request: the proxy's offline envelope sends the client to its own store.
	other := client.List(ctx, 2, 10, false)
	if !other.Success || !other.Offline {
		t.Errorf("List() page 2 = %+v, want local offline result", other)
	}
}

func waitForStatus(t *testing.T, baseURL, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/_status")
		if err == nil {
			var status map[string]string
			json.NewDecoder(resp.Body).Decode(&status)
			resp.Body.Close()
			if status["state"] == want {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("proxy never reached state %q", want)
}

func TestHandleRelayMessage(t *testing.T) {
	api := newFakeAPI(t)
	a := newTestApp(t, testConfig(t, api))
	log := a.logger.with("component", "test")

	triggered := 0
	trigger := func() { triggered++ }

	syncMsg, _ := relay.NewMessage(relay.TypeBackgroundSync, relay.SyncPayload{Action: relay.SyncAction})
	other, _ := relay.NewMessage(relay.TypeBackgroundSync, relay.SyncPayload{Action: "something-else"})
	push, _ := relay.NewMessage(relay.TypePush, map[string]string{"title": "Hi"})
	empty, _ := relay.NewMessage(relay.TypeBackgroundSync, nil)

	for _, m := range []relay.Message{syncMsg, other, push, empty, syncMsg} {
		a.handleRelayMessage(m, log, trigger)
	}
	if triggered != 2 {
		t.Errorf("triggered %d syncs, want 2", triggered)
	}
}
