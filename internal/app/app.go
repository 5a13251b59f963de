package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stories-go/internal/cachestore"
	"stories-go/internal/config"
	"stories-go/internal/connectivity"
	"stories-go/internal/credentials"
	"stories-go/internal/database"
	"stories-go/internal/model"
	"stories-go/internal/proxy"
	"stories-go/internal/remote"
	"stories-go/internal/stories"
)

// App is the application layer between the CLI and the domain.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw CLI values, and manages the store lifecycle on Close.
type App struct {
	cfg        *config.Config
	logger     *slogAdapter
	logFile    *os.File
	clock      stories.Clock
	store      *database.SQLiteStore
	tokens     credentials.TokenStore
	accessor   *credentials.Accessor
	remote     *remote.Client
	caches     cachestore.Storage
	model      *stories.Model
	reconciler *stories.Reconciler
	tracker    *connectivity.Tracker
	op         *Operation
}

// Options tune an App beyond what the config file holds.
type Options struct {
	// Operation names the CLI command being run (e.g. "list", "sync").
	Operation  string
	Parameters string
	// Verbose sends debug output to stderr as well as the log file.
	Verbose bool
}

// NewApp creates a fully wired App from the given config.
// The caller must call Close when done.
func NewApp(cfg *config.Config, opts Options) (*App, error) {
	clock := stories.RealClock{}

	component := opts.Operation
	if component == "" {
		component = "cli"
	}
	logger, logFile, err := newLogger(cfg.LogDir, component, opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a := &App{
		cfg:     cfg,
		logger:  &slogAdapter{l: logger},
		logFile: logFile,
		clock:   clock,
		tracker: connectivity.NewTracker(false),
		op:      NewOperation(component, opts.Parameters, clock.Now()),
	}
	if err := a.wire(); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	cfg := a.cfg

	// An unusable store costs offline data only. The store retries Init on
	// every call and the model tolerates its errors.
	if cfg.Database.Type == "sqlite" && cfg.Database.DataDir != "" {
		if err := os.MkdirAll(cfg.Database.DataDir, 0700); err != nil {
			a.logger.Warn("creating data directory failed", "dir", cfg.Database.DataDir, "error", err)
		}
	}
	store, err := database.NewStoreFromConfig(cfg.Database, a.clock)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	a.store = store
	if err := store.CheckMigrations(context.Background()); err != nil {
		a.logger.Warn("local store unavailable, continuing without offline data", "error", err)
	}

	tokens, err := credentials.NewTokenStoreFromConfig(cfg.Credentials)
	if err != nil {
		return fmt.Errorf("creating token store: %w", err)
	}
	a.tokens = tokens
	a.accessor = credentials.NewAccessor(tokens, a.clock)

	httpClient := &http.Client{Timeout: cfg.API.Timeout()}
	if cfg.Proxy.ClientProxyURL != "" {
		transport, err := proxy.NewForwardTransport(cfg.Proxy.ClientProxyURL, nil)
		if err != nil {
			return fmt.Errorf("configuring client proxy: %w", err)
		}
		httpClient.Transport = transport
	}
	a.remote = remote.NewClient(cfg.API.BaseURL, httpClient, a.accessor.Token)

	caches, err := cachestore.NewStorageFromConfig(cfg.Proxy.Cache)
	if err != nil {
		return fmt.Errorf("creating cache storage: %w", err)
	}
	a.caches = caches

	policy, err := stories.ParseClearPolicy(cfg.Sync.ClearPolicy)
	if err != nil {
		return err
	}

	a.model = stories.NewModel(store, a.remote, caches, a.logger.with("component", "model"))
	a.reconciler = stories.NewReconciler(store, a.remote, policy, a.logger.with("component", "sync"))
	return nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Tracker returns the connectivity tracker fed by Watch.
func (a *App) Tracker() *connectivity.Tracker { return a.tracker }

// Fail marks the running operation as failed for the log.
func (a *App) Fail() { a.op.Fail() }

// List returns one page of stories.
func (a *App) List(ctx context.Context, page, size int, withLocation bool) stories.Result[[]model.Story] {
	return a.model.List(ctx, stories.ListParams{Page: page, Size: size, Location: withLocation})
}

// Show returns one story.
func (a *App) Show(ctx context.Context, id string) stories.Result[*model.Story] {
	return a.model.Detail(ctx, id)
}

// maxPhotoSize is the largest photo the story API accepts.
const maxPhotoSize = 1 << 20

// AddStory reads the photo at photoPath and submits a new story.
// lat and lon must both be nil or both be set.
func (a *App) AddStory(ctx context.Context, description, photoPath string, lat, lon *float64) (stories.Result[*model.PendingMutation], error) {
	payload, err := readStoryPayload(description, photoPath, lat, lon)
	if err != nil {
		return stories.Result[*model.PendingMutation]{}, err
	}
	return a.model.Create(ctx, payload), nil
}

// AddGuestStory submits a story without logging in. Guest stories are never
// queued: when the API is unreachable the post fails.
func (a *App) AddGuestStory(ctx context.Context, description, photoPath string, lat, lon *float64) (stories.Result[struct{}], error) {
	payload, err := readStoryPayload(description, photoPath, lat, lon)
	if err != nil {
		return stories.Result[struct{}]{}, err
	}

	err = a.remote.CreateGuestStory(ctx, payload)
	if err == nil {
		return stories.Result[struct{}]{Success: true, Message: "Story added"}, nil
	}
	if rej, ok := stories.IsRejection(err); ok {
		return stories.Result[struct{}]{Message: rej.Message}, nil
	}
	a.logger.Warn("creating guest story failed", "error", err)
	return stories.Result[struct{}]{Message: "Failed to add guest story"}, nil
}

func readStoryPayload(description, photoPath string, lat, lon *float64) (model.StoryPayload, error) {
	if strings.TrimSpace(description) == "" {
		return model.StoryPayload{}, fmt.Errorf("description is required")
	}
	if (lat == nil) != (lon == nil) {
		return model.StoryPayload{}, fmt.Errorf("lat and lon must be given together")
	}

	photo, err := os.ReadFile(photoPath)
	if err != nil {
		return model.StoryPayload{}, fmt.Errorf("reading photo: %w", err)
	}
	if len(photo) > maxPhotoSize {
		return model.StoryPayload{}, fmt.Errorf("photo is %d bytes, the limit is %d", len(photo), maxPhotoSize)
	}

	payload := model.StoryPayload{
		Description: description,
		Photo:       photo,
		PhotoName:   filepath.Base(photoPath),
		PhotoType:   http.DetectContentType(photo),
	}
	if lat != nil {
		payload.Location = &model.Coordinates{Lat: *lat, Lon: *lon}
	}
	return payload, nil
}

// AddFavorite looks up the story (online or cached) and copies it into favorites.
func (a *App) AddFavorite(ctx context.Context, id string) stories.Result[*model.Favorite] {
	detail := a.model.Detail(ctx, id)
	if !detail.Success {
		return stories.Result[*model.Favorite]{Message: detail.Message}
	}
	return a.model.AddFavorite(ctx, *detail.Data)
}

// RemoveFavorite deletes a favorite by id.
func (a *App) RemoveFavorite(ctx context.Context, id string) stories.Result[string] {
	return a.model.RemoveFavorite(ctx, id)
}

// Favorites lists the favorites collection.
func (a *App) Favorites(ctx context.Context) stories.Result[[]model.Favorite] {
	return a.model.Favorites(ctx)
}

// Queue lists writes waiting for connectivity.
func (a *App) Queue(ctx context.Context) stories.Result[[]model.PendingMutation] {
	return a.model.PendingMutations(ctx)
}

// Sync drains the offline queue now.
func (a *App) Sync(ctx context.Context) ([]stories.SyncResult, error) {
	return a.reconciler.SyncAll(ctx)
}

// ClearCache wipes cached stories, favorites, the offline queue and the proxy caches.
func (a *App) ClearCache(ctx context.Context) stories.Result[struct{}] {
	return a.model.ClearCache(ctx)
}

// Login authenticates against the API and stores the session.
func (a *App) Login(ctx context.Context, email, password string) (*credentials.Session, error) {
	res, err := a.remote.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	sess := credentials.Session{UserID: res.UserID, Name: res.Name, Token: res.Token}
	if err := a.tokens.Save(sess); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	a.logger.Info("logged in", "user_id", res.UserID)
	return &sess, nil
}

// Register creates an account. It does not log in.
func (a *App) Register(ctx context.Context, name, email, password string) error {
	return a.remote.Register(ctx, name, email, password)
}

// Logout forgets the stored session. Cached data is kept.
func (a *App) Logout() error {
	if err := a.tokens.Clear(); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	a.logger.Info("logged out")
	return nil
}

// Session returns the logged-in session, or credentials.ErrNotLoggedIn.
func (a *App) Session() (*credentials.Session, error) {
	return a.accessor.Session()
}

// RelayURL is the websocket address of the proxy's relay.
func (a *App) RelayURL() string {
	return "ws://" + a.cfg.Proxy.ListenAddr + "/relay"
}

// Close closes all resources and logs the outcome of the operation.
func (a *App) Close() error {
	a.logger.Info("operation finished",
		"operation", a.op.Name,
		"parameters", a.op.Parameters,
		"status", a.op.Status,
		"elapsed", a.op.Elapsed(a.clock.Now()).Round(time.Millisecond),
	)
	return a.closeResources()
}

func (a *App) closeResources() error {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store: %w", err))
		}
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing log file: %w", err))
		}
	}
	return errors.Join(errs...)
}
