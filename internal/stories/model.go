package stories

import (
	"context"
	"sort"

	"stories-go/internal/model"
)

// CacheWiper clears the response caches kept by the background proxy.
type CacheWiper interface {
	DeleteAll() error
}

// Model is the read/write facade used by presentation code.
// Reads go to the network first and fall back to the local store;
// writes go to the network first and fall back to the pending queue.
// No method returns an error: every outcome is a Result.
type Model struct {
	store  LocalStore
	remote RemoteAPI
	caches CacheWiper // optional
	logger Logger
}

// NewModel creates a Model. caches may be nil when no proxy cache is shared with this process.
func NewModel(store LocalStore, remote RemoteAPI, caches CacheWiper, logger Logger) *Model {
	return &Model{
		store:  store,
		remote: remote,
		caches: caches,
		logger: logger,
	}
}

// List returns a page of stories, served from the cache when the remote is unreachable.
func (m *Model) List(ctx context.Context, params ListParams) Result[[]model.Story] {
	stories, err := m.remote.ListStories(ctx, params)
	if err == nil {
		if err := m.store.UpsertEntities(ctx, stories); err != nil {
			m.logger.Warn("caching stories failed", "count", len(stories), "error", err)
		}
		return succeeded(stories, "")
	}

	if rej, ok := IsRejection(err); ok {
		return failed[[]model.Story](rej.Message)
	}
	m.logger.Info("listing stories offline", "error", err)

	cached, err := m.store.ListEntities(ctx)
	if err != nil {
		m.logger.Warn("reading cached stories failed", "error", err)
		return failed[[]model.Story]("Failed to fetch stories")
	}
	if len(cached) == 0 {
		return failed[[]model.Story]("Failed to fetch stories")
	}

	return offline(pageOf(cached, params), "Showing cached stories (offline mode)")
}

// pageOf applies the location filter and page window to cached stories, newest first.
func pageOf(cached []model.Story, params ListParams) []model.Story {
	var filtered []model.Story
	for _, s := range cached {
		if params.Location && !s.HasLocation() {
			continue
		}
		filtered = append(filtered, s)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	if params.Size <= 0 {
		return filtered
	}
	page := params.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * params.Size
	if start >= len(filtered) {
		return []model.Story{}
	}
	end := min(start+params.Size, len(filtered))
	return filtered[start:end]
}

// Detail returns one story. Offline, it is looked up in the story cache, then in favorites.
func (m *Model) Detail(ctx context.Context, id string) Result[*model.Story] {
	story, err := m.remote.GetStory(ctx, id)
	if err == nil {
		if err := m.store.UpsertEntities(ctx, []model.Story{*story}); err != nil {
			m.logger.Warn("caching story failed", "id", id, "error", err)
		}
		return succeeded(story, "")
	}

	if rej, ok := IsRejection(err); ok {
		return failed[*model.Story](rej.Message)
	}
	m.logger.Info("reading story offline", "id", id, "error", err)

	cached, err := m.store.GetEntity(ctx, id)
	if err != nil {
		m.logger.Warn("reading cached story failed", "id", id, "error", err)
	}
	if cached != nil {
		return offline(cached, "Showing cached story (offline mode)")
	}

	fav, err := m.store.GetFavorite(ctx, id)
	if err != nil {
		m.logger.Warn("reading favorite failed", "id", id, "error", err)
	}
	if fav != nil {
		story := fav.Story
		return offline(&story, "Showing cached story (offline mode)")
	}

	return failed[*model.Story]("Failed to fetch story detail")
}

// Create submits a new story. If the remote is unreachable the payload is queued
// and the result is a deferred success carrying the queued mutation.
func (m *Model) Create(ctx context.Context, payload model.StoryPayload) Result[*model.PendingMutation] {
	err := m.remote.CreateStory(ctx, payload)
	if err == nil {
		return succeeded[*model.PendingMutation](nil, "Story added")
	}

	if rej, ok := IsRejection(err); ok {
		return failed[*model.PendingMutation](rej.Message)
	}
	if !IsConnectivity(err) {
		m.logger.Error("creating story failed", "error", err)
		return failed[*model.PendingMutation]("Failed to add story")
	}

	mutation := &model.PendingMutation{
		Kind:    model.MutationCreateStory,
		Payload: payload,
	}
	if err := m.store.EnqueueMutation(ctx, mutation); err != nil {
		m.logger.Error("queueing story failed", "error", err)
		return failed[*model.PendingMutation]("Failed to add story")
	}

	m.logger.Info("story queued for sync", "mutation_id", mutation.ID)
	return offline(mutation, "Story saved offline. It will be uploaded when you're back online.")
}

// AddFavorite copies story into the favorites collection.
func (m *Model) AddFavorite(ctx context.Context, story model.Story) Result[*model.Favorite] {
	fav, err := m.store.AddFavorite(ctx, story)
	if err != nil {
		m.logger.Warn("adding favorite failed", "id", story.ID, "error", err)
		return failed[*model.Favorite]("Failed to add to favorites")
	}
	return succeeded(fav, "Story added to favorites")
}

// RemoveFavorite deletes a favorite by id.
func (m *Model) RemoveFavorite(ctx context.Context, id string) Result[string] {
	if err := m.store.RemoveFavorite(ctx, id); err != nil {
		m.logger.Warn("removing favorite failed", "id", id, "error", err)
		return failed[string]("Failed to remove from favorites")
	}
	return succeeded(id, "Story removed from favorites")
}

// Favorites lists the favorites collection.
func (m *Model) Favorites(ctx context.Context) Result[[]model.Favorite] {
	favs, err := m.store.ListFavorites(ctx)
	if err != nil {
		m.logger.Warn("listing favorites failed", "error", err)
		return failed[[]model.Favorite]("Failed to get favorites")
	}
	return succeeded(favs, "")
}

// PendingMutations lists the writes waiting for connectivity.
func (m *Model) PendingMutations(ctx context.Context) Result[[]model.PendingMutation] {
	queue, err := m.store.ListMutations(ctx)
	if err != nil {
		m.logger.Warn("listing pending mutations failed", "error", err)
		return failed[[]model.PendingMutation]("Failed to read offline queue")
	}
	return succeeded(queue, "")
}

// ClearCache wipes all local collections and, when configured, the proxy's response caches.
// Credentials and settings live elsewhere and are kept.
func (m *Model) ClearCache(ctx context.Context) Result[struct{}] {
	if err := m.store.ClearAll(ctx); err != nil {
		m.logger.Error("clearing local store failed", "error", err)
		return failed[struct{}]("Failed to clear cache")
	}
	if m.caches != nil {
		if err := m.caches.DeleteAll(); err != nil {
			m.logger.Error("clearing response caches failed", "error", err)
			return failed[struct{}]("Failed to clear cache")
		}
	}
	m.logger.Info("cache cleared")
	return succeeded(struct{}{}, "Cache cleared successfully")
}
