package stories_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"stories-go/internal/cachestore"
	"stories-go/internal/model"
	"stories-go/internal/stories"
	"stories-go/internal/testutil"
)

func story(id string, created time.Time, loc *model.Coordinates) model.Story {
	return model.Story{
		ID:          id,
		Author:      "Ana",
		Description: "story " + id,
		PhotoURL:    "https://story-api.dicoding.dev/images/stories/" + id + ".jpg",
		Location:    loc,
		CreatedAt:   created,
	}
}

func newModel(t *testing.T) (*stories.Model, *testutil.FakeRemote, stories.LocalStore) {
	t.Helper()
	store := testutil.NewTestStore(t, testutil.FixedClock())
	remote := testutil.NewFakeRemote()
	return stories.NewModel(store, remote, nil, stories.NewNopLogger()), remote, store
}

func ids(list []model.Story) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestModel_List(t *testing.T) {
	base := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)
	here := &model.Coordinates{Lat: -6.2, Lon: 106.8}

	t.Run("online result is written through", func(t *testing.T) {
		m, remote, store := newModel(t)
		remote.Stories = []model.Story{story("s1", base, nil), story("s2", base.Add(time.Hour), here)}

		res := m.List(context.Background(), stories.ListParams{Page: 1, Size: 10})
		if !res.Success || res.Offline {
			t.Fatalf("List() = %+v, want online success", res)
		}
		if len(res.Data) != 2 {
			t.Fatalf("List() returned %d stories, want 2", len(res.Data))
		}

		cached, err := store.ListEntities(context.Background())
		if err != nil {
			t.Fatalf("ListEntities() error = %v", err)
		}
		if got := ids(cached); !equalIDs(got, []string{"s2", "s1"}) {
			t.Errorf("cached ids = %v, want [s2 s1]", got)
		}
	})

	t.Run("offline serves cache newest first", func(t *testing.T) {
		m, remote, _ := newModel(t)
		remote.Stories = []model.Story{
			story("old", base, here),
			story("mid", base.Add(time.Hour), nil),
			story("new", base.Add(2*time.Hour), here),
		}
		m.List(context.Background(), stories.ListParams{Page: 1, Size: 10})
		remote.SetOffline()

		res := m.List(context.Background(), stories.ListParams{Page: 1, Size: 10})
		if !res.Success || !res.Offline {
			t.Fatalf("List() = %+v, want offline success", res)
		}
		if res.Message != "Showing cached stories (offline mode)" {
			t.Errorf("Message = %q", res.Message)
		}
		if got := ids(res.Data); !equalIDs(got, []string{"new", "mid", "old"}) {
			t.Errorf("ids = %v, want [new mid old]", got)
		}
	})

	t.Run("offline applies location filter and paging", func(t *testing.T) {
		m, remote, _ := newModel(t)
		remote.Stories = []model.Story{
			story("a", base, here),
			story("b", base.Add(time.Hour), nil),
			story("c", base.Add(2*time.Hour), here),
			story("d", base.Add(3*time.Hour), here),
		}
		m.List(context.Background(), stories.ListParams{})
		remote.SetOffline()

		res := m.List(context.Background(), stories.ListParams{Page: 1, Size: 2, Location: true})
		if got := ids(res.Data); !equalIDs(got, []string{"d", "c"}) {
			t.Errorf("page 1 ids = %v, want [d c]", got)
		}
		res = m.List(context.Background(), stories.ListParams{Page: 2, Size: 2, Location: true})
		if got := ids(res.Data); !equalIDs(got, []string{"a"}) {
			t.Errorf("page 2 ids = %v, want [a]", got)
		}
		res = m.List(context.Background(), stories.ListParams{Page: 5, Size: 2, Location: true})
		if !res.Success || len(res.Data) != 0 {
			t.Errorf("page past end = %+v, want empty success", res)
		}
	})

	t.Run("offline with empty cache fails", func(t *testing.T) {
		m, remote, _ := newModel(t)
		remote.SetOffline()

		res := m.List(context.Background(), stories.ListParams{Page: 1, Size: 10})
		if res.Success {
			t.Fatalf("List() = %+v, want failure", res)
		}
		if res.Message != "Failed to fetch stories" {
			t.Errorf("Message = %q", res.Message)
		}
	})

	t.Run("rejection is not masked by the cache", func(t *testing.T) {
		m, remote, _ := newModel(t)
		remote.Stories = []model.Story{story("s1", base, nil)}
		m.List(context.Background(), stories.ListParams{})
		remote.ListErr = testutil.Rejected("list stories", 401, "Missing authentication")

		res := m.List(context.Background(), stories.ListParams{})
		if res.Success || res.Offline {
			t.Fatalf("List() = %+v, want online failure", res)
		}
		if res.Message != "Missing authentication" {
			t.Errorf("Message = %q, want remote message", res.Message)
		}
	})
}

func TestModel_Detail(t *testing.T) {
	created := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

	t.Run("online detail is cached", func(t *testing.T) {
		m, remote, store := newModel(t)
		remote.Details["s1"] = story("s1", created, nil)

		res := m.Detail(context.Background(), "s1")
		if !res.Success || res.Offline || res.Data.ID != "s1" {
			t.Fatalf("Detail() = %+v", res)
		}
		cached, _ := store.GetEntity(context.Background(), "s1")
		if cached == nil {
			t.Error("detail was not cached")
		}
	})

	t.Run("offline falls back to cache then favorites", func(t *testing.T) {
		m, remote, store := newModel(t)
		remote.Details["cached"] = story("cached", created, nil)
		m.Detail(context.Background(), "cached")
		if _, err := store.AddFavorite(context.Background(), story("fav", created, nil)); err != nil {
			t.Fatalf("AddFavorite() error = %v", err)
		}
		remote.SetOffline()

		res := m.Detail(context.Background(), "cached")
		if !res.Success || !res.Offline || res.Data.ID != "cached" {
			t.Errorf("Detail(cached) = %+v, want offline hit", res)
		}
		res = m.Detail(context.Background(), "fav")
		if !res.Success || !res.Offline || res.Data.ID != "fav" {
			t.Errorf("Detail(fav) = %+v, want offline hit from favorites", res)
		}
		res = m.Detail(context.Background(), "missing")
		if res.Success || res.Message != "Failed to fetch story detail" {
			t.Errorf("Detail(missing) = %+v, want failure", res)
		}
	})

	t.Run("not found online is a failure", func(t *testing.T) {
		m, _, _ := newModel(t)
		res := m.Detail(context.Background(), "nope")
		if res.Success || res.Message != "Story not found" {
			t.Errorf("Detail() = %+v", res)
		}
	})
}

func TestModel_Create(t *testing.T) {
	payload := model.StoryPayload{
		Description: "Hiking trip",
		Photo:       []byte{0xff, 0xd8, 0xff},
		PhotoName:   "trail.jpg",
		PhotoType:   "image/jpeg",
		Location:    &model.Coordinates{Lat: -7.25, Lon: 112.75},
	}

	t.Run("online create is not queued", func(t *testing.T) {
		m, remote, store := newModel(t)

		res := m.Create(context.Background(), payload)
		if !res.Success || res.Offline || res.Message != "Story added" {
			t.Fatalf("Create() = %+v", res)
		}
		if len(remote.Created) != 1 {
			t.Errorf("remote received %d stories, want 1", len(remote.Created))
		}
		queue, _ := store.ListMutations(context.Background())
		if len(queue) != 0 {
			t.Errorf("queue length = %d, want 0", len(queue))
		}
	})

	t.Run("offline create is queued with full payload", func(t *testing.T) {
		m, remote, store := newModel(t)
		remote.SetOffline()

		res := m.Create(context.Background(), payload)
		if !res.Success || !res.Offline {
			t.Fatalf("Create() = %+v, want deferred success", res)
		}
		if res.Data == nil || res.Data.ID == 0 {
			t.Fatalf("Create() did not return the queued mutation: %+v", res.Data)
		}

		queue, err := store.ListMutations(context.Background())
		if err != nil {
			t.Fatalf("ListMutations() error = %v", err)
		}
		if len(queue) != 1 {
			t.Fatalf("queue length = %d, want 1", len(queue))
		}
		got := queue[0]
		if got.Kind != model.MutationCreateStory {
			t.Errorf("Kind = %q", got.Kind)
		}
		if got.Payload.Description != "Hiking trip" || string(got.Payload.Photo) != string(payload.Photo) {
			t.Errorf("Payload = %+v", got.Payload)
		}
		if got.Payload.Location == nil || *got.Payload.Location != *payload.Location {
			t.Errorf("Location = %v, want %v", got.Payload.Location, payload.Location)
		}
	})

	t.Run("rejection is reported and not queued", func(t *testing.T) {
		m, remote, store := newModel(t)
		remote.CreateErrs = []error{testutil.Rejected("create story", 413, "Payload content length greater than maximum allowed: 1000000")}

		res := m.Create(context.Background(), payload)
		if res.Success {
			t.Fatalf("Create() = %+v, want failure", res)
		}
		if res.Message != "Payload content length greater than maximum allowed: 1000000" {
			t.Errorf("Message = %q", res.Message)
		}
		queue, _ := store.ListMutations(context.Background())
		if len(queue) != 0 {
			t.Errorf("queue length = %d, want 0", len(queue))
		}
	})

	t.Run("unclassified failure is not queued", func(t *testing.T) {
		m, remote, store := newModel(t)
		remote.CreateErrs = []error{errors.New("not logged in")}

		res := m.Create(context.Background(), payload)
		if res.Success || res.Message != "Failed to add story" {
			t.Fatalf("Create() = %+v", res)
		}
		queue, _ := store.ListMutations(context.Background())
		if len(queue) != 0 {
			t.Errorf("queue length = %d, want 0", len(queue))
		}
	})
}

func TestModel_BrokenStore(t *testing.T) {
	created := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)
	newBroken := func() (*stories.Model, *testutil.FakeRemote) {
		remote := testutil.NewFakeRemote()
		return stories.NewModel(testutil.BrokenStore{}, remote, nil, stories.NewNopLogger()), remote
	}

	t.Run("online list succeeds when write-through fails", func(t *testing.T) {
		m, remote := newBroken()
		remote.Stories = []model.Story{story("s1", created, nil)}

		res := m.List(context.Background(), stories.ListParams{Page: 1, Size: 10})
		if !res.Success || res.Offline {
			t.Fatalf("List() = %+v, want online success", res)
		}
		if got := ids(res.Data); !equalIDs(got, []string{"s1"}) {
			t.Errorf("List() ids = %v, want [s1]", got)
		}
	})

	t.Run("online detail succeeds when write-through fails", func(t *testing.T) {
		m, remote := newBroken()
		remote.Details["s1"] = story("s1", created, nil)

		res := m.Detail(context.Background(), "s1")
		if !res.Success || res.Offline || res.Data == nil || res.Data.ID != "s1" {
			t.Fatalf("Detail() = %+v, want online success", res)
		}
	})

	t.Run("offline list fails cleanly", func(t *testing.T) {
		m, remote := newBroken()
		remote.SetOffline()

		res := m.List(context.Background(), stories.ListParams{Page: 1, Size: 10})
		if res.Success || res.Offline || res.Data != nil {
			t.Fatalf("List() = %+v, want plain failure", res)
		}
		if res.Message != "Failed to fetch stories" {
			t.Errorf("Message = %q", res.Message)
		}
	})

	t.Run("offline detail fails cleanly", func(t *testing.T) {
		m, remote := newBroken()
		remote.SetOffline()

		res := m.Detail(context.Background(), "s1")
		if res.Success || res.Data != nil {
			t.Fatalf("Detail() = %+v, want plain failure", res)
		}
		if res.Message != "Failed to fetch story detail" {
			t.Errorf("Message = %q", res.Message)
		}
	})

	t.Run("online create does not touch the store", func(t *testing.T) {
		m, remote := newBroken()

		res := m.Create(context.Background(), model.StoryPayload{Description: "Beach day"})
		if !res.Success || res.Offline {
			t.Fatalf("Create() = %+v, want online success", res)
		}
		if len(remote.Created) != 1 {
			t.Errorf("remote received %d stories, want 1", len(remote.Created))
		}
	})

	t.Run("offline create that cannot be queued fails", func(t *testing.T) {
		m, remote := newBroken()
		remote.SetOffline()

		res := m.Create(context.Background(), model.StoryPayload{Description: "Beach day"})
		if res.Success || res.Message != "Failed to add story" {
			t.Errorf("Create() = %+v, want failure", res)
		}
	})
}

func TestModel_Favorites(t *testing.T) {
	m, _, _ := newModel(t)
	ctx := context.Background()
	created := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

	res := m.AddFavorite(ctx, story("s1", created, nil))
	if !res.Success || res.Data.AddedAt.IsZero() {
		t.Fatalf("AddFavorite() = %+v", res)
	}
	m.AddFavorite(ctx, story("s2", created, nil))

	list := m.Favorites(ctx)
	if !list.Success || len(list.Data) != 2 {
		t.Fatalf("Favorites() = %+v, want 2", list)
	}

	rm := m.RemoveFavorite(ctx, "s1")
	if !rm.Success || rm.Data != "s1" {
		t.Fatalf("RemoveFavorite() = %+v", rm)
	}
	if rm := m.RemoveFavorite(ctx, "unknown"); !rm.Success {
		t.Errorf("RemoveFavorite(unknown) = %+v, want no-op success", rm)
	}

	list = m.Favorites(ctx)
	if len(list.Data) != 1 || list.Data[0].ID != "s2" {
		t.Errorf("Favorites() after remove = %+v", list.Data)
	}
}

func TestModel_ClearCache(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewTestStore(t, testutil.FixedClock())
	remote := testutil.NewFakeRemote()
	caches := cachestore.NewMemoryStorage()
	if _, err := caches.Open("dynamic-v3"); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	m := stories.NewModel(store, remote, caches, stories.NewNopLogger())

	created := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)
	remote.Stories = []model.Story{story("s1", created, nil)}
	m.List(ctx, stories.ListParams{})
	m.AddFavorite(ctx, story("s1", created, nil))
	remote.SetOffline()
	m.Create(ctx, model.StoryPayload{Description: "queued"})

	res := m.ClearCache(ctx)
	if !res.Success || res.Message != "Cache cleared successfully" {
		t.Fatalf("ClearCache() = %+v", res)
	}

	if list, _ := store.ListEntities(ctx); len(list) != 0 {
		t.Errorf("stories left: %d", len(list))
	}
	if favs, _ := store.ListFavorites(ctx); len(favs) != 0 {
		t.Errorf("favorites left: %d", len(favs))
	}
	if queue, _ := store.ListMutations(ctx); len(queue) != 0 {
		t.Errorf("queued mutations left: %d", len(queue))
	}
	if names, _ := caches.Names(); len(names) != 0 {
		t.Errorf("response caches left: %v", names)
	}
}
