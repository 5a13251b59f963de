package stories

import (
	"context"

	"stories-go/internal/model"
)

// LocalStore is the durable home of the three offline collections:
// cached stories, favorites and the pending-mutation queue.
// Each method is atomic; no caller observes a partially applied write.
type LocalStore interface {
	// Cached stories

	// UpsertEntities inserts or fully replaces the given stories and stamps CachedAt.
	// Either every story is written or the call fails with ErrWriteFailed.
	UpsertEntities(ctx context.Context, stories []model.Story) error

	// ListEntities returns all cached stories. An empty cache is not an error.
	ListEntities(ctx context.Context) ([]model.Story, error)

	// GetEntity returns a cached story by id, or nil if it is not cached.
	GetEntity(ctx context.Context, id string) (*model.Story, error)

	// Favorites

	// AddFavorite stores a full copy of story and stamps AddedAt.
	AddFavorite(ctx context.Context, story model.Story) (*model.Favorite, error)

	// RemoveFavorite deletes a favorite. Removing an unknown id is a no-op.
	RemoveFavorite(ctx context.Context, id string) error

	// ListFavorites returns favorites in the order they were added.
	ListFavorites(ctx context.Context) ([]model.Favorite, error)

	// GetFavorite returns a favorite by id, or nil if there is none.
	GetFavorite(ctx context.Context, id string) (*model.Favorite, error)

	// Pending mutation queue

	// EnqueueMutation appends m to the queue, assigning ID and EnqueuedAt.
	EnqueueMutation(ctx context.Context, m *model.PendingMutation) error

	// ListMutations returns the queue in replay order (EnqueuedAt, then ID).
	ListMutations(ctx context.Context) ([]model.PendingMutation, error)

	// DeleteMutations removes the given queue items by id.
	DeleteMutations(ctx context.Context, ids ...int64) error

	// ClearMutations removes every queued item.
	ClearMutations(ctx context.Context) error

	// ClearAll wipes all three collections in one transaction.
	ClearAll(ctx context.Context) error

	// Close releases the underlying database.
	Close() error
}
