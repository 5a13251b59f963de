package testutil

import (
	"context"
	"fmt"

	"stories-go/internal/model"
	"stories-go/internal/stories"
)

// BrokenStore is a LocalStore whose every call fails as an unopenable store would.
type BrokenStore struct{}

func (BrokenStore) err(op string) error {
	return fmt.Errorf("%s: %w: disk I/O error", op, stories.ErrStoreUnavailable)
}

func (s BrokenStore) UpsertEntities(context.Context, []model.Story) error {
	return s.err("upsert")
}

func (s BrokenStore) ListEntities(context.Context) ([]model.Story, error) {
	return nil, s.err("list")
}

func (s BrokenStore) GetEntity(context.Context, string) (*model.Story, error) {
	return nil, s.err("get")
}

func (s BrokenStore) AddFavorite(context.Context, model.Story) (*model.Favorite, error) {
	return nil, s.err("add favorite")
}

func (s BrokenStore) RemoveFavorite(context.Context, string) error {
	return s.err("remove favorite")
}

func (s BrokenStore) ListFavorites(context.Context) ([]model.Favorite, error) {
	return nil, s.err("list favorites")
}

func (s BrokenStore) GetFavorite(context.Context, string) (*model.Favorite, error) {
	return nil, s.err("get favorite")
}

func (s BrokenStore) EnqueueMutation(context.Context, *model.PendingMutation) error {
	return s.err("enqueue")
}

func (s BrokenStore) ListMutations(context.Context) ([]model.PendingMutation, error) {
	return nil, s.err("list mutations")
}

func (s BrokenStore) DeleteMutations(context.Context, ...int64) error {
	return s.err("delete mutations")
}

func (s BrokenStore) ClearMutations(context.Context) error {
	return s.err("clear mutations")
}

func (s BrokenStore) ClearAll(context.Context) error {
	return s.err("clear all")
}

func (BrokenStore) Close() error { return nil }

var _ stories.LocalStore = BrokenStore{}
