package testutil

import (
	"context"
	"testing"

	"stories-go/internal/database"
	"stories-go/internal/stories"
)

// NewTestStore creates an in-memory SQLite store with migrations applied.
// The store is automatically closed when the test completes.
func NewTestStore(t *testing.T, clock stories.Clock) *database.SQLiteStore {
	t.Helper()

	store := database.NewSQLiteStore(":memory:", clock)
	if _, err := store.Init(context.Background()); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
