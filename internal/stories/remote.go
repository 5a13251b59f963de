package stories

import (
	"context"

	"stories-go/internal/model"
)

// ListParams selects a page of stories from the remote system.
type ListParams struct {
	Page     int
	Size     int
	Location bool // only stories that carry coordinates
}

// RemoteAPI is the story API as seen by the domain layer.
// Failures are *ConnectivityError when no response arrived and
// *RejectionError when the remote answered with an error envelope.
type RemoteAPI interface {
	ListStories(ctx context.Context, params ListParams) ([]model.Story, error)
	GetStory(ctx context.Context, id string) (*model.Story, error)
	CreateStory(ctx context.Context, payload model.StoryPayload) error
}
