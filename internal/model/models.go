package model

import "time"

// Coordinates is an optional story location. Both fields are always set together.
type Coordinates struct {
	Lat float64
	Lon float64
}

// Story is a remote story record mirrored in the local cache.
type Story struct {
	ID          string
	Author      string
	Description string
	PhotoURL    string
	Location    *Coordinates
	CreatedAt   time.Time
	CachedAt    time.Time // set on every write-through
}

// HasLocation reports whether the story carries coordinates.
func (s *Story) HasLocation() bool {
	return s.Location != nil
}

// Favorite is a self-contained copy of a story the user marked, plus when it was marked.
// It does not reference the story cache.
type Favorite struct {
	Story
	AddedAt time.Time
}

// MutationKind identifies the remote call a pending mutation replays.
type MutationKind string

// MutationCreateStory is currently the only kind of queued write.
const MutationCreateStory MutationKind = "create-story"

// StoryPayload is the full input of a create-story call.
type StoryPayload struct {
	Description string
	Photo       []byte
	PhotoName   string // file name sent in the multipart part
	PhotoType   string // MIME type, e.g. "image/jpeg"
	Location    *Coordinates
}

// PendingMutation is a write that could not reach the remote system.
// It is never modified once enqueued; it is deleted after replay.
type PendingMutation struct {
	ID         int64 // assigned by the store, monotonically increasing
	Kind       MutationKind
	Payload    StoryPayload
	EnqueuedAt time.Time
}
