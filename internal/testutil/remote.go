package testutil

import (
	"context"
	"errors"
	"sync"

	"stories-go/internal/model"
	"stories-go/internal/stories"
)

// Unreachable returns the error the remote client produces when no response arrives.
func Unreachable(op string) error {
	return &stories.ConnectivityError{Op: op, Err: errors.New("connection refused")}
}

// Rejected returns the error the remote client produces for an error envelope.
func Rejected(op string, status int, message string) error {
	return &stories.RejectionError{Op: op, Status: status, Message: message}
}

// FakeRemote is a scriptable stories.RemoteAPI. Safe for concurrent use.
type FakeRemote struct {
	mu sync.Mutex

	// Stories is returned by ListStories unless ListErr is set.
	Stories []model.Story
	ListErr error

	// Details is looked up by GetStory. A missing id is a 404 rejection.
	Details map[string]model.Story
	GetErr  error

	// CreateErrs is consumed one entry per CreateStory call; once empty, calls succeed.
	CreateErrs []error

	// OnCreate, if set, runs before CreateErrs is consulted. A non-nil return is the call's error.
	OnCreate func(ctx context.Context, payload model.StoryPayload) error

	Created   []model.StoryPayload // payloads of successful CreateStory calls
	ListCalls []stories.ListParams
	GetCalls  []string
	Attempts  int // CreateStory calls, successful or not
}

// NewFakeRemote creates a FakeRemote that succeeds with no data.
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{Details: make(map[string]model.Story)}
}

// SetOffline makes every call fail with a connectivity error.
func (f *FakeRemote) SetOffline() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListErr = Unreachable("list stories")
	f.GetErr = Unreachable("get story")
	f.OnCreate = func(context.Context, model.StoryPayload) error {
		return Unreachable("create story")
	}
}

func (f *FakeRemote) ListStories(ctx context.Context, params stories.ListParams) ([]model.Story, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls = append(f.ListCalls, params)
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return append([]model.Story(nil), f.Stories...), nil
}

func (f *FakeRemote) GetStory(ctx context.Context, id string) (*model.Story, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetCalls = append(f.GetCalls, id)
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	s, ok := f.Details[id]
	if !ok {
		return nil, Rejected("get story", 404, "Story not found")
	}
	return &s, nil
}

func (f *FakeRemote) CreateStory(ctx context.Context, payload model.StoryPayload) error {
	f.mu.Lock()
	f.Attempts++
	hook := f.OnCreate
	f.mu.Unlock()

	// The hook runs unlocked so it can block without stalling other calls.
	if hook != nil {
		if err := hook(ctx, payload); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.CreateErrs) > 0 {
		err := f.CreateErrs[0]
		f.CreateErrs = f.CreateErrs[1:]
		if err != nil {
			return err
		}
	}
	f.Created = append(f.Created, payload)
	return nil
}

// CreatedDescriptions returns the descriptions of successfully created stories, in call order.
func (f *FakeRemote) CreatedDescriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Created))
	for i, p := range f.Created {
		out[i] = p.Description
	}
	return out
}

var _ stories.RemoteAPI = (*FakeRemote)(nil)
