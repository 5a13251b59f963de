package stories

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"stories-go/internal/model"
)

// ClearPolicy decides which queue items a drain removes.
type ClearPolicy string

const (
	// ClearPerItem removes each item once its outcome is final: accepted,
	// rejected, or unreplayable. Items after a connectivity failure stay queued.
	ClearPerItem ClearPolicy = "per-item"

	// ClearAllOnAnySuccess attempts every item and empties the whole queue
	// if at least one was accepted. Failed items are left for the user to resubmit.
	ClearAllOnAnySuccess ClearPolicy = "clear-all"
)

// ParseClearPolicy maps a config value to a ClearPolicy. Empty means ClearPerItem.
func ParseClearPolicy(s string) (ClearPolicy, error) {
	switch ClearPolicy(s) {
	case "", ClearPerItem:
		return ClearPerItem, nil
	case ClearAllOnAnySuccess:
		return ClearAllOnAnySuccess, nil
	default:
		return "", fmt.Errorf("unknown clear policy: %q", s)
	}
}

// SyncResult is the outcome of replaying one queued item.
type SyncResult struct {
	Success bool
	Item    model.PendingMutation
	Err     error
}

// Reconciler drains the pending-mutation queue against the remote system.
// Items are replayed one at a time in queue order; only one drain runs at a time.
type Reconciler struct {
	store  LocalStore
	remote RemoteAPI
	policy ClearPolicy
	logger Logger
	mu     sync.Mutex // held for the duration of a drain
}

// NewReconciler creates a Reconciler.
func NewReconciler(store LocalStore, remote RemoteAPI, policy ClearPolicy, logger Logger) *Reconciler {
	if policy == "" {
		policy = ClearPerItem
	}
	return &Reconciler{
		store:  store,
		remote: remote,
		policy: policy,
		logger: logger,
	}
}

// SyncAll replays every queued mutation and reports one result per item, in queue order.
// If a drain is already running it returns ErrSyncInProgress without touching the queue.
func (r *Reconciler) SyncAll(ctx context.Context) ([]SyncResult, error) {
	if !r.mu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer r.mu.Unlock()

	queue, err := r.store.ListMutations(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading offline queue: %w", err)
	}
	if len(queue) == 0 {
		return nil, nil
	}

	r.logger.Info("sync started", "queued", len(queue), "policy", string(r.policy))

	var results []SyncResult
	switch r.policy {
	case ClearAllOnAnySuccess:
		results, err = r.drainThenClear(ctx, queue)
	default:
		results, err = r.drainPerItem(ctx, queue)
	}

	succeededCount := 0
	for _, res := range results {
		if res.Success {
			succeededCount++
		}
	}
	r.logger.Info("sync finished", "succeeded", succeededCount, "failed", len(results)-succeededCount)

	return results, err
}

// drainPerItem deletes each item as soon as its outcome is final and stops at the
// first transient failure so later items are never sent ahead of earlier ones.
func (r *Reconciler) drainPerItem(ctx context.Context, queue []model.PendingMutation) ([]SyncResult, error) {
	results := make([]SyncResult, 0, len(queue))

	for i, item := range queue {
		err := r.replay(ctx, item)
		if err != nil && !isFinal(err) {
			r.logger.Warn("sync interrupted", "mutation_id", item.ID, "error", err)
			results = append(results, SyncResult{Item: item, Err: err})
			for _, rest := range queue[i+1:] {
				results = append(results, SyncResult{Item: rest, Err: ErrSkipped})
			}
			return results, nil
		}

		if err != nil {
			r.logger.Warn("queued mutation dropped", "mutation_id", item.ID, "error", err)
		} else {
			r.logger.Debug("queued mutation synced", "mutation_id", item.ID)
		}
		results = append(results, SyncResult{Success: err == nil, Item: item, Err: err})

		if derr := r.store.DeleteMutations(ctx, item.ID); derr != nil {
			// The item stays queued and will be replayed again on the next drain.
			return results, fmt.Errorf("removing synced mutation %d: %w", item.ID, derr)
		}
	}

	return results, nil
}

// isFinal reports whether a replay error will not change on retry.
func isFinal(err error) bool {
	if _, ok := IsRejection(err); ok {
		return true
	}
	return errors.Is(err, ErrUnknownMutationKind)
}

// drainThenClear attempts every item and clears the whole queue if anything succeeded.
func (r *Reconciler) drainThenClear(ctx context.Context, queue []model.PendingMutation) ([]SyncResult, error) {
	results := make([]SyncResult, 0, len(queue))
	anySucceeded := false

	for _, item := range queue {
		err := r.replay(ctx, item)
		if err != nil {
			r.logger.Warn("queued mutation failed", "mutation_id", item.ID, "error", err)
		} else {
			anySucceeded = true
		}
		results = append(results, SyncResult{Success: err == nil, Item: item, Err: err})
	}

	if anySucceeded {
		if err := r.store.ClearMutations(ctx); err != nil {
			return results, fmt.Errorf("clearing offline queue: %w", err)
		}
	}
	return results, nil
}

// replay performs the remote call equivalent to a queued mutation.
func (r *Reconciler) replay(ctx context.Context, item model.PendingMutation) error {
	switch item.Kind {
	case model.MutationCreateStory:
		return r.remote.CreateStory(ctx, item.Payload)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMutationKind, item.Kind)
	}
}

// Trigger runs SyncAll and logs the outcome. It is the hook for connectivity
// transitions and relayed background-sync signals, which may arrive more than once.
func (r *Reconciler) Trigger(ctx context.Context) {
	results, err := r.SyncAll(ctx)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		r.logger.Debug("sync already running, signal ignored")
	case err != nil:
		r.logger.Error("sync failed", "error", err)
	case len(results) > 0:
		r.logger.Info("offline stories synced", "results", len(results))
	}
}
