package stories

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable means the local store could not be opened (denied, corrupt, unmigratable).
	ErrStoreUnavailable = errors.New("local store unavailable")

	// ErrWriteFailed means a local write was rolled back; none of its records were applied.
	ErrWriteFailed = errors.New("local write failed")

	// ErrSyncInProgress is returned by SyncAll when another drain already owns the queue.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrSkipped marks queued items left untouched after the drain stopped on a connectivity failure.
	ErrSkipped = errors.New("not attempted: remote unreachable")

	// ErrUnknownMutationKind marks a queued item the reconciler cannot replay.
	ErrUnknownMutationKind = errors.New("unknown mutation kind")
)

// ConnectivityError means no response from the remote system reached the client.
type ConnectivityError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *ConnectivityError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: remote timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: remote unreachable: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// RejectionError means the remote system answered with an error envelope.
type RejectionError struct {
	Op      string
	Status  int
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s: rejected by remote (status %d): %s", e.Op, e.Status, e.Message)
}

// IsConnectivity reports whether err was caused by the remote being unreachable.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}

// IsRejection reports whether err carries a remote error envelope, returning it if so.
func IsRejection(err error) (*RejectionError, bool) {
	var re *RejectionError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
