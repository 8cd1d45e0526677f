package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNetworkUnavailable means no connectivity at call time. The local
	// fallback is to queue the affected changes as pending.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrCacheMiss means the requested id has no cached content.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheFull means eviction could not free enough space. The write is
	// rejected; the sync cycle continues for other items.
	ErrCacheFull = errors.New("cache full: cannot free enough space")

	// ErrItemNotFoundLocally means a push referenced a cache entry that
	// vanished. The change is dropped for this cycle.
	ErrItemNotFoundLocally = errors.New("item not found locally")

	// ErrSyncInProgress means a cycle is already running.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrConflictNotFound means the referenced conflict record is gone.
	ErrConflictNotFound = errors.New("conflict not found")
)

// ItemError scopes a failure to a single change so the rest of the batch
// can proceed.
type ItemError struct {
	Change SyncChange
	Err    error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("sync item failed: %s %s: %v", e.Change.Type, e.Change.Item.Path, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// HTTPError carries the remote status code for retry classification.
type HTTPError struct {
	Status int
	Method string
	Path   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.Status)
}

// Transient reports whether the error is worth retrying: timeouts, 5xx and
// 408 are; other 4xx are not.
func Transient(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		if he.Status == 408 {
			return true
		}
		return he.Status >= 500
	}
	return true
}
