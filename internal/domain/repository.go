package domain

import (
	"context"
	"time"
)

// RemoteDirectoryClient defines the interface for the remote document store.
// Implementations own authentication token injection and refresh.
type RemoteDirectoryClient interface {
	List(ctx context.Context, path string) ([]RemoteEntry, error)
	Download(ctx context.Context, id string) ([]byte, error)
	Upload(ctx context.Context, parentPath, name string, data []byte) (RemoteEntry, error)
	Delete(ctx context.Context, id string) error
	Move(ctx context.Context, id, newParentPath string) error
	Rename(ctx context.Context, id, newName string) error
	Mkdir(ctx context.Context, path string) error
}

// CacheStore is content storage under a size budget with eviction.
type CacheStore interface {
	Get(id string) ([]byte, error)
	Put(id string, data []byte, pinnedOffline bool) error
	Contains(id string) bool
	Pinned(id string) bool
	EnsureSpace(n int64) error
	Remove(id string) error
	Clear() error        // non-pinned only
	ClearOffline() error // pinned only
	ClearAll() error
	Usage() (nonPinned, pinned int64)
	SetBudget(n int64)
}

// StateStore is the persisted state surface: last-sync timestamp, pending
// changes, conflict records, cached-item rows and the history log.
type StateStore interface {
	LastSyncTime() (time.Time, error)
	SetLastSyncTime(t time.Time) error

	PendingChanges() ([]SyncChange, error)
	MergePending(changes []SyncChange) error
	ClearPending() error

	SaveConflict(c SyncConflict) error
	Conflicts() ([]SyncConflict, error)
	DeleteConflict(id string) error

	MarkKnown(itemIDs ...string) error
	ForgetKnown(itemID string) error
	KnownItem(itemID string) (bool, error)
	KnownItems() ([]string, error)

	SaveCachedItem(item CachedItem) error
	DeleteCachedItem(id string) error
	CachedItems() ([]CachedItem, error)

	RecordHistory(h HistoryEntry) error
	History(limit int) ([]HistoryEntry, error)

	// Durable "sync requested" marker, set by isolated background triggers
	// and consumed by the scheduler after it rebuilds its service graph.
	RequestSync() error
	SyncRequested() (bool, error)
	ClearSyncRequest() error
}

// DeviceMonitor exposes live device signals as pull state and a push stream.
type DeviceMonitor interface {
	State() DeviceState
	Changes() <-chan DeviceState
}
