package domain

import "time"

// RemoteEntry represents a file or folder as reported by the remote store.
type RemoteEntry struct {
	ID       string // server-relative path, stable across content changes
	Path     string
	Name     string
	IsFolder bool
	Size     int64
	Modified time.Time
	ETag     string
	MimeType string
}

// ParentPath returns the server-relative path of the entry's parent folder.
func (e RemoteEntry) ParentPath() string {
	idx := -1
	for i := len(e.Path) - 1; i >= 0; i-- {
		if e.Path[i] == '/' {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return "/"
	}
	return e.Path[:idx]
}

// ChangeType defines the kind of delta detected on either side.
type ChangeType string

const (
	ChangeCreated  ChangeType = "CREATED"
	ChangeModified ChangeType = "MODIFIED"
	ChangeDeleted  ChangeType = "DELETED"
	ChangeMoved    ChangeType = "MOVED"
)

// SyncChange is one detected delta. It is immutable once produced and
// consumed exactly once by the applier.
type SyncChange struct {
	Type      ChangeType  `json:"type"`
	ItemID    string      `json:"item_id"`
	IsFolder  bool        `json:"is_folder"`
	Item      RemoteEntry `json:"item"`
	Timestamp time.Time   `json:"timestamp"`
}

// ConflictType classifies how the two sides diverged.
type ConflictType string

const (
	ConflictBothModified    ConflictType = "BOTH_MODIFIED"
	ConflictDeletedLocally  ConflictType = "DELETED_LOCALLY"
	ConflictDeletedRemotely ConflictType = "DELETED_REMOTELY"
	ConflictTypeMismatch    ConflictType = "TYPE_MISMATCH"
)

// SyncConflict records a divergence that needs a user decision. It lives in
// the state store until resolved.
type SyncConflict struct {
	ID             string       `json:"id"`
	ItemID         string       `json:"item_id"`
	ItemPath       string       `json:"item_path"`
	LocalModified  time.Time    `json:"local_modified"`
	RemoteModified time.Time    `json:"remote_modified"`
	LocalSize      int64        `json:"local_size"`
	RemoteSize     int64        `json:"remote_size"`
	Type           ConflictType `json:"type"`
	DetectedAt     time.Time    `json:"detected_at"`
}

// ConflictResolution is the user's decision for a single conflict.
type ConflictResolution string

const (
	KeepLocal  ConflictResolution = "KEEP_LOCAL"
	KeepRemote ConflictResolution = "KEEP_REMOTE"
	KeepBoth   ConflictResolution = "KEEP_BOTH"
	SkipItem   ConflictResolution = "SKIP"
)

// CachedItem is the metadata row for one locally cached content blob.
type CachedItem struct {
	ID            string    `json:"id"`
	LocalPath     string    `json:"local_path"`
	SizeBytes     int64     `json:"size_bytes"`
	LastAccessed  time.Time `json:"last_accessed"`
	AccessCount   int64     `json:"access_count"`
	PinnedOffline bool      `json:"pinned_offline"`
}

// EvictionScore balances recency and frequency: higher means more evictable.
func (c CachedItem) EvictionScore(now time.Time) float64 {
	age := now.Sub(c.LastAccessed).Hours()
	if age < 0 {
		age = 0
	}
	return (age + 1) / (float64(c.AccessCount) + 1)
}

// HistoryEntry is one line of the sync history log.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	ItemPath  string    `json:"item_path"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// SyncState is the phase of the reconciliation cycle.
type SyncState string

const (
	StateIdle      SyncState = "IDLE"
	StateDetecting SyncState = "DETECTING"
	StateApplying  SyncState = "APPLYING"
	StatePushing   SyncState = "PUSHING"
	StateError     SyncState = "ERROR"
)

// SyncStatus is a point-in-time snapshot of the engine, safe to read while
// a cycle runs.
type SyncStatus struct {
	State     SyncState
	LastSync  time.Time
	Applied   int
	Pushed    int
	Failed    int
	Conflicts int
	LastError string
}
