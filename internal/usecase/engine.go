package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"davsync/internal/domain"
)

// LocalSource supplies locally detected changes newer than a timestamp.
type LocalSource interface {
	Changes(since time.Time) ([]domain.SyncChange, error)
}

// RemoteChanges is the detection result, folders split out because they
// must be applied before the files they contain.
type RemoteChanges struct {
	FileChanges   []domain.SyncChange
	FolderChanges []domain.SyncChange
}

// Engine orchestrates change detection, application, push and conflict
// handling over the injected collaborators. At most one reconciliation
// cycle runs at a time; triggering while one is in flight is a no-op.
type Engine struct {
	remote  domain.RemoteDirectoryClient
	cache   domain.CacheStore
	state   domain.StateStore
	local   LocalSource
	online  func() bool
	profile func() domain.ResourceProfile
	clock   clockwork.Clock
	log     *zap.Logger

	syncing atomic.Bool
	status  atomic.Pointer[domain.SyncStatus]
}

// NewEngine wires the engine. local may be nil when no local tree is
// tracked (pull-only deployments); online must never be nil.
func NewEngine(
	remote domain.RemoteDirectoryClient,
	cache domain.CacheStore,
	state domain.StateStore,
	local LocalSource,
	online func() bool,
	profile func() domain.ResourceProfile,
	clock clockwork.Clock,
	log *zap.Logger,
) *Engine {
	e := &Engine{
		remote:  remote,
		cache:   cache,
		state:   state,
		local:   local,
		online:  online,
		profile: profile,
		clock:   clock,
		log:     log,
	}
	e.status.Store(&domain.SyncStatus{State: domain.StateIdle})
	return e
}

// Status returns a point-in-time snapshot, safe while a cycle runs.
func (e *Engine) Status() domain.SyncStatus { return *e.status.Load() }

func (e *Engine) setStatus(mutate func(*domain.SyncStatus)) {
	for {
		old := e.status.Load()
		next := *old
		mutate(&next)
		if e.status.CompareAndSwap(old, &next) {
			return
		}
	}
}

// LastSyncTime returns the low-water mark for change detection.
func (e *Engine) LastSyncTime() (time.Time, error) { return e.state.LastSyncTime() }

// SetLastSyncTime advances the low-water mark. Callers only do this after a
// whole cycle completed; RunCycle does it itself.
func (e *Engine) SetLastSyncTime(t time.Time) error { return e.state.SetLastSyncTime(t) }

// ChangesSince lists the current remote tree and classifies every entry
// newer than since. Entries never reconciled before classify as Created,
// the rest as Modified; known items missing from the listing become
// Deleted. Local state is not mutated.
func (e *Engine) ChangesSince(ctx context.Context, since time.Time) (RemoteChanges, error) {
	if !e.online() {
		return RemoteChanges{}, domain.ErrNetworkUnavailable
	}

	seen := make(map[string]struct{})
	var rc RemoteChanges
	if err := e.walkRemote(ctx, "/", since, seen, &rc); err != nil {
		return RemoteChanges{}, fmt.Errorf("failed to list remote tree: %w", err)
	}

	// Known items absent from the listing were deleted remotely. The whole
	// known set is checked, not just the cached subset: items reconciled
	// through the skip-download path have no cache entry but must still be
	// forgotten, or a later re-creation would classify as Modified.
	known, err := e.state.KnownItems()
	if err != nil {
		return RemoteChanges{}, err
	}
	now := e.clock.Now().UTC()
	for _, id := range known {
		if _, ok := seen[id]; ok {
			continue
		}
		rc.FileChanges = append(rc.FileChanges, domain.SyncChange{
			Type:      domain.ChangeDeleted,
			ItemID:    id,
			Item:      domain.RemoteEntry{ID: id, Path: id, Name: baseName(id)},
			Timestamp: now,
		})
	}

	sortByTimestamp(rc.FolderChanges)
	sortByTimestamp(rc.FileChanges)
	return rc, nil
}

func (e *Engine) walkRemote(ctx context.Context, dir string, since time.Time, seen map[string]struct{}, rc *RemoteChanges) error {
	entries, err := e.remote.List(ctx, dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		seen[entry.ID] = struct{}{}

		if entry.Modified.After(since) {
			changeType := domain.ChangeModified
			known, err := e.state.KnownItem(entry.ID)
			if err != nil {
				return err
			}
			if !known {
				changeType = domain.ChangeCreated
			}
			change := domain.SyncChange{
				Type:      changeType,
				ItemID:    entry.ID,
				IsFolder:  entry.IsFolder,
				Item:      entry,
				Timestamp: entry.Modified,
			}
			if entry.IsFolder {
				rc.FolderChanges = append(rc.FolderChanges, change)
			} else {
				rc.FileChanges = append(rc.FileChanges, change)
			}
		}

		if entry.IsFolder {
			if err := e.walkRemote(ctx, entry.Path, since, seen, rc); err != nil {
				return err
			}
		}
	}
	return nil
}

// ApplyRemoteChanges applies folder changes before file changes, and within
// folders Created/Modified before Deleted, each ordered by ascending
// timestamp. A single item failure is wrapped and reported without
// aborting the batch.
func (e *Engine) ApplyRemoteChanges(ctx context.Context, rc RemoteChanges) error {
	var errs []error

	creates, deletes := splitDeletes(rc.FolderChanges)
	for _, c := range append(creates, deletes...) {
		if err := e.applyFolderChange(c); err != nil {
			errs = append(errs, &domain.ItemError{Change: c, Err: err})
		}
	}

	limit := e.profile().MaxConcurrentOps
	if limit < 1 {
		limit = 1
	}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(limit)

	fileCreates, fileDeletes := splitDeletes(rc.FileChanges)
	for _, c := range fileCreates {
		c := c
		g.Go(func() error {
			if err := e.applyFileChange(ctx, c); err != nil {
				mu.Lock()
				errs = append(errs, &domain.ItemError{Change: c, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	for _, c := range fileDeletes {
		if err := e.applyFileChange(ctx, c); err != nil {
			errs = append(errs, &domain.ItemError{Change: c, Err: err})
		}
	}

	applied := len(rc.FolderChanges) + len(rc.FileChanges) - len(errs)
	e.setStatus(func(s *domain.SyncStatus) {
		s.Applied += applied
		s.Failed += len(errs)
	})
	return multierr.Combine(errs...)
}

func (e *Engine) applyFolderChange(c domain.SyncChange) error {
	switch c.Type {
	case domain.ChangeCreated, domain.ChangeModified, domain.ChangeMoved:
		return e.state.MarkKnown(c.ItemID)
	case domain.ChangeDeleted:
		// Drop every cached file under the folder, then the folder itself.
		cached, err := e.state.CachedItems()
		if err != nil {
			return err
		}
		prefix := strings.TrimSuffix(c.ItemID, "/") + "/"
		for _, item := range cached {
			if strings.HasPrefix(item.ID, prefix) {
				if err := e.cache.Remove(item.ID); err != nil {
					return err
				}
				if err := e.state.ForgetKnown(item.ID); err != nil {
					return err
				}
			}
		}
		return e.state.ForgetKnown(c.ItemID)
	}
	return nil
}

func (e *Engine) applyFileChange(ctx context.Context, c domain.SyncChange) error {
	switch c.Type {
	case domain.ChangeCreated, domain.ChangeModified:
		// Never speculatively download: only refresh content the cache
		// already holds or the user pinned for offline use.
		if !e.cache.Contains(c.ItemID) && !e.cache.Pinned(c.ItemID) {
			e.recordHistory("skip-download", c.Item.Path, true, "")
			return e.state.MarkKnown(c.ItemID)
		}
		data, err := e.remote.Download(ctx, c.ItemID)
		if err != nil {
			e.recordHistory("download", c.Item.Path, false, err.Error())
			return err
		}
		if err := e.cache.Put(c.ItemID, data, e.cache.Pinned(c.ItemID)); err != nil {
			e.recordHistory("download", c.Item.Path, false, err.Error())
			return err
		}
		e.recordHistory("download", c.Item.Path, true, "")
		return e.state.MarkKnown(c.ItemID)

	case domain.ChangeDeleted:
		if err := e.cache.Remove(c.ItemID); err != nil {
			return err
		}
		e.recordHistory("delete-local", c.Item.Path, true, "")
		return e.state.ForgetKnown(c.ItemID)

	case domain.ChangeMoved:
		e.recordHistory("move-local", c.Item.Path, true, "")
		return e.state.MarkKnown(c.ItemID)
	}
	return nil
}

// LocalChanges merges the persisted pending set with freshly tracked local
// deltas, one change per item id and type, ordered by timestamp.
func (e *Engine) LocalChanges() ([]domain.SyncChange, error) {
	pending, err := e.state.PendingChanges()
	if err != nil {
		return nil, err
	}

	merged := make(map[string]domain.SyncChange, len(pending))
	for _, c := range pending {
		merged[changeKey(c)] = c
	}
	if e.local != nil {
		since, err := e.state.LastSyncTime()
		if err != nil {
			return nil, err
		}
		tracked, err := e.local.Changes(since)
		if err != nil {
			return nil, err
		}
		for _, c := range tracked {
			if prev, ok := merged[changeKey(c)]; !ok || c.Timestamp.After(prev.Timestamp) {
				merged[changeKey(c)] = c
			}
		}
	}

	changes := make([]domain.SyncChange, 0, len(merged))
	for _, c := range merged {
		changes = append(changes, c)
	}
	sortByTimestamp(changes)
	return changes, nil
}

// PushLocalChanges uploads local deltas to the remote. When connectivity is
// missing the whole set is persisted as pending; per-item failures are
// persisted individually and the rest of the batch proceeds.
func (e *Engine) PushLocalChanges(ctx context.Context, changes []domain.SyncChange) error {
	if len(changes) == 0 {
		return nil
	}
	if !e.online() {
		if err := e.state.MergePending(changes); err != nil {
			return err
		}
		return domain.ErrNetworkUnavailable
	}

	var failed []domain.SyncChange
	var errs []error
	for _, c := range changes {
		if err := e.pushChange(ctx, c); err != nil {
			if errors.Is(err, domain.ErrItemNotFoundLocally) {
				// Dropped from this cycle; re-detected next cycle if the
				// content reappears.
				errs = append(errs, &domain.ItemError{Change: c, Err: err})
				continue
			}
			failed = append(failed, c)
			errs = append(errs, &domain.ItemError{Change: c, Err: err})
		}
	}

	if err := e.state.ClearPending(); err != nil {
		return err
	}
	if len(failed) > 0 {
		if err := e.state.MergePending(failed); err != nil {
			return err
		}
	}

	e.setStatus(func(s *domain.SyncStatus) {
		s.Pushed += len(changes) - len(errs)
		s.Failed += len(errs)
	})
	return multierr.Combine(errs...)
}

func (e *Engine) pushChange(ctx context.Context, c domain.SyncChange) error {
	switch {
	case c.IsFolder && (c.Type == domain.ChangeCreated || c.Type == domain.ChangeModified):
		if err := e.remote.Mkdir(ctx, c.Item.Path); err != nil {
			e.recordHistory("mkdir", c.Item.Path, false, err.Error())
			return err
		}
		e.recordHistory("mkdir", c.Item.Path, true, "")
		return e.state.MarkKnown(c.ItemID)

	case c.Type == domain.ChangeCreated || c.Type == domain.ChangeModified:
		data, err := e.cache.Get(c.ItemID)
		if err != nil {
			if errors.Is(err, domain.ErrCacheMiss) {
				e.recordHistory("upload", c.Item.Path, false, domain.ErrItemNotFoundLocally.Error())
				return domain.ErrItemNotFoundLocally
			}
			return err
		}
		if _, err := e.remote.Upload(ctx, c.Item.ParentPath(), c.Item.Name, data); err != nil {
			e.recordHistory("upload", c.Item.Path, false, err.Error())
			return err
		}
		e.recordHistory("upload", c.Item.Path, true, "")
		return e.state.MarkKnown(c.ItemID)

	case c.Type == domain.ChangeDeleted:
		if err := e.remote.Delete(ctx, c.ItemID); err != nil {
			e.recordHistory("delete-remote", c.Item.Path, false, err.Error())
			return err
		}
		if err := e.cache.Remove(c.ItemID); err != nil {
			return err
		}
		e.recordHistory("delete-remote", c.Item.Path, true, "")
		return e.state.ForgetKnown(c.ItemID)

	case c.Type == domain.ChangeMoved:
		if err := e.remote.Move(ctx, c.ItemID, c.Item.ParentPath()); err != nil {
			e.recordHistory("move-remote", c.Item.Path, false, err.Error())
			return err
		}
		e.recordHistory("move-remote", c.Item.Path, true, "")
		// The destination path is the item's id from here on.
		if err := e.state.ForgetKnown(c.ItemID); err != nil {
			return err
		}
		return e.state.MarkKnown(c.Item.Path)
	}
	return nil
}

func (e *Engine) recordHistory(op, path string, success bool, errMsg string) {
	err := e.state.RecordHistory(domain.HistoryEntry{
		Timestamp: e.clock.Now().UTC(),
		Operation: op,
		ItemPath:  path,
		Success:   success,
		Error:     errMsg,
	})
	if err != nil {
		e.log.Warn("failed to record history", zap.String("op", op), zap.Error(err))
	}
}

func changeKey(c domain.SyncChange) string { return c.ItemID + "|" + string(c.Type) }

func splitDeletes(changes []domain.SyncChange) (creates, deletes []domain.SyncChange) {
	for _, c := range changes {
		if c.Type == domain.ChangeDeleted {
			deletes = append(deletes, c)
		} else {
			creates = append(creates, c)
		}
	}
	return creates, deletes
}

func sortByTimestamp(changes []domain.SyncChange) {
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Timestamp.Equal(changes[j].Timestamp) {
			return changes[i].ItemID < changes[j].ItemID
		}
		return changes[i].Timestamp.Before(changes[j].Timestamp)
	})
}

func baseName(id string) string {
	if idx := strings.LastIndex(id, "/"); idx >= 0 {
		return id[idx+1:]
	}
	return id
}

// uuidString is split out so tests can pin conflict ids.
var uuidString = uuid.NewString
