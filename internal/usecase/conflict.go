package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"davsync/internal/domain"
)

// detectConflicts pairs local and remote changes on the same item id that
// both diverged since the last reconciled timestamp. Conflicting pairs are
// removed from both sides and recorded for the user; nothing is ever
// auto-resolved.
func (e *Engine) detectConflicts(local []domain.SyncChange, rc RemoteChanges) ([]domain.SyncChange, RemoteChanges, error) {
	remoteByID := make(map[string]domain.SyncChange)
	for _, c := range rc.FileChanges {
		remoteByID[c.ItemID] = c
	}
	for _, c := range rc.FolderChanges {
		remoteByID[c.ItemID] = c
	}

	conflicted := make(map[string]struct{})
	for _, lc := range local {
		remoteChange, ok := remoteByID[lc.ItemID]
		if !ok {
			continue
		}
		conflictType := classifyConflict(lc, remoteChange)
		if conflictType == "" {
			continue
		}

		conflict := domain.SyncConflict{
			ID:             uuidString(),
			ItemID:         lc.ItemID,
			ItemPath:       remoteChange.Item.Path,
			LocalModified:  lc.Timestamp,
			RemoteModified: remoteChange.Timestamp,
			LocalSize:      lc.Item.Size,
			RemoteSize:     remoteChange.Item.Size,
			Type:           conflictType,
			DetectedAt:     e.clock.Now().UTC(),
		}
		if err := e.state.SaveConflict(conflict); err != nil {
			return nil, RemoteChanges{}, err
		}
		conflicted[lc.ItemID] = struct{}{}
		e.log.Info("conflict detected",
			zap.String("path", conflict.ItemPath),
			zap.String("type", string(conflict.Type)))
	}

	if len(conflicted) == 0 {
		return local, rc, nil
	}

	filteredLocal := local[:0:0]
	for _, c := range local {
		if _, ok := conflicted[c.ItemID]; !ok {
			filteredLocal = append(filteredLocal, c)
		}
	}
	var filteredRemote RemoteChanges
	for _, c := range rc.FolderChanges {
		if _, ok := conflicted[c.ItemID]; !ok {
			filteredRemote.FolderChanges = append(filteredRemote.FolderChanges, c)
		}
	}
	for _, c := range rc.FileChanges {
		if _, ok := conflicted[c.ItemID]; !ok {
			filteredRemote.FileChanges = append(filteredRemote.FileChanges, c)
		}
	}
	return filteredLocal, filteredRemote, nil
}

func classifyConflict(local, remote domain.SyncChange) domain.ConflictType {
	localDeleted := local.Type == domain.ChangeDeleted
	remoteDeleted := remote.Type == domain.ChangeDeleted
	switch {
	case localDeleted && remoteDeleted:
		return "" // both sides agree
	case localDeleted:
		return domain.ConflictDeletedLocally
	case remoteDeleted:
		return domain.ConflictDeletedRemotely
	case local.IsFolder != remote.IsFolder:
		return domain.ConflictTypeMismatch
	default:
		return domain.ConflictBothModified
	}
}

// Conflicts returns the unresolved conflict list.
func (e *Engine) Conflicts() ([]domain.SyncConflict, error) { return e.state.Conflicts() }

// ResolveConflict applies the user's decision. Resolution is refused while
// a reconciliation cycle is in flight, since both mutate the cache and the
// known set. Clearing the conflict record is always the last step, so a
// crash mid-resolution re-raises the conflict on the next detection instead
// of silently dropping it.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, resolution domain.ConflictResolution) error {
	if e.syncing.Load() {
		return domain.ErrSyncInProgress
	}
	conflicts, err := e.state.Conflicts()
	if err != nil {
		return err
	}
	var conflict *domain.SyncConflict
	for i := range conflicts {
		if conflicts[i].ID == conflictID {
			conflict = &conflicts[i]
			break
		}
	}
	if conflict == nil {
		return domain.ErrConflictNotFound
	}

	switch resolution {
	case domain.KeepLocal:
		if err := e.resolveKeepLocal(ctx, conflict); err != nil {
			return err
		}
	case domain.KeepRemote:
		if err := e.resolveKeepRemote(ctx, conflict); err != nil {
			return err
		}
	case domain.KeepBoth:
		if err := e.resolveKeepBoth(ctx, conflict); err != nil {
			return err
		}
	case domain.SkipItem:
		// Clears the record without mutating either side.
	default:
		return fmt.Errorf("unknown resolution: %s", resolution)
	}

	e.recordHistory("resolve-"+string(resolution), conflict.ItemPath, true, "")
	return e.state.DeleteConflict(conflictID)
}

// resolveKeepLocal pushes the local version as a remote modification.
func (e *Engine) resolveKeepLocal(ctx context.Context, c *domain.SyncConflict) error {
	entry := domain.RemoteEntry{ID: c.ItemID, Path: c.ItemPath, Name: baseName(c.ItemPath)}
	data, err := e.cache.Get(c.ItemID)
	if err != nil {
		if errors.Is(err, domain.ErrCacheMiss) {
			return domain.ErrItemNotFoundLocally
		}
		return err
	}
	if _, err := e.remote.Upload(ctx, entry.ParentPath(), entry.Name, data); err != nil {
		return err
	}
	return e.state.MarkKnown(c.ItemID)
}

// resolveKeepRemote applies the remote version locally.
func (e *Engine) resolveKeepRemote(ctx context.Context, c *domain.SyncConflict) error {
	data, err := e.remote.Download(ctx, c.ItemID)
	if err != nil {
		return err
	}
	if err := e.cache.Put(c.ItemID, data, e.cache.Pinned(c.ItemID)); err != nil {
		return err
	}
	return e.state.MarkKnown(c.ItemID)
}

// resolveKeepBoth uploads the prior local content under "<name> (local)" in
// the same folder, then applies the remote version onto the original id.
func (e *Engine) resolveKeepBoth(ctx context.Context, c *domain.SyncConflict) error {
	entry := domain.RemoteEntry{ID: c.ItemID, Path: c.ItemPath, Name: baseName(c.ItemPath)}
	localData, err := e.cache.Get(c.ItemID)
	if err != nil {
		if errors.Is(err, domain.ErrCacheMiss) {
			return domain.ErrItemNotFoundLocally
		}
		return err
	}

	copyName := entry.Name + " (local)"
	copyEntry, err := e.remote.Upload(ctx, entry.ParentPath(), copyName, localData)
	if err != nil {
		return err
	}
	if err := e.cache.Put(copyEntry.ID, localData, false); err != nil {
		return err
	}
	if err := e.state.MarkKnown(copyEntry.ID); err != nil {
		return err
	}

	return e.resolveKeepRemote(ctx, c)
}
