// Package localfs detects changes in the local sync tree. A periodic scan
// compares modification times against the last reconciled timestamp; an
// fsnotify watcher captures edits between scans so a cycle never misses a
// write that landed mid-window.
package localfs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"davsync/internal/domain"
)

// Tracker produces SyncChange values for the engine's push path. Content of
// changed files is loaded into the cache store so the pusher reads from one
// place only.
type Tracker struct {
	fs     afero.Fs
	root   string
	ignore *Matcher
	cache  domain.CacheStore
	clock  clockwork.Clock
	log    *zap.Logger

	mu      sync.Mutex
	journal map[string]domain.SyncChange // keyed by itemID+type
}

// NewTracker creates a tracker over root.
func NewTracker(fs afero.Fs, root string, ignore *Matcher, cache domain.CacheStore, clock clockwork.Clock, log *zap.Logger) *Tracker {
	return &Tracker{
		fs:      fs,
		root:    root,
		ignore:  ignore,
		cache:   cache,
		clock:   clock,
		log:     log,
		journal: make(map[string]domain.SyncChange),
	}
}

// Changes returns local deltas newer than since: the scan results merged
// with the watcher journal, one change per item id and type.
func (t *Tracker) Changes(since time.Time) ([]domain.SyncChange, error) {
	merged := make(map[string]domain.SyncChange)

	scanned, err := t.scan(since)
	if err != nil {
		return nil, err
	}
	for _, c := range scanned {
		merged[c.ItemID+"|"+string(c.Type)] = c
	}

	t.mu.Lock()
	for k, c := range t.journal {
		if c.Timestamp.After(since) {
			merged[k] = c
		}
	}
	t.journal = make(map[string]domain.SyncChange)
	t.mu.Unlock()

	changes := make([]domain.SyncChange, 0, len(merged))
	for _, c := range merged {
		changes = append(changes, c)
	}
	return changes, nil
}

func (t *Tracker) scan(since time.Time) ([]domain.SyncChange, error) {
	var changes []domain.SyncChange
	err := afero.Walk(t.fs, t.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(t.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if t.ignore.Ignored(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() || !info.ModTime().After(since) {
			return nil
		}

		id := "/" + rel
		change, err := t.captureFile(id, p, info)
		if err != nil {
			t.log.Warn("skipping unreadable local file", zap.String("path", p), zap.Error(err))
			return nil
		}
		changes = append(changes, change)
		return nil
	})
	return changes, err
}

// captureFile loads the file content into the cache and builds the change.
// A known id is a modification, anything else a creation.
func (t *Tracker) captureFile(id, absPath string, info os.FileInfo) (domain.SyncChange, error) {
	data, err := afero.ReadFile(t.fs, absPath)
	if err != nil {
		return domain.SyncChange{}, err
	}

	changeType := domain.ChangeCreated
	if t.cache.Contains(id) {
		changeType = domain.ChangeModified
	}
	if err := t.cache.Put(id, data, t.cache.Pinned(id)); err != nil {
		return domain.SyncChange{}, err
	}

	return domain.SyncChange{
		Type:     changeType,
		ItemID:   id,
		IsFolder: false,
		Item: domain.RemoteEntry{
			ID:       id,
			Path:     id,
			Name:     filepath.Base(absPath),
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
		},
		Timestamp: info.ModTime().UTC(),
	}, nil
}

// Watch runs the fsnotify loop until ctx is cancelled. Subdirectories are
// added as they appear; deletions and renames journal a Deleted change.
func (t *Tracker) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := t.addRecursive(watcher, t.root); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			t.handleEvent(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.log.Warn("watcher error", zap.Error(err))
		}
	}
}

func (t *Tracker) addRecursive(watcher *fsnotify.Watcher, dir string) error {
	return afero.Walk(t.fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(t.root, p)
		if rel != "." && t.ignore.Ignored(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		return watcher.Add(p)
	})
}

func (t *Tracker) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	rel, err := filepath.Rel(t.root, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if t.ignore.Ignored(rel) {
		return
	}
	id := "/" + rel

	switch {
	case event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Write):
		info, err := t.fs.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if event.Op.Has(fsnotify.Create) {
				if err := t.addRecursive(watcher, event.Name); err != nil {
					t.log.Warn("failed to watch new directory", zap.String("path", event.Name), zap.Error(err))
				}
				t.record(domain.SyncChange{
					Type:      domain.ChangeCreated,
					ItemID:    id,
					IsFolder:  true,
					Item:      domain.RemoteEntry{ID: id, Path: id, Name: filepath.Base(id), IsFolder: true},
					Timestamp: t.clock.Now().UTC(),
				})
			}
			return
		}
		change, err := t.captureFile(id, event.Name, info)
		if err != nil {
			t.log.Warn("failed to capture changed file", zap.String("path", event.Name), zap.Error(err))
			return
		}
		change.Timestamp = t.clock.Now().UTC()
		t.record(change)

	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		t.record(domain.SyncChange{
			Type:      domain.ChangeDeleted,
			ItemID:    id,
			IsFolder:  false,
			Item:      domain.RemoteEntry{ID: id, Path: id, Name: filepath.Base(id)},
			Timestamp: t.clock.Now().UTC(),
		})
	}
}

func (t *Tracker) record(c domain.SyncChange) {
	t.mu.Lock()
	t.journal[c.ItemID+"|"+string(c.Type)] = c
	t.mu.Unlock()
	t.log.Debug("local change recorded",
		zap.String("type", string(c.Type)),
		zap.String("item", strings.TrimPrefix(c.ItemID, "/")))
}
