// Package cache implements the local content store with a size budget and
// score-based eviction. Pinned (offline) entries are invisible to eviction
// and do not count against the budget.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"davsync/internal/domain"
)

// MetadataStore is the persisted side of the cached-item table. The store
// writes through on every mutation; a nil MetadataStore keeps metadata
// in memory only.
type MetadataStore interface {
	SaveCachedItem(item domain.CachedItem) error
	DeleteCachedItem(id string) error
	CachedItems() ([]domain.CachedItem, error)
}

// Store implements domain.CacheStore on top of an afero filesystem.
type Store struct {
	fs    afero.Fs
	dir   string
	clock clockwork.Clock
	meta  MetadataStore
	log   *zap.Logger

	mu        sync.Mutex
	items     map[string]*domain.CachedItem
	nonPinned int64
	pinned    int64
	budget    int64
}

// New creates a cache store rooted at dir with the given budget. Previously
// recorded items are rehydrated from the metadata store when one is given.
func New(fs afero.Fs, dir string, budget int64, clock clockwork.Clock, meta MetadataStore, log *zap.Logger) (*Store, error) {
	if err := fs.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	s := &Store{
		fs:     fs,
		dir:    dir,
		clock:  clock,
		meta:   meta,
		log:    log,
		items:  make(map[string]*domain.CachedItem),
		budget: budget,
	}

	if meta != nil {
		rows, err := meta.CachedItems()
		if err != nil {
			return nil, fmt.Errorf("failed to load cached items: %w", err)
		}
		for _, row := range rows {
			ok, err := afero.Exists(fs, row.LocalPath)
			if err != nil {
				return nil, err
			}
			if !ok {
				// Row without content: drop it rather than serve misses.
				if err := meta.DeleteCachedItem(row.ID); err != nil {
					return nil, err
				}
				continue
			}
			item := row
			s.items[item.ID] = &item
			s.account(item.PinnedOffline, item.SizeBytes)
		}
	}

	return s, nil
}

func (s *Store) account(pinned bool, delta int64) {
	if pinned {
		s.pinned += delta
	} else {
		s.nonPinned += delta
	}
}

// contentPath is content-addressed by item id so moves never relocate blobs.
func (s *Store) contentPath(id string) string {
	sum := sha256.Sum256([]byte(id))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:]))
}

// Get returns the cached content and bumps the access stats.
func (s *Store) Get(id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	data, err := afero.ReadFile(s.fs, item.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached content %s: %w", id, err)
	}

	item.LastAccessed = s.clock.Now()
	item.AccessCount++
	s.persist(*item)
	return data, nil
}

// Contains reports whether id has cached content, without touching stats.
func (s *Store) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[id]
	return ok
}

// Pinned reports whether id is pinned for offline use.
func (s *Store) Pinned(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	return ok && item.PinnedOffline
}

// Put stores content for id. Non-pinned writes make room first; if eviction
// cannot free enough space the write is rejected with ErrCacheFull.
func (s *Store) Put(id string, data []byte, pinnedOffline bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := int64(len(data))
	prevSize := int64(0)
	prevPinned := false
	if prev, ok := s.items[id]; ok {
		prevSize = prev.SizeBytes
		prevPinned = prev.PinnedOffline
	}

	if !pinnedOffline {
		need := size
		if !prevPinned {
			need -= prevSize // overwrite frees the old bytes
		}
		if err := s.ensureSpaceLocked(need); err != nil {
			return err
		}
	}

	path := s.contentPath(id)
	if err := afero.WriteFile(s.fs, path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cached content %s: %w", id, err)
	}

	if _, ok := s.items[id]; ok {
		s.account(prevPinned, -prevSize)
	}
	item := &domain.CachedItem{
		ID:            id,
		LocalPath:     path,
		SizeBytes:     size,
		LastAccessed:  s.clock.Now(),
		AccessCount:   1,
		PinnedOffline: pinnedOffline,
	}
	s.items[id] = item
	s.account(pinnedOffline, size)
	s.persist(*item)
	return nil
}

// EnsureSpace makes room for n more non-pinned bytes.
func (s *Store) EnsureSpace(n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureSpaceLocked(n)
}

// ensureSpaceLocked evicts non-pinned items in descending eviction-score
// order until n bytes fit. Pinned items are never candidates.
func (s *Store) ensureSpaceLocked(n int64) error {
	if s.nonPinned+n <= s.budget {
		return nil
	}
	if n > s.budget {
		// Can never fit; do not evict for nothing.
		return domain.ErrCacheFull
	}

	now := s.clock.Now()
	candidates := make([]*domain.CachedItem, 0, len(s.items))
	for _, item := range s.items {
		if !item.PinnedOffline {
			candidates = append(candidates, item)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].EvictionScore(now) > candidates[j].EvictionScore(now)
	})

	for _, victim := range candidates {
		if s.nonPinned+n <= s.budget {
			return nil
		}
		s.log.Debug("evicting cached item",
			zap.String("id", victim.ID),
			zap.Int64("size", victim.SizeBytes),
			zap.Float64("score", victim.EvictionScore(now)))
		if err := s.removeLocked(victim.ID); err != nil {
			return err
		}
	}

	if s.nonPinned+n <= s.budget {
		return nil
	}
	return domain.ErrCacheFull
}

// Remove deletes one entry regardless of pin state. Missing ids are a no-op.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return nil
	}
	return s.removeLocked(id)
}

func (s *Store) removeLocked(id string) error {
	item := s.items[id]
	if err := s.fs.Remove(item.LocalPath); err != nil {
		return fmt.Errorf("failed to remove cached content %s: %w", id, err)
	}
	s.account(item.PinnedOffline, -item.SizeBytes)
	delete(s.items, id)
	if s.meta != nil {
		if err := s.meta.DeleteCachedItem(id); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every non-pinned entry.
func (s *Store) Clear() error {
	return s.clearWhere(func(i *domain.CachedItem) bool { return !i.PinnedOffline })
}

// ClearOffline removes every pinned entry.
func (s *Store) ClearOffline() error {
	return s.clearWhere(func(i *domain.CachedItem) bool { return i.PinnedOffline })
}

// ClearAll empties the cache.
func (s *Store) ClearAll() error { return s.clearWhere(func(*domain.CachedItem) bool { return true }) }

func (s *Store) clearWhere(match func(*domain.CachedItem) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, item := range s.items {
		if match(item) {
			if err := s.removeLocked(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Usage returns the current non-pinned and pinned byte totals.
func (s *Store) Usage() (nonPinned, pinned int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonPinned, s.pinned
}

// Budget returns the current non-pinned byte budget.
func (s *Store) Budget() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget
}

// SetBudget applies a new budget and evicts down to it if it shrank.
// A budget exceeded by pinned content alone is surfaced elsewhere as a
// user-facing warning, not remediated here.
func (s *Store) SetBudget(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n == s.budget {
		return
	}
	s.budget = n
	if err := s.ensureSpaceLocked(0); err != nil {
		s.log.Warn("cache over budget after resize", zap.Int64("budget", n), zap.Error(err))
	}
}

func (s *Store) persist(item domain.CachedItem) {
	if s.meta == nil {
		return
	}
	if err := s.meta.SaveCachedItem(item); err != nil {
		s.log.Warn("failed to persist cache metadata", zap.String("id", item.ID), zap.Error(err))
	}
}
