// Package state persists the engine's durable surface in SQLite: the
// last-sync timestamp, the pending-changes set, conflict records, the
// cached-item table and the sync history log.
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"davsync/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS pending_changes (
	item_id   TEXT NOT NULL,
	type      TEXT NOT NULL,
	payload   TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	PRIMARY KEY (item_id, type)
);
CREATE TABLE IF NOT EXISTS conflicts (
	id      TEXT PRIMARY KEY,
	payload TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS known_items (
	item_id TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS cached_items (
	id             TEXT PRIMARY KEY,
	local_path     TEXT NOT NULL,
	size_bytes     INTEGER NOT NULL,
	last_accessed  INTEGER NOT NULL,
	access_count   INTEGER NOT NULL,
	pinned_offline INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS sync_history (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	operation TEXT NOT NULL,
	item_path TEXT NOT NULL,
	success   INTEGER NOT NULL,
	error     TEXT NOT NULL DEFAULT ''
);
`

const (
	keyLastSync      = "last_sync"
	keySyncRequested = "sync_requested"
)

// Store implements domain.StateStore over a SQLite database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if necessary) the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state db: %w", err)
	}
	// modernc sqlite serializes per connection; a single one avoids
	// SQLITE_BUSY between the engine and the scheduler.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) getKV(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) setKV(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// LastSyncTime returns the low-water mark for change detection, zero if no
// cycle ever completed.
func (s *Store) LastSyncTime() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok, err := s.getKV(keyLastSync)
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt last-sync timestamp: %w", err)
	}
	return t, nil
}

// SetLastSyncTime advances the low-water mark.
func (s *Store) SetLastSyncTime(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setKV(keyLastSync, t.UTC().Format(time.RFC3339Nano))
}

// PendingChanges returns the persisted pending set ordered by timestamp.
func (s *Store) PendingChanges() ([]domain.SyncChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT payload FROM pending_changes ORDER BY timestamp ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []domain.SyncChange
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var c domain.SyncChange
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("corrupt pending change: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// MergePending upserts changes into the pending set. A change with the same
// item id and type replaces the prior record, so merging never duplicates.
func (s *Store) MergePending(changes []domain.SyncChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range changes {
		payload, err := json.Marshal(c)
		if err != nil {
			return err
		}
		_, err = tx.Exec(
			`INSERT INTO pending_changes (item_id, type, payload, timestamp)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(item_id, type) DO UPDATE SET
			   payload = excluded.payload, timestamp = excluded.timestamp`,
			c.ItemID, string(c.Type), string(payload), c.Timestamp.UnixNano())
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ClearPending empties the pending set.
func (s *Store) ClearPending() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM pending_changes`)
	return err
}

// SaveConflict records (or re-records) a conflict.
func (s *Store) SaveConflict(c domain.SyncConflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO conflicts (id, payload) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`,
		c.ID, string(payload))
	return err
}

// Conflicts returns every unresolved conflict.
func (s *Store) Conflicts() ([]domain.SyncConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT payload FROM conflicts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []domain.SyncConflict
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var c domain.SyncConflict
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("corrupt conflict record: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// DeleteConflict clears a conflict record.
func (s *Store) DeleteConflict(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM conflicts WHERE id = ?`, id)
	return err
}

// MarkKnown records item ids the client has reconciled at least once.
// Known items reappearing in a remote listing classify as Modified, not
// Created.
func (s *Store) MarkKnown(itemIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, id := range itemIDs {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO known_items (item_id) VALUES (?)`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ForgetKnown drops an item from the known set, typically after a delete.
func (s *Store) ForgetKnown(itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM known_items WHERE item_id = ?`, itemID)
	return err
}

// KnownItem reports whether the item id was reconciled before.
func (s *Store) KnownItem(itemID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM known_items WHERE item_id = ?`, itemID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// KnownItems returns every reconciled item id, ordered by id.
func (s *Store) KnownItems() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT item_id FROM known_items ORDER BY item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveCachedItem upserts one cached-item metadata row.
func (s *Store) SaveCachedItem(item domain.CachedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO cached_items (id, local_path, size_bytes, last_accessed, access_count, pinned_offline)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   local_path = excluded.local_path,
		   size_bytes = excluded.size_bytes,
		   last_accessed = excluded.last_accessed,
		   access_count = excluded.access_count,
		   pinned_offline = excluded.pinned_offline`,
		item.ID, item.LocalPath, item.SizeBytes,
		item.LastAccessed.UnixNano(), item.AccessCount, boolToInt(item.PinnedOffline))
	return err
}

// DeleteCachedItem removes one metadata row.
func (s *Store) DeleteCachedItem(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM cached_items WHERE id = ?`, id)
	return err
}

// CachedItems returns every metadata row.
func (s *Store) CachedItems() ([]domain.CachedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, local_path, size_bytes, last_accessed, access_count, pinned_offline FROM cached_items`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.CachedItem
	for rows.Next() {
		var (
			item     domain.CachedItem
			accessed int64
			pinned   int
		)
		if err := rows.Scan(&item.ID, &item.LocalPath, &item.SizeBytes, &accessed, &item.AccessCount, &pinned); err != nil {
			return nil, err
		}
		item.LastAccessed = time.Unix(0, accessed)
		item.PinnedOffline = pinned != 0
		items = append(items, item)
	}
	return items, rows.Err()
}

// RecordHistory appends one history line.
func (s *Store) RecordHistory(h domain.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO sync_history (timestamp, operation, item_path, success, error)
		 VALUES (?, ?, ?, ?, ?)`,
		h.Timestamp.UnixNano(), h.Operation, h.ItemPath, boolToInt(h.Success), h.Error)
	return err
}

// History returns the most recent entries, newest first.
func (s *Store) History(limit int) ([]domain.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT id, timestamp, operation, item_path, success, error
		 FROM sync_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var (
			e       domain.HistoryEntry
			ts      int64
			success int
		)
		if err := rows.Scan(&e.ID, &ts, &e.Operation, &e.ItemPath, &success, &e.Error); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(0, ts)
		e.Success = success != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RequestSync sets the durable "sync requested" marker.
func (s *Store) RequestSync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setKV(keySyncRequested, "1")
}

// SyncRequested reports whether the marker is set.
func (s *Store) SyncRequested() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok, err := s.getKV(keySyncRequested)
	return ok && v == "1", err
}

// ClearSyncRequest clears the marker.
func (s *Store) ClearSyncRequest() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setKV(keySyncRequested, "0")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
