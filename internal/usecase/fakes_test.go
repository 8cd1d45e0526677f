package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"davsync/internal/domain"
)

// fakeRemote serves a static tree and records every mutating call in order.
type fakeRemote struct {
	mu        sync.Mutex
	tree      map[string][]domain.RemoteEntry // parent path -> entries
	downloads map[string][]byte

	listErr     error
	downloadErr map[string]error
	uploadErr   map[string]error

	listCalls int
	listGate  chan struct{} // when set, List blocks until the gate closes

	ops []string // "upload /a.txt", "delete /b.txt", ...
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		tree:        map[string][]domain.RemoteEntry{},
		downloads:   map[string][]byte{},
		downloadErr: map[string]error{},
		uploadErr:   map[string]error{},
	}
}

func (r *fakeRemote) addEntry(parent string, e domain.RemoteEntry) {
	r.tree[parent] = append(r.tree[parent], e)
}

func (r *fakeRemote) record(op string) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
}

func (r *fakeRemote) opLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func (r *fakeRemote) List(_ context.Context, path string) ([]domain.RemoteEntry, error) {
	r.mu.Lock()
	r.listCalls++
	gate := r.listGate
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.tree[path], nil
}

func (r *fakeRemote) Download(_ context.Context, id string) ([]byte, error) {
	r.record("download " + id)
	if err := r.downloadErr[id]; err != nil {
		return nil, err
	}
	data, ok := r.downloads[id]
	if !ok {
		return nil, &domain.HTTPError{Status: 404, Method: "GET", Path: id}
	}
	return data, nil
}

func (r *fakeRemote) Upload(_ context.Context, parentPath, name string, data []byte) (domain.RemoteEntry, error) {
	id := parentPath + "/" + name
	if parentPath == "/" {
		id = "/" + name
	}
	r.record("upload " + id)
	if err := r.uploadErr[id]; err != nil {
		return domain.RemoteEntry{}, err
	}
	r.mu.Lock()
	r.downloads[id] = append([]byte(nil), data...)
	r.mu.Unlock()
	return domain.RemoteEntry{ID: id, Path: id, Name: name, Size: int64(len(data))}, nil
}

func (r *fakeRemote) Delete(_ context.Context, id string) error {
	r.record("delete " + id)
	return nil
}

func (r *fakeRemote) Move(_ context.Context, id, newParentPath string) error {
	r.record("move " + id + " -> " + newParentPath)
	return nil
}

func (r *fakeRemote) Rename(_ context.Context, id, newName string) error {
	r.record("rename " + id + " -> " + newName)
	return nil
}

func (r *fakeRemote) Mkdir(_ context.Context, path string) error {
	r.record("mkdir " + path)
	return nil
}

// fakeCache is an unbounded in-memory CacheStore.
type fakeCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	pinned  map[string]bool
	budget  int64
	budgets []int64 // SetBudget call history
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}, pinned: map[string]bool{}}
}

func (c *fakeCache) Get(id string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.data[id]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return data, nil
}

func (c *fakeCache) Put(id string, data []byte, pinnedOffline bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[id] = append([]byte(nil), data...)
	c.pinned[id] = pinnedOffline
	return nil
}

func (c *fakeCache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[id]
	return ok
}

func (c *fakeCache) Pinned(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinned[id]
}

func (c *fakeCache) EnsureSpace(int64) error { return nil }

func (c *fakeCache) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, id)
	delete(c.pinned, id)
	return nil
}

func (c *fakeCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, pin := range c.pinned {
		if !pin {
			delete(c.data, id)
			delete(c.pinned, id)
		}
	}
	return nil
}

func (c *fakeCache) ClearOffline() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, pin := range c.pinned {
		if pin {
			delete(c.data, id)
			delete(c.pinned, id)
		}
	}
	return nil
}

func (c *fakeCache) ClearAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = map[string][]byte{}
	c.pinned = map[string]bool{}
	return nil
}

func (c *fakeCache) Usage() (nonPinned, pinned int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, data := range c.data {
		if c.pinned[id] {
			pinned += int64(len(data))
		} else {
			nonPinned += int64(len(data))
		}
	}
	return nonPinned, pinned
}

func (c *fakeCache) SetBudget(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.budget = n
	c.budgets = append(c.budgets, n)
}

func (c *fakeCache) currentBudget() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budget
}

// fakeState is an in-memory StateStore.
type fakeState struct {
	mu        sync.Mutex
	lastSync  time.Time
	pending   map[string]domain.SyncChange
	conflicts map[string]domain.SyncConflict
	known     map[string]bool
	cached    map[string]domain.CachedItem
	history   []domain.HistoryEntry
	requested bool
}

func newFakeState() *fakeState {
	return &fakeState{
		pending:   map[string]domain.SyncChange{},
		conflicts: map[string]domain.SyncConflict{},
		known:     map[string]bool{},
		cached:    map[string]domain.CachedItem{},
	}
}

func (s *fakeState) LastSyncTime() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync, nil
}

func (s *fakeState) SetLastSyncTime(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = t
	return nil
}

func (s *fakeState) PendingChanges() ([]domain.SyncChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changes := make([]domain.SyncChange, 0, len(s.pending))
	for _, c := range s.pending {
		changes = append(changes, c)
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].ItemID < changes[j].ItemID })
	return changes, nil
}

func (s *fakeState) MergePending(changes []domain.SyncChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range changes {
		s.pending[c.ItemID+"|"+string(c.Type)] = c
	}
	return nil
}

func (s *fakeState) ClearPending() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = map[string]domain.SyncChange{}
	return nil
}

func (s *fakeState) SaveConflict(c domain.SyncConflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts[c.ID] = c
	return nil
}

func (s *fakeState) Conflicts() ([]domain.SyncConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SyncConflict, 0, len(s.conflicts))
	for _, c := range s.conflicts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeState) DeleteConflict(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conflicts, id)
	return nil
}

func (s *fakeState) MarkKnown(itemIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range itemIDs {
		s.known[id] = true
	}
	return nil
}

func (s *fakeState) ForgetKnown(itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.known, itemID)
	return nil
}

func (s *fakeState) KnownItem(itemID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known[itemID], nil
}

func (s *fakeState) KnownItems() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.known))
	for id := range s.known {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *fakeState) SaveCachedItem(item domain.CachedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached[item.ID] = item
	return nil
}

func (s *fakeState) DeleteCachedItem(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cached, id)
	return nil
}

func (s *fakeState) CachedItems() ([]domain.CachedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CachedItem, 0, len(s.cached))
	for _, item := range s.cached {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeState) RecordHistory(h domain.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, h)
	return nil
}

func (s *fakeState) History(limit int) ([]domain.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	return append([]domain.HistoryEntry(nil), s.history[len(s.history)-limit:]...), nil
}

func (s *fakeState) RequestSync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requested = true
	return nil
}

func (s *fakeState) SyncRequested() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requested, nil
}

func (s *fakeState) ClearSyncRequest() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requested = false
	return nil
}

func (s *fakeState) historyOps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := make([]string, len(s.history))
	for i, h := range s.history {
		ops[i] = h.Operation
	}
	return ops
}

// fakeLocal returns a fixed change set.
type fakeLocal struct {
	changes []domain.SyncChange
	err     error
}

func (l *fakeLocal) Changes(time.Time) ([]domain.SyncChange, error) {
	return l.changes, l.err
}

// fakeMonitor pushes scripted device states.
type fakeMonitor struct {
	mu    sync.Mutex
	state domain.DeviceState
	ch    chan domain.DeviceState
}

func newFakeMonitor(initial domain.DeviceState) *fakeMonitor {
	return &fakeMonitor{state: initial, ch: make(chan domain.DeviceState, 8)}
}

func (m *fakeMonitor) State() domain.DeviceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *fakeMonitor) Changes() <-chan domain.DeviceState { return m.ch }

func (m *fakeMonitor) push(s domain.DeviceState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.ch <- s
}
