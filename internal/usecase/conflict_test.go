package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"davsync/internal/domain"
)

func TestClassifyConflict(t *testing.T) {
	modified := func(folder bool) domain.SyncChange {
		return domain.SyncChange{Type: domain.ChangeModified, IsFolder: folder}
	}
	deleted := domain.SyncChange{Type: domain.ChangeDeleted}

	tests := []struct {
		name   string
		local  domain.SyncChange
		remote domain.SyncChange
		exp    domain.ConflictType
	}{
		{"BothModified", modified(false), modified(false), domain.ConflictBothModified},
		{"DeletedLocally", deleted, modified(false), domain.ConflictDeletedLocally},
		{"DeletedRemotely", modified(false), deleted, domain.ConflictDeletedRemotely},
		{"TypeMismatch", modified(false), modified(true), domain.ConflictTypeMismatch},
		{"BothDeletedAgree", deleted, deleted, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.exp, classifyConflict(tt.local, tt.remote))
		})
	}
}

func TestDetectConflictsFiltersBothSides(t *testing.T) {
	h := newEngineHarness(t)

	local := []domain.SyncChange{
		{Type: domain.ChangeModified, ItemID: "/clash.txt", Item: remoteFile("/clash.txt", testNow), Timestamp: testNow.Add(-time.Minute)},
		{Type: domain.ChangeModified, ItemID: "/mine.txt", Item: remoteFile("/mine.txt", testNow), Timestamp: testNow},
	}
	rc := RemoteChanges{FileChanges: []domain.SyncChange{
		{Type: domain.ChangeModified, ItemID: "/clash.txt", Item: remoteFile("/clash.txt", testNow), Timestamp: testNow},
		{Type: domain.ChangeCreated, ItemID: "/theirs.txt", Item: remoteFile("/theirs.txt", testNow), Timestamp: testNow},
	}}

	filteredLocal, filteredRemote, err := h.engine.detectConflicts(local, rc)
	require.NoError(t, err)

	require.Len(t, filteredLocal, 1)
	assert.Equal(t, "/mine.txt", filteredLocal[0].ItemID)
	require.Len(t, filteredRemote.FileChanges, 1)
	assert.Equal(t, "/theirs.txt", filteredRemote.FileChanges[0].ItemID)

	conflicts, err := h.engine.Conflicts()
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "/clash.txt", conflicts[0].ItemID)
	assert.Equal(t, domain.ConflictBothModified, conflicts[0].Type)
	assert.NotEmpty(t, conflicts[0].ID)
}

func TestDetectConflictsNoOverlap(t *testing.T) {
	h := newEngineHarness(t)

	local := []domain.SyncChange{
		{Type: domain.ChangeModified, ItemID: "/a.txt", Item: remoteFile("/a.txt", testNow)},
	}
	rc := RemoteChanges{FileChanges: []domain.SyncChange{
		{Type: domain.ChangeModified, ItemID: "/b.txt", Item: remoteFile("/b.txt", testNow)},
	}}

	filteredLocal, filteredRemote, err := h.engine.detectConflicts(local, rc)
	require.NoError(t, err)
	assert.Equal(t, local, filteredLocal)
	assert.Equal(t, rc, filteredRemote)

	conflicts, _ := h.engine.Conflicts()
	assert.Empty(t, conflicts)
}

func savedConflict(t *testing.T, h *engineHarness) domain.SyncConflict {
	t.Helper()
	conflict := domain.SyncConflict{
		ID:             "conflict-1",
		ItemID:         "/docs/report.txt",
		ItemPath:       "/docs/report.txt",
		LocalModified:  testNow.Add(-time.Minute),
		RemoteModified: testNow,
		Type:           domain.ConflictBothModified,
		DetectedAt:     testNow,
	}
	require.NoError(t, h.state.SaveConflict(conflict))
	return conflict
}

func TestResolveConflictKeepLocal(t *testing.T) {
	h := newEngineHarness(t)
	conflict := savedConflict(t, h)
	h.cache.Put("/docs/report.txt", []byte("local version"), false)

	require.NoError(t, h.engine.ResolveConflict(context.Background(), conflict.ID, domain.KeepLocal))

	assert.Equal(t, []string{"upload /docs/report.txt"}, h.remote.opLog())
	assert.Equal(t, []byte("local version"), h.remote.downloads["/docs/report.txt"])

	conflicts, _ := h.engine.Conflicts()
	assert.Empty(t, conflicts)
}

func TestResolveConflictKeepRemote(t *testing.T) {
	h := newEngineHarness(t)
	conflict := savedConflict(t, h)
	h.cache.Put("/docs/report.txt", []byte("local version"), true)
	h.remote.downloads["/docs/report.txt"] = []byte("remote version")

	require.NoError(t, h.engine.ResolveConflict(context.Background(), conflict.ID, domain.KeepRemote))

	data, err := h.cache.Get("/docs/report.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("remote version"), data)
	// The offline pin survives resolution.
	assert.True(t, h.cache.Pinned("/docs/report.txt"))

	conflicts, _ := h.engine.Conflicts()
	assert.Empty(t, conflicts)
}

func TestResolveConflictKeepBoth(t *testing.T) {
	h := newEngineHarness(t)
	conflict := savedConflict(t, h)
	h.cache.Put("/docs/report.txt", []byte("local version"), false)
	h.remote.downloads["/docs/report.txt"] = []byte("remote version")

	require.NoError(t, h.engine.ResolveConflict(context.Background(), conflict.ID, domain.KeepBoth))

	// The local content survives as a sibling copy.
	copyID := "/docs/report.txt (local)"
	assert.Equal(t, []byte("local version"), h.remote.downloads[copyID])
	data, err := h.cache.Get(copyID)
	require.NoError(t, err)
	assert.Equal(t, []byte("local version"), data)

	// The original id now holds the remote version.
	data, err = h.cache.Get("/docs/report.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("remote version"), data)

	known, _ := h.state.KnownItem(copyID)
	assert.True(t, known)

	conflicts, _ := h.engine.Conflicts()
	assert.Empty(t, conflicts)
}

func TestResolveConflictSkipClearsRecordOnly(t *testing.T) {
	h := newEngineHarness(t)
	conflict := savedConflict(t, h)

	require.NoError(t, h.engine.ResolveConflict(context.Background(), conflict.ID, domain.SkipItem))

	assert.Empty(t, h.remote.opLog())
	conflicts, _ := h.engine.Conflicts()
	assert.Empty(t, conflicts)
}

func TestResolveConflictFailureKeepsRecord(t *testing.T) {
	h := newEngineHarness(t)
	conflict := savedConflict(t, h)
	// No cached content: KeepLocal cannot proceed.

	err := h.engine.ResolveConflict(context.Background(), conflict.ID, domain.KeepLocal)
	assert.ErrorIs(t, err, domain.ErrItemNotFoundLocally)

	// The record is only cleared after a successful resolution.
	conflicts, _ := h.engine.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, conflict.ID, conflicts[0].ID)
}

func TestResolveConflictNotFound(t *testing.T) {
	h := newEngineHarness(t)
	err := h.engine.ResolveConflict(context.Background(), "missing", domain.KeepLocal)
	assert.ErrorIs(t, err, domain.ErrConflictNotFound)
}

func TestResolveConflictRefusedWhileCycleRuns(t *testing.T) {
	h := newEngineHarness(t)
	conflict := savedConflict(t, h)

	gate := make(chan struct{})
	h.remote.listGate = gate
	done := make(chan error, 1)
	go func() { done <- h.engine.RunCycle(context.Background()) }()
	require.Eventually(t, func() bool {
		h.remote.mu.Lock()
		defer h.remote.mu.Unlock()
		return h.remote.listCalls >= 1
	}, time.Second, time.Millisecond)

	err := h.engine.ResolveConflict(context.Background(), conflict.ID, domain.SkipItem)
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)

	close(gate)
	require.NoError(t, <-done)

	// The record survived the refused attempt.
	conflicts, err := h.engine.Conflicts()
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, conflict.ID, conflicts[0].ID)
}
