package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"davsync/internal/domain"
)

// RunCycle performs one full reconciliation: detect, apply, push. The
// last-sync timestamp only advances when the whole cycle completes without
// a connectivity failure; partial cycles leave it untouched so the next
// run re-evaluates the same window. A second caller while a cycle is in
// flight observes immediate completion.
func (e *Engine) RunCycle(ctx context.Context) error {
	if !e.syncing.CompareAndSwap(false, true) {
		e.log.Debug("sync cycle already running, skipping")
		return nil
	}
	defer e.syncing.Store(false)

	cycleStart := e.clock.Now().UTC()
	since, err := e.state.LastSyncTime()
	if err != nil {
		return e.failCycle(err)
	}

	e.setStatus(func(s *domain.SyncStatus) {
		s.State = domain.StateDetecting
		s.Applied, s.Pushed, s.Failed, s.Conflicts = 0, 0, 0, 0
		s.LastError = ""
	})
	e.log.Info("sync cycle starting", zap.Time("since", since))

	// Local changes are captured and made durable before anything can
	// fail, so a dead cycle never loses a tracked edit.
	local, err := e.LocalChanges()
	if err != nil {
		return e.failCycle(err)
	}
	if len(local) > 0 {
		if err := e.state.MergePending(local); err != nil {
			return e.failCycle(err)
		}
	}

	remote, err := e.ChangesSince(ctx, since)
	if err != nil {
		return e.failCycle(err)
	}

	local, remote, err = e.detectConflicts(local, remote)
	if err != nil {
		return e.failCycle(err)
	}
	conflicts, err := e.state.Conflicts()
	if err != nil {
		return e.failCycle(err)
	}
	e.setStatus(func(s *domain.SyncStatus) { s.Conflicts = len(conflicts) })

	e.setStatus(func(s *domain.SyncStatus) { s.State = domain.StateApplying })
	if err := e.ApplyRemoteChanges(ctx, remote); err != nil {
		// Item-scoped failures: reported, cycle continues.
		e.log.Warn("some remote changes failed to apply", zap.Error(err))
	}

	e.setStatus(func(s *domain.SyncStatus) { s.State = domain.StatePushing })
	if err := e.PushLocalChanges(ctx, local); err != nil {
		if errors.Is(err, domain.ErrNetworkUnavailable) {
			return e.failCycle(err)
		}
		e.log.Warn("some local changes failed to push", zap.Error(err))
	}

	if err := e.state.SetLastSyncTime(cycleStart); err != nil {
		return e.failCycle(err)
	}
	e.setStatus(func(s *domain.SyncStatus) {
		s.State = domain.StateIdle
		s.LastSync = cycleStart
	})
	status := e.Status()
	e.log.Info("sync cycle completed",
		zap.Int("applied", status.Applied),
		zap.Int("pushed", status.Pushed),
		zap.Int("failed", status.Failed),
		zap.Int("conflicts", status.Conflicts))
	return nil
}

func (e *Engine) failCycle(err error) error {
	e.setStatus(func(s *domain.SyncStatus) {
		s.State = domain.StateError
		s.LastError = err.Error()
	})
	e.log.Error("sync cycle failed", zap.Error(err))
	return err
}

// RunIfRequested consumes the durable "sync requested" marker left by an
// isolated background trigger and runs a cycle for it.
func (e *Engine) RunIfRequested(ctx context.Context) error {
	requested, err := e.state.SyncRequested()
	if err != nil {
		return err
	}
	if !requested {
		return nil
	}
	if err := e.state.ClearSyncRequest(); err != nil {
		return err
	}
	return e.RunCycle(ctx)
}
