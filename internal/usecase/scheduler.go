package usecase

import (
	"context"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"davsync/internal/domain"
)

// Scheduler triggers reconciliation cycles from a periodic timer and from
// device-signal transitions. Every trigger passes an ordered gate; a
// failing condition skips the cycle silently, which is an expected and
// frequent outcome rather than a fault.
type Scheduler struct {
	engine  *Engine
	device  domain.DeviceMonitor
	cache   domain.CacheStore
	state   domain.StateStore
	clock   clockwork.Clock
	log     *zap.Logger
	profile atomic.Pointer[domain.ResourceProfile]
}

// NewScheduler wires the scheduler and seeds the profile snapshot from the
// current device state.
func NewScheduler(engine *Engine, device domain.DeviceMonitor, cache domain.CacheStore, state domain.StateStore, clock clockwork.Clock, log *zap.Logger) *Scheduler {
	s := &Scheduler{
		engine: engine,
		device: device,
		cache:  cache,
		state:  state,
		clock:  clock,
		log:    log,
	}
	s.applyProfile(device.State())
	return s
}

// Profile returns the current resource-profile snapshot. Consumers read it
// atomically; recomputation swaps in a brand-new value.
func (s *Scheduler) Profile() domain.ResourceProfile { return *s.profile.Load() }

// applyProfile recomputes the profile wholesale and fans the new limits out
// to its consumers.
func (s *Scheduler) applyProfile(state domain.DeviceState) (changed bool) {
	next := ProfileFor(state)
	prev := s.profile.Swap(&next)
	if prev != nil && *prev == next {
		return false
	}
	s.cache.SetBudget(next.MaxCacheSize)
	s.log.Info("resource profile recomputed",
		zap.String("mode", string(next.Mode)),
		zap.Int64("cache_budget", next.MaxCacheSize),
		zap.Int("concurrency", next.MaxConcurrentOps),
		zap.Duration("interval", next.SyncInterval))
	return true
}

// RequestBackgroundSync leaves a durable marker instead of touching live
// engine state; the run loop picks it up on its next wake. This is the
// hand-off point for isolated background execution contexts.
func (s *Scheduler) RequestBackgroundSync() error { return s.state.RequestSync() }

// Run drives the timer and device-signal loop until ctx is cancelled. The
// timer is re-armed whenever a profile change alters the sync interval.
func (s *Scheduler) Run(ctx context.Context) error {
	changes := s.device.Changes()
	timer := s.clock.NewTimer(s.Profile().SyncInterval)
	defer timer.Stop()

	wasOnline := s.device.State().Network.Online()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.Chan():
			s.trySync(ctx, "timer")
			timer.Reset(s.Profile().SyncInterval)

		case state, ok := <-changes:
			if !ok {
				return nil
			}
			interval := s.Profile().SyncInterval
			if s.applyProfile(state) && s.Profile().SyncInterval != interval {
				timer.Reset(s.Profile().SyncInterval)
			}
			online := state.Network.Online()
			if online && !wasOnline {
				s.trySync(ctx, "connectivity-regained")
			}
			wasOnline = online
		}
	}
}

// trySync runs one cycle if every gating condition passes. The engine's
// own single-flight flag makes a trigger during a running cycle a no-op.
func (s *Scheduler) trySync(ctx context.Context, reason string) {
	if skip := s.gate(); skip != "" {
		s.log.Debug("sync skipped", zap.String("reason", skip), zap.String("trigger", reason))
		return
	}

	if err := s.engine.RunIfRequested(ctx); err != nil {
		s.log.Warn("requested sync failed", zap.Error(err))
	}
	if err := s.engine.RunCycle(ctx); err != nil {
		s.log.Warn("scheduled sync failed", zap.String("trigger", reason), zap.Error(err))
	}
}

// gate evaluates the skip conditions in their contractual order and names
// the first one that fails.
func (s *Scheduler) gate() string {
	profile := s.Profile()
	device := s.device.State()

	switch {
	case !profile.BackgroundSync:
		return "background sync disabled"
	case !device.Network.Online():
		return "no connectivity"
	case profile.Mode == domain.ModeCritical:
		return "no budget for normal-priority operations"
	case profile.SyncOnWifiOnly && !device.Network.HighSpeed():
		return "waiting for wifi"
	case device.BatteryLevel < 10 && !device.Charging:
		return "battery critically low"
	default:
		return ""
	}
}
