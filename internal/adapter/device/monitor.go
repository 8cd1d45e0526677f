// Package device is the signal hub for network, battery and application
// lifecycle inputs. The host platform feeds it; the policy engine and
// scheduler consume it as pull state plus a push stream.
package device

import (
	"sync"

	"go.uber.org/zap"

	"davsync/internal/domain"
)

// Monitor implements domain.DeviceMonitor.
type Monitor struct {
	log *zap.Logger

	mu    sync.Mutex
	state domain.DeviceState
	subs  []chan domain.DeviceState
}

// NewMonitor starts with the given initial state.
func NewMonitor(initial domain.DeviceState, log *zap.Logger) *Monitor {
	return &Monitor{log: log, state: initial}
}

// State returns the current snapshot.
func (m *Monitor) State() domain.DeviceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Changes returns a stream of state snapshots. Every transition is sent;
// slow consumers drop intermediate snapshots rather than block the feeder.
func (m *Monitor) Changes() <-chan domain.DeviceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan domain.DeviceState, 8)
	m.subs = append(m.subs, ch)
	return ch
}

// SetNetwork feeds a network-type transition.
func (m *Monitor) SetNetwork(n domain.NetworkType) {
	m.update(func(s *domain.DeviceState) { s.Network = n })
}

// SetBattery feeds a battery transition.
func (m *Monitor) SetBattery(level int, charging bool) {
	m.update(func(s *domain.DeviceState) {
		s.BatteryLevel = level
		s.Charging = charging
	})
}

// SetForeground feeds an application-lifecycle transition.
func (m *Monitor) SetForeground(fg bool) {
	m.update(func(s *domain.DeviceState) { s.Foreground = fg })
}

func (m *Monitor) update(apply func(*domain.DeviceState)) {
	m.mu.Lock()
	prev := m.state
	apply(&m.state)
	next := m.state
	subs := m.subs
	m.mu.Unlock()

	if prev == next {
		return
	}
	m.log.Debug("device state changed",
		zap.String("network", string(next.Network)),
		zap.Int("battery", next.BatteryLevel),
		zap.Bool("charging", next.Charging),
		zap.Bool("foreground", next.Foreground))
	for _, ch := range subs {
		select {
		case ch <- next:
		default:
		}
	}
}
