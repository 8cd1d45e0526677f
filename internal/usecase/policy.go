package usecase

import (
	"time"

	"davsync/internal/domain"
)

// baseCacheSize is the cache budget before the mode multiplier is applied.
func baseCacheSize(class domain.DeviceClass) int64 {
	switch class {
	case domain.DeviceDesktop:
		return 2 << 30 // 2 GiB
	case domain.DeviceTablet:
		return 1 << 30
	default:
		return 512 << 20
	}
}

// cacheMultiplier scales the cache budget monotonically with mode severity.
func cacheMultiplier(mode domain.UsageMode) float64 {
	switch mode {
	case domain.ModePerformance:
		return 1.0
	case domain.ModeNormal:
		return 0.8
	case domain.ModeDataSave:
		return 0.6
	case domain.ModePowerSave:
		return 0.4
	case domain.ModeMinimal:
		return 0.2
	default: // Critical
		return 0.1
	}
}

// usageMode decides the operating posture. The priority order is an explicit
// design choice: background beats everything, charging beats battery level,
// battery level beats metering.
func usageMode(s domain.DeviceState) domain.UsageMode {
	switch {
	case !s.Foreground:
		return domain.ModeMinimal
	case s.Charging && s.Network.HighSpeed():
		return domain.ModePerformance
	case s.Charging:
		return domain.ModeNormal
	case s.BatteryLevel < 10:
		return domain.ModeCritical
	case s.BatteryLevel < 20:
		return domain.ModePowerSave
	case s.Network.Metered():
		return domain.ModeDataSave
	default:
		return domain.ModeNormal
	}
}

// ProfileFor derives the full set of operating limits from device state.
// It is a pure function: the same inputs always yield the same profile, and
// every signal change recomputes the whole profile rather than patching one.
func ProfileFor(s domain.DeviceState) domain.ResourceProfile {
	mode := usageMode(s)

	p := domain.ResourceProfile{
		Mode:         mode,
		MaxCacheSize: int64(float64(baseCacheSize(s.Class)) * cacheMultiplier(mode)),
	}

	switch mode {
	case domain.ModePerformance:
		p.MaxConcurrentOps = 6
		if s.Network.HighSpeed() {
			p.MaxConcurrentOps = 8
			p.SyncInterval = 15 * time.Minute
		} else {
			p.SyncInterval = 30 * time.Minute
		}
		p.PreloadDepth = 3
	case domain.ModeNormal:
		p.MaxConcurrentOps = 4
		p.SyncInterval = 30 * time.Minute
		p.PreloadDepth = 2
	case domain.ModeDataSave:
		p.MaxConcurrentOps = 2
		p.SyncInterval = 60 * time.Minute
		p.PreloadDepth = 1
	case domain.ModePowerSave:
		p.MaxConcurrentOps = 2
		p.SyncInterval = 90 * time.Minute
		p.PreloadDepth = 1
	case domain.ModeMinimal:
		p.MaxConcurrentOps = 1
		p.SyncInterval = 120 * time.Minute
	default: // Critical
		p.MaxConcurrentOps = 1
		p.SyncInterval = 240 * time.Minute
	}
	if p.MaxConcurrentOps < 1 {
		p.MaxConcurrentOps = 1
	}

	p.UseThumbnails = mode != domain.ModeMinimal && mode != domain.ModeCritical
	p.UseCompression = s.Network.Metered() ||
		mode == domain.ModeDataSave || mode == domain.ModePowerSave
	p.UseDeltaSync = mode != domain.ModeCritical
	p.BackgroundSync = mode != domain.ModeCritical && mode != domain.ModeMinimal
	p.SyncOnWifiOnly = mode == domain.ModeDataSave || s.Network.Metered()

	return p
}
