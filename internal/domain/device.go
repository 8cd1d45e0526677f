package domain

import "time"

// NetworkType is the currently active connection kind.
type NetworkType string

const (
	NetworkNone     NetworkType = "none"
	NetworkMobile   NetworkType = "mobile"
	NetworkWifi     NetworkType = "wifi"
	NetworkEthernet NetworkType = "ethernet"
)

// Online reports whether any connectivity is present.
func (n NetworkType) Online() bool {
	return n != NetworkNone && n != ""
}

// Metered reports whether transfers on this network cost data budget.
func (n NetworkType) Metered() bool {
	return n == NetworkMobile
}

// HighSpeed reports whether the network is fast enough for aggressive sync.
func (n NetworkType) HighSpeed() bool {
	return n == NetworkWifi || n == NetworkEthernet
}

// DeviceClass scales the absolute resource baselines.
type DeviceClass string

const (
	DeviceDesktop DeviceClass = "desktop"
	DeviceTablet  DeviceClass = "tablet"
	DevicePhone   DeviceClass = "phone"
)

// DeviceState is the full set of input signals the policy engine reads.
type DeviceState struct {
	Class        DeviceClass
	Network      NetworkType
	BatteryLevel int // 0-100
	Charging     bool
	Foreground   bool
}

// UsageMode is a discrete operating posture that scales all limits together.
type UsageMode string

const (
	ModePerformance UsageMode = "PERFORMANCE"
	ModeNormal      UsageMode = "NORMAL"
	ModeDataSave    UsageMode = "DATA_SAVE"
	ModePowerSave   UsageMode = "POWER_SAVE"
	ModeMinimal     UsageMode = "MINIMAL"
	ModeCritical    UsageMode = "CRITICAL"
)

// ResourceProfile holds the operating limits derived from device state.
// It is recomputed wholesale on every signal change and never persisted.
type ResourceProfile struct {
	Mode             UsageMode
	MaxCacheSize     int64
	MaxConcurrentOps int
	PreloadDepth     int
	SyncInterval     time.Duration
	UseThumbnails    bool
	UseCompression   bool
	UseDeltaSync     bool
	BackgroundSync   bool
	SyncOnWifiOnly   bool
}
