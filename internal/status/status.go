// Package status provides a thread-safe telemetry tracker for the logger
// daemon. Every concurrently scheduled consumer (HTTP, MQTT, log writers)
// reads it through Snapshot so multi-field reads never tear.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/esk8-logger/internal/gps"
	"github.com/sweeney/esk8-logger/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/wifi from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Device         string
	ActivePeriodMs int64
	IdlePeriodMs   int64
	Broker         string
	HTTPAddr       string
	LogDir         string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	State      logic.DeviceState
	Current    float64
	Voltage    float64
	SensorOK   bool
	LastSample time.Time

	Fix       gps.Fix
	TripKm    float64
	RideStart time.Time

	ManualRideStart bool
	Wifi            string
	ClientConnected bool
	UploadRunning   bool
	PendingLogs     int

	// Zero until the first storage check.
	StorageFree  uint64
	StorageTotal uint64

	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// RideDuration returns how long the current ride or charge has lasted, or
// zero when parked.
func (s Snapshot) RideDuration() time.Duration {
	if s.RideStart.IsZero() {
		return 0
	}
	return s.Now.Sub(s.RideStart)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu      sync.RWMutex
	snap    Snapshot
	lastFix gps.Fix
	now     func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			State:     logic.StateParked,
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// SetClock overrides the clock used to stamp snapshots. Tests only.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// UpdateReadings records a successful sensor sample.
func (t *Tracker) UpdateReadings(current, voltage float64, at time.Time) {
	t.mu.Lock()
	t.snap.Current = current
	t.snap.Voltage = voltage
	t.snap.SensorOK = true
	t.snap.LastSample = at
	t.mu.Unlock()
}

// MarkSensorFailed flags the last sample as unavailable while keeping the
// previous readings on display.
func (t *Tracker) MarkSensorFailed() {
	t.mu.Lock()
	t.snap.SensorOK = false
	t.mu.Unlock()
}

// UpdateFix stores a GPS fix. While riding, distance between consecutive
// valid fixes is added to the trip.
func (t *Tracker) UpdateFix(fix gps.Fix) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.State == logic.StateRiding && fix.Valid && t.lastFix.Valid {
		t.snap.TripKm += gps.HaversineKm(t.lastFix.Latitude, t.lastFix.Longitude, fix.Latitude, fix.Longitude)
	}
	t.snap.Fix = fix
	if fix.Valid {
		t.lastFix = fix
	}
}

// SetState mirrors the device state. Entering Riding or Charging resets
// the trip counters.
func (t *Tracker) SetState(s logic.DeviceState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s == t.snap.State {
		return
	}
	t.snap.State = s
	if s.Active() {
		t.snap.TripKm = 0
		t.snap.RideStart = t.now()
		t.lastFix = gps.Fix{}
	} else {
		t.snap.RideStart = time.Time{}
	}
}

// ResetTrip zeroes the trip distance and restarts the ride clock.
func (t *Tracker) ResetTrip() {
	t.mu.Lock()
	t.snap.TripKm = 0
	t.lastFix = gps.Fix{}
	if t.snap.State.Active() {
		t.snap.RideStart = t.now()
	}
	t.mu.Unlock()
}

// SetManualRideStart mirrors the setting for display.
func (t *Tracker) SetManualRideStart(on bool) {
	t.mu.Lock()
	t.snap.ManualRideStart = on
	t.mu.Unlock()
}

// SetGates records the sleep-gate inputs observed this cycle.
func (t *Tracker) SetGates(wifi string, clientConnected, uploadRunning bool, pendingLogs int) {
	t.mu.Lock()
	t.snap.Wifi = wifi
	t.snap.ClientConnected = clientConnected
	t.snap.UploadRunning = uploadRunning
	t.snap.PendingLogs = pendingLogs
	t.mu.Unlock()
}

// SetStorage records free and total bytes on the log filesystem.
func (t *Tracker) SetStorage(free, total uint64) {
	t.mu.Lock()
	t.snap.StorageFree = free
	t.snap.StorageTotal = total
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	now := t.now
	t.mu.RUnlock()
	s.Now = now()
	return s
}
