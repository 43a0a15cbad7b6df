// Package logic contains the pure activity model of the logger: device
// states, transition events, the transition table and the current-based
// activity classifier.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// DeviceState is the operating mode of the board.
type DeviceState string

const (
	StateParked   DeviceState = "PARKED"
	StateRiding   DeviceState = "RIDING"
	StateCharging DeviceState = "CHARGING"
)

// Valid reports whether s is one of the known states.
func (s DeviceState) Valid() bool {
	switch s {
	case StateParked, StateRiding, StateCharging:
		return true
	}
	return false
}

// Active reports whether s runs the fast sampling cadence.
func (s DeviceState) Active() bool {
	return s == StateRiding || s == StateCharging
}

// EventType names a cause for a state transition.
type EventType string

const (
	EventRideDetected   EventType = "RIDE_DETECTED"
	EventChargeDetected EventType = "CHARGE_DETECTED"
	EventChargeFinished EventType = "CHARGE_FINISHED"
	EventIdleTimeout    EventType = "IDLE_TIMEOUT"
	EventManualStart    EventType = "MANUAL_START"
	EventManualStop     EventType = "MANUAL_STOP"
)

// TransitionRequest is produced by the classifier (or a command) and
// consumed by the state manager. From records the state the request was
// computed against so stale requests can be discarded.
type TransitionRequest struct {
	Event     EventType
	From      DeviceState
	To        DeviceState
	Timestamp time.Time
}

// Thresholds configures the classifier.
type Thresholds struct {
	// Riding is the discharge current (A) above which the board is ridden.
	Riding float64
	// Charging is the current (A) below which the pack is charging.
	Charging float64
	// IdleTimeout is how long current must stay in the dead zone while
	// riding before the board counts as parked again.
	IdleTimeout time.Duration
}

// DefaultThresholds returns the thresholds tuned for the stock shunt.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Riding:      0.1,
		Charging:    -0.1,
		IdleTimeout: 30 * time.Second,
	}
}
