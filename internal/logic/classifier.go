package logic

import (
	"math"
	"time"
)

// Classifier turns instantaneous pack current into transition requests.
// It keeps only the idle window; the device state is passed in on every
// call and never mutated here.
type Classifier struct {
	thresholds Thresholds
	idleStart  time.Time // zero when no idle window is open
}

// NewClassifier creates a classifier with the given thresholds.
func NewClassifier(t Thresholds) *Classifier {
	return &Classifier{thresholds: t}
}

// Thresholds returns the configured thresholds.
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// Classify evaluates one current sample (amps, discharge positive) taken
// at now while the device is in state. It returns nil when no transition
// is due.
//
// With manualOverride set the classifier is bypassed entirely and the idle
// window is left as it was.
func (c *Classifier) Classify(state DeviceState, amps float64, manualOverride bool, now time.Time) *TransitionRequest {
	if manualOverride {
		return nil
	}
	// A failed read carries no information; keep whatever we had.
	if math.IsNaN(amps) || math.IsInf(amps, 0) {
		return nil
	}

	switch state {
	case StateParked:
		c.closeIdle()
		if amps > c.thresholds.Riding {
			return Request(state, EventRideDetected, now)
		}
		if amps < c.thresholds.Charging {
			return Request(state, EventChargeDetected, now)
		}
		return nil

	case StateCharging:
		c.closeIdle()
		if amps > c.thresholds.Charging {
			return Request(state, EventChargeFinished, now)
		}
		return nil

	case StateRiding:
		if !c.inDeadZone(amps) {
			c.closeIdle()
			return nil
		}
		if c.idleStart.IsZero() {
			c.idleStart = now
			return nil
		}
		if now.Sub(c.idleStart) > c.thresholds.IdleTimeout {
			c.closeIdle()
			return Request(state, EventIdleTimeout, now)
		}
		return nil
	}

	return nil
}

// IdleWindow reports when the current idle window opened, if one is open.
func (c *Classifier) IdleWindow() (time.Time, bool) {
	return c.idleStart, !c.idleStart.IsZero()
}

// Reset closes any open idle window.
func (c *Classifier) Reset() {
	c.closeIdle()
}

func (c *Classifier) inDeadZone(amps float64) bool {
	return amps < c.thresholds.Riding && amps > c.thresholds.Charging
}

func (c *Classifier) closeIdle() {
	c.idleStart = time.Time{}
}
