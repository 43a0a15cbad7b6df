// Package sensor is the sampling boundary of the logger: instantaneous
// pack current and voltage. Current is positive while discharging
// (riding) and negative while charging.
package sensor

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/esk8-logger/internal/gpio"
)

// ErrUnavailable is returned when the sensor cannot be read this cycle.
var ErrUnavailable = errors.New("sensor unavailable")

// Reader reads the pack sensor. Voltage and current in one Sample come
// from the same conversion.
type Reader interface {
	Sense() (Sample, error)
}

// Calibrator is a Reader whose configuration is lost on power-down and has
// to be written again before the next conversion.
type Calibrator interface {
	Calibrate() error
}

// Sample is one paired reading.
type Sample struct {
	Current float64
	Voltage float64
}

// Gated powers the sensor module through a GPIO line around each read so
// the board draws nothing from it between samples.
type Gated struct {
	reader Reader
	power  gpio.Output
	settle time.Duration
	sleep  func(time.Duration)
}

// NewGated wraps reader with a power line. settle is how long to wait
// after powering up before reading.
func NewGated(reader Reader, power gpio.Output, settle time.Duration) *Gated {
	return &Gated{reader: reader, power: power, settle: settle, sleep: time.Sleep}
}

// Read powers the module up, recalibrates it if needed, takes one sample
// and powers it back down. The module is switched off even when a read
// fails.
func (g *Gated) Read() (Sample, error) {
	if err := g.power.Set(true); err != nil {
		return Sample{}, fmt.Errorf("%w: power up: %v", ErrUnavailable, err)
	}
	defer func() {
		if err := g.power.Set(false); err != nil {
			log.WithError(err).Warn("power down sensor module failed")
		}
	}()
	if g.settle > 0 {
		g.sleep(g.settle)
	}

	if c, ok := g.reader.(Calibrator); ok {
		if err := c.Calibrate(); err != nil {
			return Sample{}, fmt.Errorf("calibrate: %w", err)
		}
	}
	s, err := g.reader.Sense()
	if err != nil {
		return Sample{}, fmt.Errorf("sense: %w", err)
	}
	return s, nil
}

// Direct reads an always-powered sensor.
type Direct struct {
	Reader Reader
}

// Read takes one sample.
func (d Direct) Read() (Sample, error) {
	s, err := d.Reader.Sense()
	if err != nil {
		return Sample{}, fmt.Errorf("sense: %w", err)
	}
	return s, nil
}
