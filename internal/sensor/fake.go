package sensor

import (
	"errors"
	"sync"

	"github.com/sweeney/esk8-logger/internal/gpio"
)

// FakeReader is a test double that returns scripted samples. Each Sense
// consumes the next sample; when samples run out the last one is
// repeated.
type FakeReader struct {
	mu      sync.Mutex
	Samples []Sample
	index   int

	// ReadError, if set, is returned by Sense.
	ReadError error
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples ...Sample) *FakeReader {
	return &FakeReader{Samples: samples}
}

// Sense returns the pending sample and advances.
func (f *FakeReader) Sense() (Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadError != nil {
		return Sample{}, f.ReadError
	}
	if len(f.Samples) == 0 {
		return Sample{}, errors.New("no samples configured")
	}
	s := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return s, nil
}

// Push appends samples to the script.
func (f *FakeReader) Push(samples ...Sample) {
	f.mu.Lock()
	f.Samples = append(f.Samples, samples...)
	f.mu.Unlock()
}

// SetError sets or clears the read error.
func (f *FakeReader) SetError(err error) {
	f.mu.Lock()
	f.ReadError = err
	f.mu.Unlock()
}

// FakeINA219 behaves like a shunt monitor behind a power line: it cannot
// be read while unpowered, and every power-up clears its calibration so
// current reads 0 until Calibrate is called again. Bus voltage does not
// depend on calibration.
type FakeINA219 struct {
	*FakeReader
	power *gpio.FakeOutput

	mu           sync.Mutex
	calibratedAt int // power-up count at the last Calibrate, -1 if never
	calibrations int
}

// NewFakeINA219 returns a fake powered through power.
func NewFakeINA219(power *gpio.FakeOutput, samples ...Sample) *FakeINA219 {
	return &FakeINA219{FakeReader: NewFakeReader(samples...), power: power, calibratedAt: -1}
}

// Calibrate programs the chip for the current power cycle.
func (f *FakeINA219) Calibrate() error {
	if !f.power.Level() {
		return ErrUnavailable
	}
	f.mu.Lock()
	f.calibratedAt = f.power.Rises()
	f.calibrations++
	f.mu.Unlock()
	return nil
}

// Calibrations returns how often Calibrate succeeded.
func (f *FakeINA219) Calibrations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calibrations
}

// Sense takes the next scripted sample as the chip would report it.
func (f *FakeINA219) Sense() (Sample, error) {
	if !f.power.Level() {
		return Sample{}, ErrUnavailable
	}
	s, err := f.FakeReader.Sense()
	if err != nil {
		return Sample{}, err
	}
	f.mu.Lock()
	calibrated := f.calibratedAt == f.power.Rises()
	f.mu.Unlock()
	if !calibrated {
		s.Current = 0
	}
	return s, nil
}
