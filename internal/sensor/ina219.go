package sensor

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ina219"
	"periph.io/x/host/v3"

	"github.com/sweeney/esk8-logger/internal/logging"
)

var log = logging.Component("sensor")

// INA219Config describes the shunt monitor wiring.
type INA219Config struct {
	Bus           string // i2creg name, empty for the first bus
	Address       int
	SenseResistor physic.ElectricResistance
	MaxCurrent    physic.ElectricCurrent
	// Invert flips the current sign for shunts wired the other way round.
	Invert bool
}

// DefaultINA219Config matches the 2 mOhm shunt on the logger board.
func DefaultINA219Config() INA219Config {
	return INA219Config{
		Address:       0x40,
		SenseResistor: 2 * physic.MilliOhm,
		MaxCurrent:    40 * physic.Ampere,
	}
}

// INA219 reads current and voltage from a TI INA219 over I2C. The chip
// forgets its configuration and calibration on every power-on reset, so
// the driver is rebuilt by Calibrate after the module is powered up.
type INA219 struct {
	bus    i2c.BusCloser
	opts   ina219.Opts
	dev    *ina219.Dev
	invert bool
}

// OpenINA219 initialises the periph host drivers and opens the bus. No
// register is written until Calibrate or the first Sense.
func OpenINA219(cfg INA219Config) (*INA219, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}
	bus, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", cfg.Bus, err)
	}
	return &INA219{
		bus: bus,
		opts: ina219.Opts{
			Address:       cfg.Address,
			SenseResistor: cfg.SenseResistor,
			MaxCurrent:    cfg.MaxCurrent,
		},
		invert: cfg.Invert,
	}, nil
}

// Calibrate writes the configuration and calibration registers.
func (s *INA219) Calibrate() error {
	dev, err := ina219.New(s.bus, &s.opts)
	if err != nil {
		s.dev = nil
		return fmt.Errorf("%w: ina219 at 0x%02x: %v", ErrUnavailable, s.opts.Address, err)
	}
	s.dev = dev
	return nil
}

// Sense takes one conversion and returns pack current (amps) and voltage
// (volts) from it.
func (s *INA219) Sense() (Sample, error) {
	if s.dev == nil {
		if err := s.Calibrate(); err != nil {
			return Sample{}, err
		}
	}
	pm, err := s.dev.Sense()
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	amps := float64(pm.Current) / float64(physic.Ampere)
	if s.invert {
		amps = -amps
	}
	return Sample{
		Current: amps,
		Voltage: float64(pm.Voltage) / float64(physic.Volt),
	}, nil
}

// Close releases the bus.
func (s *INA219) Close() error {
	return s.bus.Close()
}
