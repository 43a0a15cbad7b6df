// Package gpio drives output lines with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Output drives a single digital output line.
type Output interface {
	// Set drives the line high (true) or low (false).
	Set(on bool) error

	// Close releases GPIO resources.
	Close() error
}

// DefaultPowerPin is the BCM pin that switches the sensor module supply.
const DefaultPowerPin = 27
