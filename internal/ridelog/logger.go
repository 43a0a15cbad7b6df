package ridelog

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/esk8-logger/internal/status"
	"github.com/sweeney/esk8-logger/internal/task"
)

// Header is the first line of every log file.
var Header = []string{
	"elapsed_s", "timestamp", "latitude", "longitude", "speed_kmh",
	"voltage", "current", "trip_km", "altitude_m",
}

// Default entry intervals.
const (
	DefaultRideInterval   = time.Second
	DefaultChargeInterval = time.Second
)

// Config configures a Logger.
type Config struct {
	RideInterval   time.Duration
	ChargeInterval time.Duration

	// Snapshot supplies the values written on each line.
	Snapshot func() status.Snapshot
	// IsCharging ends the charging log once it returns false.
	IsCharging func() bool
	Now        func() time.Time
}

// Logger runs the ride and charging log writers as supervised tasks.
type Logger struct {
	store *Store
	cfg   Config

	ctx    context.Context
	cancel context.CancelFunc
	ride   *task.Task
	charge *task.Task
}

// NewLogger returns a Logger writing into store.
func NewLogger(store *Store, cfg Config) *Logger {
	if cfg.RideInterval <= 0 {
		cfg.RideInterval = DefaultRideInterval
	}
	if cfg.ChargeInterval <= 0 {
		cfg.ChargeInterval = DefaultChargeInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Snapshot == nil {
		cfg.Snapshot = func() status.Snapshot { return status.Snapshot{} }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Logger{
		store:  store,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		ride:   task.New("ride-log"),
		charge: task.New("charge-log"),
	}
}

// StartRide opens a new ride log and begins writing entries. It fails if
// a ride log is already open.
func (l *Logger) StartRide() error {
	if l.ride.Running() {
		return fmt.Errorf("ride log: %w", task.ErrAlreadyRunning)
	}
	f, err := l.store.Create(KindRide, l.cfg.Now())
	if err != nil {
		return err
	}
	if err := l.ride.TryStart(l.ctx, l.writeLoop(f, l.cfg.RideInterval, nil)); err != nil {
		f.Discard()
		return fmt.Errorf("ride log: %w", err)
	}
	return nil
}

// StopRide ends the ride log and waits for the file to be closed.
func (l *Logger) StopRide() error {
	if !l.ride.Running() {
		return nil
	}
	l.ride.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.ride.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for ride log: %w", err)
	}
	return l.ride.LastErr()
}

// StartCharging opens a charging log that runs until IsCharging reports
// false.
func (l *Logger) StartCharging() error {
	if l.charge.Running() {
		return fmt.Errorf("charging log: %w", task.ErrAlreadyRunning)
	}
	f, err := l.store.Create(KindCharge, l.cfg.Now())
	if err != nil {
		return err
	}
	if err := l.charge.TryStart(l.ctx, l.writeLoop(f, l.cfg.ChargeInterval, l.cfg.IsCharging)); err != nil {
		f.Discard()
		return fmt.Errorf("charging log: %w", err)
	}
	return nil
}

// Running reports whether any log is being written.
func (l *Logger) Running() bool {
	return l.ride.Running() || l.charge.Running()
}

// RideRunning reports whether the ride log is open.
func (l *Logger) RideRunning() bool {
	return l.ride.Running()
}

// ChargeRunning reports whether the charging log is open.
func (l *Logger) ChargeRunning() bool {
	return l.charge.Running()
}

// Close stops both writers and waits for them.
func (l *Logger) Close() error {
	l.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.ride.Wait(ctx); err != nil {
		return err
	}
	return l.charge.Wait(ctx)
}

// writeLoop writes the header and then one entry per interval until the
// context ends or keepGoing returns false.
func (l *Logger) writeLoop(f *OpenLog, interval time.Duration, keepGoing func() bool) task.Func {
	return func(ctx context.Context) (err error) {
		entry := log.WithFields(logrus.Fields{"file": f.Name})
		defer func() {
			if cerr := f.Close(); cerr != nil {
				entry.WithError(cerr).Error("log close failed")
				if err == nil {
					err = cerr
				}
			}
		}()
		w := csv.NewWriter(f)
		start := l.cfg.Now()
		entry.Info("log started")

		if err := writeRow(w, Header); err != nil {
			return err
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		lines := 0
		for {
			if err := writeRow(w, Row(l.cfg.Snapshot(), start, l.cfg.Now())); err != nil {
				entry.WithError(err).Error("log write failed")
				return err
			}
			lines++
			if keepGoing != nil && !keepGoing() {
				break
			}
			select {
			case <-ctx.Done():
				entry.WithField("lines", lines).Info("log stopped")
				return nil
			case <-ticker.C:
			}
		}
		entry.WithField("lines", lines).Info("log finished")
		return nil
	}
}

func writeRow(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// Row formats one log entry.
func Row(snap status.Snapshot, start, now time.Time) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
	return []string{
		strconv.FormatInt(int64(now.Sub(start)/time.Second), 10),
		strconv.FormatInt(now.Unix(), 10),
		f(snap.Fix.Latitude),
		f(snap.Fix.Longitude),
		f(snap.Fix.SpeedKmh),
		f(snap.Voltage),
		f(snap.Current),
		f(snap.TripKm),
		f(snap.Fix.AltitudeM),
	}
}
