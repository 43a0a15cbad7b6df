// Package scheduler runs the duty cycle: a fast telemetry loop while
// riding or charging, and a slow sample, upload and sleep loop while
// parked.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/esk8-logger/internal/logging"
	"github.com/sweeney/esk8-logger/internal/logic"
	"github.com/sweeney/esk8-logger/internal/ridelog"
	"github.com/sweeney/esk8-logger/internal/sensor"
	"github.com/sweeney/esk8-logger/internal/status"
	"github.com/sweeney/esk8-logger/internal/task"
	"github.com/sweeney/esk8-logger/internal/upload"
	"github.com/sweeney/esk8-logger/internal/wifi"
)

var log = logging.Component("scheduler")

// Config holds the loop cadence.
type Config struct {
	ActivePeriod time.Duration
	IdlePeriod   time.Duration
	SleepCycles  int
	SleepWindow  time.Duration
}

// DefaultConfig returns the cadence used on the board.
func DefaultConfig() Config {
	return Config{
		ActivePeriod: time.Second,
		IdlePeriod:   300 * time.Millisecond,
		SleepCycles:  10,
		SleepWindow:  time.Second,
	}
}

// Sampler reads the battery sensor once.
type Sampler interface {
	Read() (sensor.Sample, error)
}

// StateView reads the device state and forwards classifier requests to
// its owner.
type StateView interface {
	State() logic.DeviceState
	IsDriving() bool
	IsCharging() bool
	Apply(req *logic.TransitionRequest) bool
}

// UploadQueue counts files waiting for upload.
type UploadQueue interface {
	PendingCount() (int, error)
}

// StorageMeter reports capacity of the log filesystem.
type StorageMeter interface {
	FreeSpace() (ridelog.Space, error)
}

// UploadRunner performs one upload pass.
type UploadRunner interface {
	Sync(ctx context.Context) (upload.Result, error)
}

// LoggerStatus reports whether a ride or charging log is open.
type LoggerStatus interface {
	Running() bool
}

// ClientGate reports whether a live telemetry client is attached.
type ClientGate interface {
	Connected() bool
}

// WifiGate reports the radio mode.
type WifiGate interface {
	State() wifi.State
}

// Settings supplies the user-configurable inputs.
type Settings interface {
	ManualRideStart() bool
	UploadInterval() time.Duration
}

// Telemetry receives the per-cycle snapshot.
type Telemetry interface {
	PublishSnapshot(snap status.Snapshot) error
}

// Clock abstracts time so tests can run cycles without waiting.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Deps are the scheduler collaborators. Nil optional fields are treated as
// idle: no client, no logger, wifi disabled, no telemetry.
type Deps struct {
	Sampler    Sampler
	States     StateView
	Classifier *logic.Classifier
	Queue      UploadQueue
	Storage    StorageMeter
	Uploader   UploadRunner
	Logger     LoggerStatus
	Clients    ClientGate
	Wifi       WifiGate
	Settings   Settings
	Telemetry  []Telemetry
	Tracker    *status.Tracker
	Clock      Clock
}

// Scheduler drives the duty cycle. Only its own goroutine calls Step.
type Scheduler struct {
	cfg  Config
	deps Deps

	upload *task.Task

	mu          sync.Mutex
	lastAttempt time.Time
	lastResult  upload.Result
	sleeps      int
}

// New returns a scheduler. The upload rate limit counts from now.
func New(cfg Config, deps Deps) *Scheduler {
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Classifier == nil {
		deps.Classifier = logic.NewClassifier(logic.DefaultThresholds())
	}
	return &Scheduler{
		cfg:         cfg,
		deps:        deps,
		upload:      task.New("upload"),
		lastAttempt: deps.Clock.Now(),
	}
}

// Run loops until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log.WithFields(logrus.Fields{
		"active_period": s.cfg.ActivePeriod,
		"idle_period":   s.cfg.IdlePeriod,
		"sleep_cycles":  s.cfg.SleepCycles,
	}).Info("scheduler started")

	for {
		if err := s.Step(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				s.upload.Stop()
				return nil
			}
			return err
		}
	}
}

// Step runs one cycle for the current state and returns after its
// trailing delay. The only error is ctx ending.
func (s *Scheduler) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.deps.States.State().Active() {
		return s.activeCycle(ctx)
	}
	return s.idleCycle(ctx)
}

func (s *Scheduler) activeCycle(ctx context.Context) error {
	s.sampleAndClassify()
	s.publish()
	return s.deps.Clock.Sleep(ctx, s.cfg.ActivePeriod)
}

func (s *Scheduler) idleCycle(ctx context.Context) error {
	if now := s.deps.Clock.Now(); s.ShouldStartUpload(now) {
		s.startUpload(ctx, now)
	}

	s.sampleAndClassify()

	if s.CanSleep() {
		if err := s.sleepWindows(ctx); err != nil {
			return err
		}
	}

	s.checkStorage()
	s.publish()
	return s.deps.Clock.Sleep(ctx, s.cfg.IdlePeriod)
}

// sleepWindows runs up to SleepCycles short sleeps, each preceded by a
// sample so activity still wakes the board. It stops early once the
// state leaves Parked.
func (s *Scheduler) sleepWindows(ctx context.Context) error {
	log.Debug("entering sleep")
	for i := 0; i < s.cfg.SleepCycles; i++ {
		s.sampleAndClassify()
		if s.deps.States.State() != logic.StateParked {
			log.WithField("window", i).Debug("woken by activity")
			return nil
		}
		if err := s.deps.Clock.Sleep(ctx, s.cfg.SleepWindow); err != nil {
			return err
		}
		s.mu.Lock()
		s.sleeps++
		s.mu.Unlock()
	}
	return nil
}

// ShouldStartUpload reports whether an upload should be launched now.
// The interval must be strictly exceeded. An unreadable queue counts as
// empty.
func (s *Scheduler) ShouldStartUpload(now time.Time) bool {
	if s.upload.Running() {
		return false
	}
	if s.deps.Queue == nil || s.deps.Uploader == nil {
		return false
	}
	n, err := s.deps.Queue.PendingCount()
	if err != nil {
		log.WithError(err).Debug("pending count unavailable")
		n = 0
	}
	if n <= 0 {
		return false
	}

	s.mu.Lock()
	last := s.lastAttempt
	s.mu.Unlock()
	return now.Sub(last) > s.interval()
}

func (s *Scheduler) interval() time.Duration {
	if s.deps.Settings == nil {
		return 0
	}
	return s.deps.Settings.UploadInterval()
}

func (s *Scheduler) startUpload(ctx context.Context, now time.Time) {
	started := s.upload.Start(ctx, func(ctx context.Context) error {
		res, err := s.deps.Uploader.Sync(ctx)
		s.mu.Lock()
		s.lastResult = res
		s.mu.Unlock()
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"uploaded": res.Uploaded, "failed": res.Failed}).Info("upload pass finished")
		return nil
	})
	if !started {
		return
	}
	s.mu.Lock()
	s.lastAttempt = now
	s.mu.Unlock()
	log.Info("upload started")
}

// CanSleep reports whether the board may enter a sleep window. The radio
// must be fully disabled, with nothing else in flight.
func (s *Scheduler) CanSleep() bool {
	if s.wifiState() != wifi.Disabled {
		return false
	}
	if s.upload.Running() {
		return false
	}
	if s.deps.States.IsDriving() || s.deps.States.IsCharging() {
		return false
	}
	if s.deps.Logger != nil && s.deps.Logger.Running() {
		return false
	}
	if s.deps.Clients != nil && s.deps.Clients.Connected() {
		return false
	}
	return true
}

func (s *Scheduler) wifiState() wifi.State {
	if s.deps.Wifi == nil {
		return wifi.Disabled
	}
	return s.deps.Wifi.State()
}

// sampleAndClassify reads the sensor once and feeds the classifier. A
// failed read is no new information.
func (s *Scheduler) sampleAndClassify() {
	if s.deps.Sampler == nil {
		return
	}
	now := s.deps.Clock.Now()
	sample, err := s.deps.Sampler.Read()
	if err != nil {
		log.WithError(err).Debug("sample failed")
		if s.deps.Tracker != nil {
			s.deps.Tracker.MarkSensorFailed()
		}
		return
	}
	if s.deps.Tracker != nil {
		s.deps.Tracker.UpdateReadings(sample.Current, sample.Voltage, now)
	}

	manual := s.deps.Settings != nil && s.deps.Settings.ManualRideStart()
	req := s.deps.Classifier.Classify(s.deps.States.State(), sample.Current, manual, now)
	if req != nil {
		s.deps.States.Apply(req)
	}
}

// checkStorage refreshes free space on the tracker. A failed check keeps
// the previous figures.
func (s *Scheduler) checkStorage() {
	if s.deps.Storage == nil || s.deps.Tracker == nil {
		return
	}
	sp, err := s.deps.Storage.FreeSpace()
	if err != nil {
		log.WithError(err).Debug("free space unavailable")
		return
	}
	s.deps.Tracker.SetStorage(sp.Free, sp.Total)
}

// publish records the gate inputs and pushes a snapshot to every
// telemetry sink.
func (s *Scheduler) publish() {
	tr := s.deps.Tracker
	if tr == nil {
		return
	}
	pending := 0
	if s.deps.Queue != nil {
		if n, err := s.deps.Queue.PendingCount(); err == nil {
			pending = n
		}
	}
	clients := s.deps.Clients != nil && s.deps.Clients.Connected()
	tr.SetGates(string(s.wifiState()), clients, s.upload.Running(), pending)
	if s.deps.Settings != nil {
		tr.SetManualRideStart(s.deps.Settings.ManualRideStart())
	}

	snap := tr.Snapshot()
	for _, t := range s.deps.Telemetry {
		if err := t.PublishSnapshot(snap); err != nil {
			log.WithError(err).Debug("telemetry publish failed")
		}
	}
}

// UploadRunning reports whether an upload pass is in flight.
func (s *Scheduler) UploadRunning() bool {
	return s.upload.Running()
}

// WaitUpload blocks until the in-flight upload finishes or ctx ends.
func (s *Scheduler) WaitUpload(ctx context.Context) error {
	return s.upload.Wait(ctx)
}

// LastAttempt returns when the last upload was launched, or the scheduler
// creation time if none has been.
func (s *Scheduler) LastAttempt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAttempt
}

// LastResult returns the outcome of the last finished upload pass.
func (s *Scheduler) LastResult() upload.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

// SleepWindows returns how many sleep windows have completed.
func (s *Scheduler) SleepWindows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sleeps
}
