package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/esk8-logger/internal/logic"
	"github.com/sweeney/esk8-logger/internal/mqtt"
	"github.com/sweeney/esk8-logger/internal/ridelog"
	"github.com/sweeney/esk8-logger/internal/sensor"
	"github.com/sweeney/esk8-logger/internal/settings"
	"github.com/sweeney/esk8-logger/internal/state"
	"github.com/sweeney/esk8-logger/internal/status"
	"github.com/sweeney/esk8-logger/internal/wifi"
)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Only called from runLoop's goroutine.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// blockingRunner runs until its context ends.
type blockingRunner struct {
	started chan struct{}
	stopped chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}), stopped: make(chan struct{})}
}

func (r *blockingRunner) Run(ctx context.Context) error {
	close(r.started)
	<-ctx.Done()
	close(r.stopped)
	return nil
}

type failingRunner struct{ err error }

func (r failingRunner) Run(context.Context) error { return r.err }

type staticNetwork struct{ n *wifi.Network }

func (s staticNetwork) Network() *wifi.Network { return s.n }

func newTestTracker() *status.Tracker {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := status.NewTracker(start, status.Config{Device: "board", Broker: "tcp://broker:1883"})
	tr.SetClock(func() time.Time { return start.Add(time.Hour) })
	return tr
}

// driveLoop runs runLoop with nTicks heartbeats followed by signal.
func driveLoop(t *testing.T, d loopDeps, nTicks int, signal os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Minute)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(context.Background(), d, clock, tick, sig)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sig <- signal
	return <-errCh
}

func TestRunLoopShutdownOnSIGTERM(t *testing.T) {
	runner := newBlockingRunner()
	pub := mqtt.NewFakePublisher()
	d := loopDeps{runner: runner, publisher: pub, tracker: newTestTracker()}

	if err := driveLoop(t, d, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	select {
	case <-runner.stopped:
	default:
		t.Error("runner was not stopped before shutdown")
	}

	events := pub.SystemEventsSnapshot()
	if len(events) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(events))
	}
	ev := events[0]
	if ev.Event != "SHUTDOWN" {
		t.Errorf("event: got %q, want SHUTDOWN", ev.Event)
	}
	if ev.Reason != "SIGTERM" {
		t.Errorf("reason: got %q, want SIGTERM", ev.Reason)
	}
	if !ev.Retained {
		t.Error("shutdown event should be retained")
	}
	if !strings.Contains(string(ev.RawPayload), `"reason":"SIGTERM"`) {
		t.Errorf("payload missing reason: %s", ev.RawPayload)
	}
}

func TestRunLoopShutdownOnSIGINT(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	d := loopDeps{runner: newBlockingRunner(), publisher: pub, tracker: newTestTracker()}

	if err := driveLoop(t, d, 0, syscall.SIGINT); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	events := pub.SystemEventsSnapshot()
	if len(events) != 1 || events[0].Reason != "SIGINT" {
		t.Fatalf("expected one SHUTDOWN with reason SIGINT, got %+v", events)
	}
}

func TestRunLoopHeartbeats(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	network := staticNetwork{n: &wifi.Network{Status: "connected", SSID: "home"}}
	tracker := newTestTracker()
	d := loopDeps{
		runner:     newBlockingRunner(),
		publisher:  pub,
		mqttStatus: pub,
		tracker:    tracker,
		network:    network,
	}

	if err := driveLoop(t, d, 3, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	events := pub.SystemEventsSnapshot()
	if len(events) != 4 {
		t.Fatalf("expected 3 heartbeats and a shutdown, got %d events", len(events))
	}
	for i := 0; i < 3; i++ {
		if events[i].Event != "HEARTBEAT" {
			t.Errorf("event %d: got %q, want HEARTBEAT", i, events[i].Event)
		}
		if events[i].Retained {
			t.Errorf("heartbeat %d should not be retained", i)
		}
		if !strings.Contains(string(events[i].RawPayload), `"ssid":"home"`) {
			t.Errorf("heartbeat %d payload missing network: %s", i, events[i].RawPayload)
		}
	}
	if !events[0].Timestamp.Before(events[1].Timestamp) {
		t.Error("heartbeat timestamps should advance")
	}
	if events[3].Event != "SHUTDOWN" {
		t.Errorf("last event: got %q, want SHUTDOWN", events[3].Event)
	}

	snap := tracker.Snapshot()
	if !snap.MQTTConnected {
		t.Error("tracker should mirror the publisher's connection status")
	}
	if snap.Network == nil || snap.Network.SSID != "home" {
		t.Errorf("tracker network not refreshed: %+v", snap.Network)
	}
}

func TestRunLoopRunnerError(t *testing.T) {
	boom := errors.New("boom")
	pub := mqtt.NewFakePublisher()
	d := loopDeps{runner: failingRunner{err: boom}, publisher: pub, tracker: newTestTracker()}

	err := runLoop(context.Background(), d, time.Now, nil, make(chan os.Signal))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped runner error, got %v", err)
	}
	if n := len(pub.SystemEventsSnapshot()); n != 0 {
		t.Errorf("expected no system events, got %d", n)
	}
}

func TestRunLoopShutdownPublishError(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.PublishSystemError = errors.New("offline")
	d := loopDeps{runner: newBlockingRunner(), publisher: pub, tracker: newTestTracker()}

	if err := driveLoop(t, d, 0, syscall.SIGTERM); err != nil {
		t.Fatalf("a failed shutdown publish should not fail the loop: %v", err)
	}
}

type recordingTarget struct {
	accept bool
	got    []logic.EventType
}

func (r *recordingTarget) Command(ev logic.EventType) bool {
	r.got = append(r.got, ev)
	return r.accept
}

func TestHandleCommandStartStop(t *testing.T) {
	target := &recordingTarget{accept: true}
	cfg := settings.NewStore(filepath.Join(t.TempDir(), settings.FileName), settings.Defaults())

	handleCommand(mqtt.CommandStart, target, cfg, nil)
	handleCommand(mqtt.CommandStop, target, cfg, nil)

	want := []logic.EventType{logic.EventManualStart, logic.EventManualStop}
	if len(target.got) != len(want) {
		t.Fatalf("expected %d commands, got %v", len(want), target.got)
	}
	for i := range want {
		if target.got[i] != want[i] {
			t.Errorf("command %d: got %q, want %q", i, target.got[i], want[i])
		}
	}
}

func TestHandleCommandManualToggle(t *testing.T) {
	path := filepath.Join(t.TempDir(), settings.FileName)
	cfg := settings.NewStore(path, settings.Defaults())
	tracker := newTestTracker()
	target := &recordingTarget{}

	handleCommand(mqtt.CommandManualOn, target, cfg, tracker)

	if !cfg.ManualRideStart() {
		t.Error("manual ride start should be enabled")
	}
	if !tracker.Snapshot().ManualRideStart {
		t.Error("tracker should mirror the setting")
	}
	if len(target.got) != 0 {
		t.Errorf("toggle should not issue state commands, got %v", target.got)
	}

	reloaded, err := settings.Load(path)
	if err != nil {
		t.Fatalf("reload settings: %v", err)
	}
	if !reloaded.ManualRideStart() {
		t.Error("setting was not persisted")
	}

	handleCommand(mqtt.CommandManualOff, target, cfg, tracker)
	if cfg.ManualRideStart() || tracker.Snapshot().ManualRideStart {
		t.Error("manual ride start should be disabled")
	}
}

func TestCommandsDriveManager(t *testing.T) {
	cfg := settings.NewStore(filepath.Join(t.TempDir(), settings.FileName), settings.Defaults())
	pub := mqtt.NewFakePublisher()
	mgr := state.NewManager(state.Hooks{Publishers: []state.Publisher{pub}, Manual: cfg})
	pub.OnCommand(func(c mqtt.Command) { handleCommand(c, mgr, cfg, nil) })

	// Disabled: start is ignored.
	pub.Deliver([]byte("start"))
	if mgr.State() != logic.StateParked {
		t.Fatalf("start should be ignored while manual mode is off, state %s", mgr.State())
	}

	pub.Deliver([]byte("manual:on"))
	pub.Deliver([]byte("start"))
	if mgr.State() != logic.StateRiding {
		t.Fatalf("expected RIDING after start, got %s", mgr.State())
	}

	pub.Deliver([]byte("stop"))
	if mgr.State() != logic.StateParked {
		t.Fatalf("expected PARKED after stop, got %s", mgr.State())
	}
}

func TestPrintState(t *testing.T) {
	reader := sensor.NewFakeReader(sensor.Sample{Current: 1.5, Voltage: 41.2})
	store := ridelog.NewStore(t.TempDir())
	if err := store.Init(); err != nil {
		t.Fatalf("init store: %v", err)
	}

	var buf bytes.Buffer
	err := printState(&buf, sensor.Direct{Reader: reader}, wifi.NewStatic(wifi.Client), store)
	if err != nil {
		t.Fatalf("printState: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"1.500 A", "41.200 V", "CLIENT", "pending logs: 0"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestPrintStateSensorError(t *testing.T) {
	reader := sensor.NewFakeReader()
	reader.SetError(sensor.ErrUnavailable)
	store := ridelog.NewStore(t.TempDir())

	var buf bytes.Buffer
	err := printState(&buf, sensor.Direct{Reader: reader}, wifi.NewStatic(wifi.Disabled), store)
	if !errors.Is(err, sensor.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestToStatusNetwork(t *testing.T) {
	if toStatusNetwork(nil) != nil {
		t.Error("nil network should map to nil")
	}
	n := toStatusNetwork(&wifi.Network{
		Type: "wifi", IP: "10.0.0.5", Status: "connected",
		Gateway: "10.0.0.1", WifiStatus: "up", SSID: "home",
	})
	want := status.NetworkInfo{
		Type: "wifi", IP: "10.0.0.5", Status: "connected",
		Gateway: "10.0.0.1", WifiStatus: "up", SSID: "home",
	}
	if *n != want {
		t.Errorf("got %+v, want %+v", *n, want)
	}
}

func TestDefaultArgs(t *testing.T) {
	a := defaultArgs()
	if a.Heartbeat != 15*time.Minute {
		t.Errorf("heartbeat: got %v, want 15m", a.Heartbeat)
	}
	if a.GPSBaud != 9600 {
		t.Errorf("gps baud: got %d, want 9600", a.GPSBaud)
	}
	if a.EnvFile != wifi.DefaultEnvFile {
		t.Errorf("env file: got %q", a.EnvFile)
	}
	if a.LogLevel != "info" {
		t.Errorf("log level: got %q", a.LogLevel)
	}
	if (Args{}).Version() != version {
		t.Error("Version should report the build version")
	}
}
