package internal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/esk8-logger/internal/gps"
	"github.com/sweeney/esk8-logger/internal/logic"
	"github.com/sweeney/esk8-logger/internal/mqtt"
	"github.com/sweeney/esk8-logger/internal/ridelog"
	"github.com/sweeney/esk8-logger/internal/scheduler"
	"github.com/sweeney/esk8-logger/internal/sensor"
	"github.com/sweeney/esk8-logger/internal/settings"
	"github.com/sweeney/esk8-logger/internal/state"
	"github.com/sweeney/esk8-logger/internal/status"
	"github.com/sweeney/esk8-logger/internal/upload"
	"github.com/sweeney/esk8-logger/internal/web"
	"github.com/sweeney/esk8-logger/internal/wifi"
)

var (
	t0     = time.Date(2026, 3, 23, 10, 0, 0, 0, time.UTC)
	idle   = sensor.Sample{Current: 0, Voltage: 41.5}
	riding = sensor.Sample{Current: 6.2, Voltage: 39.8}
	charge = sensor.Sample{Current: -2.0, Voltage: 40.1}
)

// receiver is an upload endpoint that records what it was sent.
type receiver struct {
	mu    sync.Mutex
	files map[string]string
	keys  []string
}

func (r *receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	f, hdr, err := req.FormFile("logfile")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer f.Close()
	body, _ := io.ReadAll(f)

	r.mu.Lock()
	r.files[hdr.Filename] = string(body)
	r.keys = append(r.keys, req.URL.Query().Get("key"))
	r.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// board wires the daemon the way main does, with fakes at the hardware
// and network edges.
type board struct {
	clock   *scheduler.FakeClock
	reader  *sensor.FakeReader
	radio   *wifi.Static
	pub     *mqtt.FakePublisher
	hub     *web.Hub
	cfg     *settings.Store
	store   *ridelog.Store
	logger  *ridelog.Logger
	mgr     *state.Manager
	tracker *status.Tracker
	sched   *scheduler.Scheduler
	recv    *receiver
}

func newBoard(t *testing.T) *board {
	t.Helper()
	b := &board{
		clock:  scheduler.NewFakeClock(t0),
		reader: sensor.NewFakeReader(idle),
		radio:  wifi.NewStatic(wifi.Disabled),
		pub:    mqtt.NewFakePublisher(),
		hub:    web.NewHub(),
		recv:   &receiver{files: map[string]string{}},
	}
	srv := httptest.NewServer(b.recv)
	t.Cleanup(srv.Close)

	s := settings.Defaults()
	s.UploadInterval = 1
	s.UploadURL = srv.URL + "/upload"
	b.cfg = settings.NewStore(filepath.Join(t.TempDir(), settings.FileName), s)

	b.store = ridelog.NewStore(t.TempDir())
	require.NoError(t, b.store.Init())

	b.tracker = status.NewTracker(t0, status.Config{Device: "board"})
	b.tracker.SetClock(b.clock.Now)

	b.logger = ridelog.NewLogger(b.store, ridelog.Config{
		RideInterval:   5 * time.Millisecond,
		ChargeInterval: 5 * time.Millisecond,
		Snapshot:       b.tracker.Snapshot,
		IsCharging:     func() bool { return b.mgr.IsCharging() },
		Now:            b.clock.Now,
	})
	t.Cleanup(func() { b.logger.Close() })

	b.mgr = state.NewManager(state.Hooks{
		Publishers: []state.Publisher{b.pub, b.hub},
		Logger:     b.logger,
		Manual:     b.cfg,
		Now:        b.clock.Now,
	})
	b.mgr.Mirror(func(c state.Change) { b.tracker.SetState(c.To) })

	uploader := upload.New(b.store, b.cfg, b.radio, srv.Client())
	uploader.RetryDelay = time.Millisecond

	b.sched = scheduler.New(scheduler.DefaultConfig(), scheduler.Deps{
		Sampler:   sensor.Direct{Reader: b.reader},
		States:    b.mgr,
		Queue:     b.store,
		Storage:   b.store,
		Uploader:  uploader,
		Logger:    b.logger,
		Clients:   b.hub,
		Wifi:      b.radio,
		Settings:  b.cfg,
		Telemetry: []scheduler.Telemetry{b.pub, b.hub},
		Tracker:   b.tracker,
		Clock:     b.clock,
	})
	return b
}

// stepUntil runs scheduler cycles until the board reaches want.
func (b *board) stepUntil(t *testing.T, want logic.DeviceState, maxSteps int) {
	t.Helper()
	for i := 0; i < maxSteps; i++ {
		require.NoError(t, b.sched.Step(context.Background()))
		if b.mgr.State() == want {
			return
		}
	}
	t.Fatalf("state %s not reached after %d steps, still %s", want, maxSteps, b.mgr.State())
}

func readLog(t *testing.T, f ridelog.File) []string {
	t.Helper()
	data, err := os.ReadFile(f.Path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestIntegrationRideLogged(t *testing.T) {
	b := newBoard(t)

	require.NoError(t, b.sched.Step(context.Background()))
	assert.Equal(t, logic.StateParked, b.mgr.State())

	b.reader.Push(riding)
	b.stepUntil(t, logic.StateRiding, 3)
	require.Eventually(t, b.logger.RideRunning, time.Second, time.Millisecond)

	// Activity keeps the ride going.
	for i := 0; i < 5; i++ {
		require.NoError(t, b.sched.Step(context.Background()))
	}
	assert.Equal(t, logic.StateRiding, b.mgr.State())

	// Let the writer put down a few lines before the board goes quiet.
	time.Sleep(30 * time.Millisecond)

	b.reader.Push(idle)
	b.stepUntil(t, logic.StateParked, 40)
	assert.False(t, b.logger.RideRunning(), "ride log closed on park")

	assert.Equal(t, []logic.DeviceState{logic.StateRiding, logic.StateParked}, b.pub.StatesSnapshot())
	assert.Positive(t, b.pub.SnapshotCount(), "telemetry published every cycle")

	pending, err := b.store.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, strings.HasPrefix(pending[0].Name, "log.2026.03.23."), pending[0].Name)

	lines := readLog(t, pending[0])
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, strings.Join(ridelog.Header, ","), lines[0])

	hist := b.mgr.History()
	require.Len(t, hist, 2)
	assert.Equal(t, logic.EventRideDetected, hist[0].Event)
	assert.Equal(t, logic.EventIdleTimeout, hist[1].Event)
}

func TestIntegrationChargeLoggedThenUploaded(t *testing.T) {
	b := newBoard(t)

	b.reader.Push(charge)
	b.stepUntil(t, logic.StateCharging, 3)
	require.Eventually(t, b.logger.ChargeRunning, time.Second, time.Millisecond)

	b.reader.Push(idle)
	b.stepUntil(t, logic.StateParked, 5)
	require.Eventually(t, func() bool { return !b.logger.Running() }, time.Second, time.Millisecond,
		"charging log ends on its own once charging stops")

	n, err := b.store.PendingCount()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Wifi keeps the board awake; once connected and past the interval
	// the queued log goes up.
	b.radio.Set(wifi.ClientConnected)
	assert.False(t, b.sched.CanSleep())
	b.clock.Advance(2 * time.Minute)

	require.NoError(t, b.sched.Step(context.Background()))
	require.NoError(t, b.sched.WaitUpload(context.Background()))
	assert.Equal(t, upload.Result{Uploaded: 1}, b.sched.LastResult())

	n, err = b.store.PendingCount()
	require.NoError(t, err)
	assert.Zero(t, n)

	synced, err := os.ReadDir(filepath.Join(b.store.Base(), ridelog.SyncedDir))
	require.NoError(t, err)
	require.Len(t, synced, 1)

	b.recv.mu.Lock()
	defer b.recv.mu.Unlock()
	require.Len(t, b.recv.files, 1)
	for name, body := range b.recv.files {
		assert.True(t, strings.HasPrefix(name, "charge."), name)
		assert.True(t, strings.HasPrefix(body, strings.Join(ridelog.Header, ",")))
	}
	assert.Equal(t, []string{b.cfg.DeviceKey()}, b.recv.keys)
}

func TestIntegrationManualRide(t *testing.T) {
	b := newBoard(t)
	b.cfg.SetManualRideStart(true)
	b.pub.OnCommand(func(c mqtt.Command) {
		switch c {
		case mqtt.CommandStart:
			b.mgr.Command(logic.EventManualStart)
		case mqtt.CommandStop:
			b.mgr.Command(logic.EventManualStop)
		}
	})

	// Current alone no longer moves the state.
	b.reader.Push(riding)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.sched.Step(context.Background()))
	}
	assert.Equal(t, logic.StateParked, b.mgr.State())

	require.True(t, b.pub.Deliver([]byte("start")))
	assert.Equal(t, logic.StateRiding, b.mgr.State())
	require.Eventually(t, b.logger.RideRunning, time.Second, time.Millisecond)

	// No idle timeout in manual mode.
	b.reader.Push(idle)
	for i := 0; i < 40; i++ {
		require.NoError(t, b.sched.Step(context.Background()))
	}
	assert.Equal(t, logic.StateRiding, b.mgr.State())

	require.True(t, b.pub.Deliver([]byte("stop")))
	assert.Equal(t, logic.StateParked, b.mgr.State())
	assert.False(t, b.logger.RideRunning())

	hist := b.mgr.History()
	require.Len(t, hist, 2)
	assert.Equal(t, logic.EventManualStart, hist[0].Event)
	assert.Equal(t, logic.EventManualStop, hist[1].Event)
}

func TestIntegrationNewRideStartsAtZeroTrip(t *testing.T) {
	b := newBoard(t)
	b.cfg.SetManualRideStart(true)

	require.True(t, b.mgr.Command(logic.EventManualStart))
	b.tracker.UpdateFix(gps.Fix{Valid: true, Latitude: 51.5000, Longitude: -0.1200})
	b.tracker.UpdateFix(gps.Fix{Valid: true, Latitude: 51.5100, Longitude: -0.1200})
	require.Greater(t, b.tracker.Snapshot().TripKm, 1.0)
	time.Sleep(15 * time.Millisecond)
	require.True(t, b.mgr.Command(logic.EventManualStop))

	b.clock.Advance(time.Minute)
	require.True(t, b.mgr.Command(logic.EventManualStart))
	require.True(t, b.mgr.Command(logic.EventManualStop))

	files, err := b.store.Pending()
	require.NoError(t, err)
	require.Len(t, files, 2)
	second := readLog(t, files[1])
	require.GreaterOrEqual(t, len(second), 2)
	fields := strings.Split(second[1], ",")
	assert.Equal(t, "0.000000", fields[7], "first row of a new ride carries no old trip distance")
}

func TestIntegrationStatusReflectsCycle(t *testing.T) {
	b := newBoard(t)
	b.reader.Push(riding)
	b.stepUntil(t, logic.StateRiding, 3)
	require.NoError(t, b.sched.Step(context.Background()))

	var doc status.StatusJSON
	require.NoError(t, json.Unmarshal(status.FormatJSON(b.tracker.Snapshot()), &doc))
	assert.Equal(t, "RIDING", doc.Status.State)
	assert.InDelta(t, riding.Current, doc.Status.Battery.Current, 1e-9)
	assert.InDelta(t, riding.Voltage, doc.Status.Battery.Voltage, 1e-9)
	assert.True(t, doc.Status.Battery.SensorOK)
	assert.Equal(t, "DISABLED", doc.Status.Gates.Wifi)
}
