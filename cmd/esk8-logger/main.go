// Command esk8-logger samples an electric skateboard's pack, detects rides
// and charging, logs them to disk and uploads the logs when the board is
// parked within reach of wifi.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/esk8-logger/internal/gpio"
	"github.com/sweeney/esk8-logger/internal/gps"
	"github.com/sweeney/esk8-logger/internal/logging"
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

var version = "No version provided"

var log = logging.Component("main")

// sensorSettle is how long the INA219 needs after power-up.
const sensorSettle = 20 * time.Millisecond

// Args are the command line options.
type Args struct {
	ConfigDir     string        `arg:"--config-dir" help:"directory holding settings.yaml"`
	Broker        string        `arg:"--broker" help:"MQTT broker address (empty to disable)"`
	Device        string        `arg:"--device" help:"device id used in MQTT topics (default: hostname)"`
	HTTP          string        `arg:"--http" help:"HTTP status address (empty to disable)"`
	I2CBus        string        `arg:"--i2c-bus" help:"I2C bus name for the INA219 (empty for the first bus)"`
	PowerPin      int           `arg:"--power-pin" help:"BCM pin powering the sensor module"`
	GPSPort       string        `arg:"--gps-port" help:"GPS serial port (empty to disable)"`
	GPSBaud       uint          `arg:"--gps-baud" help:"GPS baud rate"`
	LogDir        string        `arg:"--log-dir" help:"base directory for ride and charging logs"`
	EnvFile       string        `arg:"--env-file" help:"network helper env file"`
	Heartbeat     time.Duration `arg:"--heartbeat" help:"heartbeat interval (0 to disable)"`
	LogLevel      string        `arg:"-l, --log-level" help:"log level (debug, info, warn, error)"`
	Timestamps    bool          `arg:"--timestamps" help:"include timestamps in log output"`
	InvertCurrent bool          `arg:"--invert-current" help:"flip the current sign for a reversed shunt"`
	PrintState    bool          `arg:"--print-state" help:"print one sensor reading and the gate inputs, then exit"`
}

// Version implements go-arg's version hook.
func (Args) Version() string {
	return version
}

func defaultArgs() Args {
	return Args{
		ConfigDir: "/etc/esk8-logger",
		Broker:    "tcp://192.168.1.200:1883",
		HTTP:      ":80",
		PowerPin:  gpio.DefaultPowerPin,
		GPSPort:   "/dev/serial0",
		GPSBaud:   9600,
		LogDir:    "/var/lib/esk8-logger",
		EnvFile:   wifi.DefaultEnvFile,
		Heartbeat: 15 * time.Minute,
		LogLevel:  "info",
	}
}

func procArgs() Args {
	args := defaultArgs()
	arg.MustParse(&args)
	return args
}

func main() {
	args := procArgs()
	if err := logging.Configure(args.LogLevel, args.Timestamps); err != nil {
		log.WithError(err).Warn("unknown log level, defaulting to info")
	}
	if err := run(args); err != nil {
		log.WithError(err).Fatal("fatal")
	}
}

func run(args Args) error {
	device := args.Device
	if device == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("hostname: %w", err)
		}
		device = host
	}

	cfg, err := settings.Load(filepath.Join(args.ConfigDir, settings.FileName))
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	// Sensor module, power-gated
	power, err := gpio.NewRealOutput(args.PowerPin)
	if err != nil {
		return fmt.Errorf("init power pin: %w", err)
	}
	defer power.Close()

	inaCfg := sensor.DefaultINA219Config()
	inaCfg.Bus = args.I2CBus
	inaCfg.Invert = args.InvertCurrent
	ina, err := sensor.OpenINA219(inaCfg)
	if err != nil {
		return fmt.Errorf("init ina219: %w", err)
	}
	defer ina.Close()
	sampler := sensor.NewGated(ina, power, sensorSettle)

	store := ridelog.NewStore(args.LogDir)
	if err := store.Init(); err != nil {
		return fmt.Errorf("init log store: %w", err)
	}
	radio := wifi.NewEnvMonitor(args.EnvFile)

	if args.PrintState {
		return printState(os.Stdout, sampler, radio, store)
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		Device:         device,
		ActivePeriodMs: scheduler.DefaultConfig().ActivePeriod.Milliseconds(),
		IdlePeriodMs:   scheduler.DefaultConfig().IdlePeriod.Milliseconds(),
		Broker:         args.Broker,
		HTTPAddr:       args.HTTP,
		LogDir:         args.LogDir,
	})
	tracker.SetNetwork(toStatusNetwork(radio.Network()))
	tracker.SetManualRideStart(cfg.ManualRideStart())

	var publisher mqtt.Publisher = nopPublisher{}
	var mqttStatus mqtt.ConnectionStatus
	if args.Broker != "" {
		rp, err := mqtt.NewRealPublisher(mqtt.Options{Broker: args.Broker, Device: device})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer rp.Close()
		publisher = rp
		mqttStatus = rp
	}

	hub := web.NewHub()

	var mgr *state.Manager
	rideLogger := ridelog.NewLogger(store, ridelog.Config{
		Snapshot:   tracker.Snapshot,
		IsCharging: func() bool { return mgr.IsCharging() },
	})
	defer rideLogger.Close()

	mgr = state.NewManager(state.Hooks{
		Publishers: []state.Publisher{publisher, hub},
		Logger:     rideLogger,
		Manual:     cfg,
	})
	mgr.Mirror(func(c state.Change) { tracker.SetState(c.To) })
	mgr.SetState(logic.StateParked)

	publisher.OnCommand(func(c mqtt.Command) { handleCommand(c, mgr, cfg, tracker) })

	sched := scheduler.New(scheduler.DefaultConfig(), scheduler.Deps{
		Sampler:   sampler,
		States:    mgr,
		Queue:     store,
		Storage:   store,
		Uploader:  upload.New(store, cfg, radio, nil),
		Logger:    rideLogger,
		Clients:   hub,
		Wifi:      radio,
		Settings:  cfg,
		Telemetry: []scheduler.Telemetry{publisher, hub},
		Tracker:   tracker,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if args.GPSPort != "" {
		startGPS(ctx, args.GPSPort, args.GPSBaud, tracker)
	}

	if args.HTTP != "" {
		srv := web.New(args.HTTP, tracker, hub, mgr, store)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.WithField("addr", args.HTTP).Info("http status server listening")
	}

	// Publish startup event with full status snapshot
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}
	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.WithError(err).Warn("failed to publish startup event")
	}

	log.WithFields(logrus.Fields{
		"device":  device,
		"broker":  args.Broker,
		"log_dir": args.LogDir,
		"version": version,
	}).Info("started")

	var heartbeat <-chan time.Time
	if args.Heartbeat > 0 {
		ticker := time.NewTicker(args.Heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(ctx, loopDeps{
		runner:     sched,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		network:    radio,
	}, time.Now, heartbeat, sigCh)
}

// Runner is the duty-cycle loop.
type Runner interface {
	Run(ctx context.Context) error
}

// NetworkSource supplies the helper's network record.
type NetworkSource interface {
	Network() *wifi.Network
}

type loopDeps struct {
	runner     Runner
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	network    NetworkSource
}

// runLoop runs the scheduler until a signal arrives, publishing heartbeats
// on the way and a SHUTDOWN event at the end.
func runLoop(ctx context.Context, d loopDeps, now func() time.Time, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.runner.Run(runCtx) }()

	for {
		select {
		case s := <-sig:
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			log.WithField("signal", signalName).Info("shutting down")

			cancel()
			if err := <-done; err != nil {
				log.WithError(err).Warn("scheduler stopped with error")
			}

			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			d.refresh(false)
			event.RawPayload = status.FormatStatusEvent(d.tracker.Snapshot(), "SHUTDOWN", signalName)
			if err := d.publisher.PublishSystem(event); err != nil {
				log.WithError(err).Warn("failed to publish shutdown event")
			} else {
				log.Info("published shutdown event")
			}
			return nil

		case err := <-done:
			if err != nil {
				return fmt.Errorf("scheduler: %w", err)
			}
			return nil

		case <-heartbeat:
			d.refresh(true)
			snap := d.tracker.Snapshot()
			log.WithFields(logrus.Fields{
				"state":   snap.State,
				"uptime":  snap.Uptime().Truncate(time.Second),
				"pending": snap.PendingLogs,
			}).Info("heartbeat")

			hb := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      "HEARTBEAT",
				RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
			}
			if err := d.publisher.PublishSystem(hb); err != nil {
				log.WithError(err).Warn("heartbeat publish error")
			}
		}
	}
}

// refresh copies connection state into the tracker before a system event.
func (d loopDeps) refresh(network bool) {
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	if network && d.network != nil {
		d.tracker.SetNetwork(toStatusNetwork(d.network.Network()))
	}
}

// CommandTarget accepts manual ride commands.
type CommandTarget interface {
	Command(ev logic.EventType) bool
}

// ManualSetting persists the manual ride start flag.
type ManualSetting interface {
	SetManualRideStart(on bool)
	Save() error
}

// handleCommand applies one inbound MQTT command.
func handleCommand(c mqtt.Command, target CommandTarget, cfg ManualSetting, tracker *status.Tracker) {
	entry := log.WithField("command", c)
	switch c {
	case mqtt.CommandStart, mqtt.CommandStop:
		ev := logic.EventManualStart
		if c == mqtt.CommandStop {
			ev = logic.EventManualStop
		}
		if !target.Command(ev) {
			entry.Info("command rejected")
			return
		}
		entry.Info("command applied")

	case mqtt.CommandManualOn, mqtt.CommandManualOff:
		on := c == mqtt.CommandManualOn
		cfg.SetManualRideStart(on)
		if err := cfg.Save(); err != nil {
			entry.WithError(err).Warn("could not save settings")
		}
		if tracker != nil {
			tracker.SetManualRideStart(on)
		}
		entry.WithField("manual_ride_start", on).Info("setting changed")
	}
}

func startGPS(ctx context.Context, port string, baud uint, tracker *status.Tracker) {
	rw, err := gps.OpenSerial(port, baud)
	if err != nil {
		log.WithError(err).WithField("port", port).Warn("gps unavailable")
		return
	}
	go func() {
		<-ctx.Done()
		rw.Close()
	}()
	go func() {
		if err := gps.Run(ctx, rw, tracker.UpdateFix); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Warn("gps reader stopped")
		}
	}()
	log.WithField("port", port).Info("gps reader started")
}

func toStatusNetwork(n *wifi.Network) *status.NetworkInfo {
	if n == nil {
		return nil
	}
	return &status.NetworkInfo{
		Type:       n.Type,
		IP:         n.IP,
		Status:     n.Status,
		Gateway:    n.Gateway,
		WifiStatus: n.WifiStatus,
		SSID:       n.SSID,
	}
}

// Sampler reads one sensor sample.
type Sampler interface {
	Read() (sensor.Sample, error)
}

// PendingCounter counts queued logs.
type PendingCounter interface {
	PendingCount() (int, error)
}

func printState(w io.Writer, s Sampler, radio wifi.Monitor, store PendingCounter) error {
	sample, err := s.Read()
	if err != nil {
		return fmt.Errorf("read sensor: %w", err)
	}
	pending, err := store.PendingCount()
	if err != nil {
		pending = 0
	}
	fmt.Fprintf(w, "current: %.3f A, voltage: %.3f V, wifi: %s, pending logs: %d\n",
		sample.Current, sample.Voltage, radio.State(), pending)
	return nil
}

// nopPublisher stands in when MQTT is disabled.
type nopPublisher struct{}

func (nopPublisher) PublishState(logic.DeviceState) error  { return nil }
func (nopPublisher) PublishSnapshot(status.Snapshot) error { return nil }
func (nopPublisher) PublishField(string, float64) error    { return nil }
func (nopPublisher) PublishSystem(mqtt.SystemEvent) error  { return nil }
func (nopPublisher) OnCommand(mqtt.CommandHandler)         {}
func (nopPublisher) Close() error                          { return nil }
