package state

import "github.com/sweeney/esk8-logger/internal/logic"

// FakePublisher records published states.
type FakePublisher struct {
	States []logic.DeviceState
	Err    error
}

// PublishState records s and returns Err.
func (f *FakePublisher) PublishState(s logic.DeviceState) error {
	f.States = append(f.States, s)
	return f.Err
}

// FakeLogger records lifecycle hook calls in order.
type FakeLogger struct {
	Calls []string
	Err   error
}

func (f *FakeLogger) StartRide() error {
	f.Calls = append(f.Calls, "start-ride")
	return f.Err
}

func (f *FakeLogger) StopRide() error {
	f.Calls = append(f.Calls, "stop-ride")
	return f.Err
}

func (f *FakeLogger) StartCharging() error {
	f.Calls = append(f.Calls, "start-charging")
	return f.Err
}

// ManualFlag is a fixed ManualGate.
type ManualFlag bool

// ManualRideStart returns the flag value.
func (m ManualFlag) ManualRideStart() bool { return bool(m) }
