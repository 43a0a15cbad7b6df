package mqtt

import (
	"sync"

	"github.com/sweeney/esk8-logger/internal/logic"
	"github.com/sweeney/esk8-logger/internal/status"
)

// FieldValue is one recorded PublishField call.
type FieldValue struct {
	Field string
	Value float64
}

// FakePublisher records published messages for test assertions. It is
// safe for concurrent use; read the recorded slices through the accessor
// methods when other goroutines may still be publishing.
type FakePublisher struct {
	mu sync.Mutex

	// States contains every published device state.
	States []logic.DeviceState

	// Snapshots contains every published telemetry snapshot.
	Snapshots []status.Snapshot

	// Fields contains every published single value, in order.
	Fields []FieldValue

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, is returned by the state and telemetry publishes.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	handler CommandHandler
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishState records the state.
func (f *FakePublisher) PublishState(s logic.DeviceState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.States = append(f.States, s)
	return nil
}

// PublishSnapshot records the snapshot and its field values.
func (f *FakePublisher) PublishSnapshot(snap status.Snapshot) error {
	f.mu.Lock()
	if f.PublishError != nil {
		f.mu.Unlock()
		return f.PublishError
	}
	f.Snapshots = append(f.Snapshots, snap)
	f.mu.Unlock()

	for name, v := range SnapshotFields(snap) {
		if err := f.PublishField(name, v); err != nil {
			return err
		}
	}
	return nil
}

// PublishField records one value.
func (f *FakePublisher) PublishField(field string, value float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Fields = append(f.Fields, FieldValue{Field: field, Value: value})
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// OnCommand stores the handler for Deliver.
func (f *FakePublisher) OnCommand(h CommandHandler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

// Deliver simulates an inbound command payload. It reports whether the
// payload parsed and a handler was registered.
func (f *FakePublisher) Deliver(payload []byte) bool {
	cmd, err := ParseCommand(payload)
	if err != nil {
		return false
	}
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(cmd)
	return true
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// StatesSnapshot returns a copy of the recorded states.
func (f *FakePublisher) StatesSnapshot() []logic.DeviceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]logic.DeviceState(nil), f.States...)
}

// SystemEventsSnapshot returns a copy of the recorded system events.
func (f *FakePublisher) SystemEventsSnapshot() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.SystemEvents...)
}

// SnapshotCount returns how many telemetry snapshots were published.
func (f *FakePublisher) SnapshotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Snapshots)
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.States = nil
	f.Snapshots = nil
	f.Fields = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
