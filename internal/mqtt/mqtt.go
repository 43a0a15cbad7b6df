// Package mqtt publishes board state and telemetry and receives ride
// commands, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/esk8-logger/internal/logging"
	"github.com/sweeney/esk8-logger/internal/logic"
	"github.com/sweeney/esk8-logger/internal/status"
)

var log = logging.Component("mqtt")

// TopicPrefix is the root of every topic this daemon uses.
const TopicPrefix = "esk8"

// Topics are the per-device topic names.
type Topics struct {
	State     string
	Telemetry string
	Command   string
	System    string
}

// NewTopics returns the topic set for a device id.
func NewTopics(device string) Topics {
	base := TopicPrefix + "/" + device
	return Topics{
		State:     base + "/state",
		Telemetry: base + "/telemetry",
		Command:   base + "/command",
		System:    base + "/system",
	}
}

// Field returns the topic for a single telemetry value.
func (t Topics) Field(name string) string {
	return t.Telemetry + "/" + name
}

// Publisher publishes to MQTT.
type Publisher interface {
	// PublishState sends the device state, retained.
	PublishState(s logic.DeviceState) error

	// PublishSnapshot sends the telemetry payload and its per-field values.
	PublishSnapshot(snap status.Snapshot) error

	// PublishField sends one telemetry value.
	PublishField(field string, value float64) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// OnCommand registers the handler for inbound commands.
	OnCommand(h CommandHandler)

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// StatePayload is the retained message on the state topic.
type StatePayload struct {
	Board BoardPayload `json:"board"`
}

// BoardPayload contains the state details.
type BoardPayload struct {
	Timestamp string `json:"timestamp"`
	State     string `json:"state"`
}

// FormatStatePayload creates the JSON payload for a state publish.
func FormatStatePayload(s logic.DeviceState, at time.Time) ([]byte, error) {
	return json.Marshal(StatePayload{
		Board: BoardPayload{
			Timestamp: at.UTC().Format(time.RFC3339),
			State:     string(s),
		},
	})
}

// Telemetry field names published under the telemetry topic.
const (
	FieldCurrent = "current"
	FieldVoltage = "voltage"
	FieldSpeed   = "speed_kmh"
	FieldTrip    = "trip_km"
)

// SnapshotFields returns the per-field values for a snapshot. Speed is
// only included with a valid fix.
func SnapshotFields(snap status.Snapshot) map[string]float64 {
	fields := map[string]float64{
		FieldCurrent: snap.Current,
		FieldVoltage: snap.Voltage,
		FieldTrip:    snap.TripKm,
	}
	if snap.Fix.Valid {
		fields[FieldSpeed] = snap.Fix.SpeedKmh
	}
	return fields
}

// FormatField formats a single value payload.
func FormatField(v float64) []byte {
	return []byte(fmt.Sprintf("%.3f", v))
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Command is an inbound instruction on the command topic.
type Command string

const (
	CommandStart     Command = "start"
	CommandStop      Command = "stop"
	CommandManualOn  Command = "manual:on"
	CommandManualOff Command = "manual:off"
)

// CommandHandler receives parsed commands.
type CommandHandler func(Command)

// ParseCommand validates a command payload. Surrounding whitespace and case
// are ignored.
func ParseCommand(payload []byte) (Command, error) {
	c := Command(strings.ToLower(strings.TrimSpace(string(payload))))
	switch c {
	case CommandStart, CommandStop, CommandManualOn, CommandManualOff:
		return c, nil
	}
	return "", fmt.Errorf("unknown command %q", string(payload))
}
