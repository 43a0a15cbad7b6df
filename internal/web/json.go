package web

import (
	"encoding/json"
	"time"

	"github.com/sweeney/esk8-logger/internal/logic"
	"github.com/sweeney/esk8-logger/internal/status"
)

// Live message types sent over /ws.
const (
	LiveState     = "state"
	LiveTelemetry = "telemetry"
	LiveStatus    = "status"
)

// LiveMessage is one websocket frame.
type LiveMessage struct {
	Type      string          `json:"type"`
	State     string          `json:"state,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func formatLiveState(s logic.DeviceState, at time.Time) []byte {
	data, _ := json.Marshal(LiveMessage{
		Type:      LiveState,
		State:     string(s),
		Timestamp: at.UTC().Format(time.RFC3339),
	})
	return data
}

func formatLiveTelemetry(snap status.Snapshot) []byte {
	data, _ := json.Marshal(LiveMessage{
		Type:      LiveTelemetry,
		State:     string(snap.State),
		Timestamp: snap.Now.UTC().Format(time.RFC3339),
		Data:      status.FormatTelemetry(snap),
	})
	return data
}

func formatLiveStatus(snap status.Snapshot) []byte {
	data, _ := json.Marshal(LiveMessage{
		Type:      LiveStatus,
		State:     string(snap.State),
		Timestamp: snap.Now.UTC().Format(time.RFC3339),
		Data:      status.FormatStatusEvent(snap, "", ""),
	})
	return data
}
