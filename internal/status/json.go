package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	State         string       `json:"state"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Battery       BatteryJSON  `json:"battery"`
	Location      LocationJSON `json:"location"`
	Ride          RideJSON     `json:"ride"`
	Gates         GatesJSON    `json:"gates"`
	Storage       StorageJSON  `json:"storage"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// BatteryJSON is the latest pack reading.
type BatteryJSON struct {
	Current    float64 `json:"current"`
	Voltage    float64 `json:"voltage"`
	SensorOK   bool    `json:"sensor_ok"`
	LastSample string  `json:"last_sample,omitempty"`
}

// LocationJSON is the latest GPS fix.
type LocationJSON struct {
	Valid      bool    `json:"valid"`
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"lon"`
	SpeedKmh   float64 `json:"speed_kmh"`
	AltitudeM  float64 `json:"altitude_m"`
	Satellites int64   `json:"satellites"`
}

// RideJSON describes the ride or charge in progress.
type RideJSON struct {
	TripKm          float64 `json:"trip_km"`
	DurationSeconds int64   `json:"duration_seconds"`
	ManualStart     bool    `json:"manual_ride_start"`
}

// GatesJSON reports the inputs of the sleep decision.
type GatesJSON struct {
	Wifi            string `json:"wifi"`
	ClientConnected bool   `json:"client_connected"`
	UploadRunning   bool   `json:"upload_running"`
	PendingLogs     int    `json:"pending_logs"`
}

// StorageJSON reports capacity of the log filesystem in bytes.
type StorageJSON struct {
	FreeBytes  uint64 `json:"free_bytes"`
	TotalBytes uint64 `json:"total_bytes"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Device         string `json:"device"`
	ActivePeriodMs int64  `json:"active_period_ms"`
	IdlePeriodMs   int64  `json:"idle_period_ms"`
	Broker         string `json:"broker"`
	HTTPAddr       string `json:"http_addr"`
	LogDir         string `json:"log_dir"`
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.State)
	if state == "" {
		state = "UNKNOWN"
	}

	inner := StatusInner{
		State:         state,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Battery: BatteryJSON{
			Current:  snap.Current,
			Voltage:  snap.Voltage,
			SensorOK: snap.SensorOK,
		},
		Location: LocationJSON{
			Valid:      snap.Fix.Valid,
			Latitude:   snap.Fix.Latitude,
			Longitude:  snap.Fix.Longitude,
			SpeedKmh:   snap.Fix.SpeedKmh,
			AltitudeM:  snap.Fix.AltitudeM,
			Satellites: snap.Fix.Satellites,
		},
		Ride: RideJSON{
			TripKm:          snap.TripKm,
			DurationSeconds: int64(snap.RideDuration().Truncate(time.Second).Seconds()),
			ManualStart:     snap.ManualRideStart,
		},
		Gates: GatesJSON{
			Wifi:            snap.Wifi,
			ClientConnected: snap.ClientConnected,
			UploadRunning:   snap.UploadRunning,
			PendingLogs:     snap.PendingLogs,
		},
		Storage: StorageJSON{
			FreeBytes:  snap.StorageFree,
			TotalBytes: snap.StorageTotal,
		},
		MQTT: MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			Device:         snap.Config.Device,
			ActivePeriodMs: snap.Config.ActivePeriodMs,
			IdlePeriodMs:   snap.Config.IdlePeriodMs,
			Broker:         snap.Config.Broker,
			HTTPAddr:       snap.Config.HTTPAddr,
			LogDir:         snap.Config.LogDir,
		},
	}
	if !snap.LastSample.IsZero() {
		inner.Battery.LastSample = snap.LastSample.UTC().Format(time.RFC3339)
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event or a
// telemetry publish (event "TELEMETRY").
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// TelemetryJSON is the flat per-cycle payload on the telemetry topic.
type TelemetryJSON struct {
	State     string  `json:"state"`
	Timestamp string  `json:"timestamp"`
	Current   float64 `json:"current"`
	Voltage   float64 `json:"voltage"`
	SensorOK  bool    `json:"sensor_ok"`
	Latitude  float64 `json:"lat,omitempty"`
	Longitude float64 `json:"lon,omitempty"`
	SpeedKmh  float64 `json:"speed_kmh"`
	TripKm    float64 `json:"trip_km"`
	FreeBytes uint64  `json:"storage_free_bytes"`
}

// FormatTelemetry returns the compact telemetry payload for a snapshot.
// Position is omitted without a valid fix.
func FormatTelemetry(snap Snapshot) []byte {
	t := TelemetryJSON{
		State:     string(snap.State),
		Timestamp: snap.Now.UTC().Format(time.RFC3339),
		Current:   snap.Current,
		Voltage:   snap.Voltage,
		SensorOK:  snap.SensorOK,
		TripKm:    snap.TripKm,
		FreeBytes: snap.StorageFree,
	}
	if snap.Fix.Valid {
		t.Latitude = snap.Fix.Latitude
		t.Longitude = snap.Fix.Longitude
		t.SpeedKmh = snap.Fix.SpeedKmh
	}
	data, _ := json.Marshal(t)
	return data
}
