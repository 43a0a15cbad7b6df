// Package wifi reports the radio state used to gate sleep and uploads.
// The network helper owns the radio; this package only reads what it
// publishes in its env file.
package wifi

import (
	"os"
	"strings"
	"sync"

	"github.com/subosito/gotenv"

	"github.com/sweeney/esk8-logger/internal/logging"
)

var log = logging.Component("wifi")

// State is the radio mode.
type State string

const (
	Disabled        State = "DISABLED"
	AccessPoint     State = "ACCESS_POINT"
	Client          State = "CLIENT"
	ClientConnected State = "CLIENT_CONNECTED"
)

// Monitor reports the current radio state.
type Monitor interface {
	State() State
}

// DefaultEnvFile is where pi-helper writes network state.
const DefaultEnvFile = "/run/pi-helper.env"

// pi-helper env var names.
const (
	EnvNetworkType       = "NETWORK_TYPE"
	EnvNetworkIP         = "NETWORK_IP"
	EnvNetworkStatus     = "NETWORK_STATUS"
	EnvNetworkGateway    = "NETWORK_GATEWAY"
	EnvNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	EnvNetworkWifiSSID   = "NETWORK_WIFI_SSID"
	EnvNetworkWifiMode   = "NETWORK_WIFI_MODE"
)

// Network is the full helper record.
type Network struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
	Mode       string
}

// ParseState maps helper status and mode strings to a State.
func ParseState(status, mode string) State {
	status = strings.ToLower(strings.TrimSpace(status))
	mode = strings.ToLower(strings.TrimSpace(mode))

	switch status {
	case "", "off", "disabled", "down", "unavailable":
		return Disabled
	}
	if mode == "ap" || mode == "hotspot" || status == "hotspot" || status == "ap" {
		return AccessPoint
	}
	if status == "connected" {
		return ClientConnected
	}
	return Client
}

// EnvMonitor re-reads the helper env file on every query. When the file
// cannot be read the process environment is used instead.
type EnvMonitor struct {
	path string

	mu       sync.Mutex
	lastWarn string
}

// NewEnvMonitor creates a monitor for the given file.
func NewEnvMonitor(path string) *EnvMonitor {
	return &EnvMonitor{path: path}
}

func (m *EnvMonitor) values() map[string]string {
	env, err := gotenv.Read(m.path)
	if err == nil {
		return env
	}

	m.mu.Lock()
	if m.lastWarn != err.Error() {
		m.lastWarn = err.Error()
		log.WithError(err).Debug("network env file unreadable, using process environment")
	}
	m.mu.Unlock()

	out := make(map[string]string)
	for _, k := range []string{EnvNetworkType, EnvNetworkIP, EnvNetworkStatus, EnvNetworkGateway,
		EnvNetworkWifiStatus, EnvNetworkWifiSSID, EnvNetworkWifiMode} {
		if v, ok := os.LookupEnv(k); ok {
			out[k] = v
		}
	}
	return out
}

// State implements Monitor.
func (m *EnvMonitor) State() State {
	v := m.values()
	return ParseState(v[EnvNetworkWifiStatus], v[EnvNetworkWifiMode])
}

// Network returns the helper record, or nil when NETWORK_STATUS is unset.
func (m *EnvMonitor) Network() *Network {
	v := m.values()
	if v[EnvNetworkStatus] == "" {
		return nil
	}
	return &Network{
		Type:       v[EnvNetworkType],
		IP:         v[EnvNetworkIP],
		Status:     v[EnvNetworkStatus],
		Gateway:    v[EnvNetworkGateway],
		WifiStatus: v[EnvNetworkWifiStatus],
		SSID:       v[EnvNetworkWifiSSID],
		Mode:       v[EnvNetworkWifiMode],
	}
}

// Static is a Monitor with a settable state, for tests and for boards
// without a helper.
type Static struct {
	mu sync.Mutex
	s  State
}

// NewStatic returns a Static monitor in state s.
func NewStatic(s State) *Static {
	return &Static{s: s}
}

// State implements Monitor.
func (st *Static) State() State {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s
}

// Set changes the reported state.
func (st *Static) Set(s State) {
	st.mu.Lock()
	st.s = s
	st.mu.Unlock()
}
