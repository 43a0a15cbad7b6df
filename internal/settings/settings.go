// Package settings persists user-editable configuration as a YAML file.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/esk8-logger/internal/logging"
)

var log = logging.Component("settings")

// FileName is the settings file inside the config directory.
const FileName = "settings.yaml"

// DefaultUploadURL is used when the file does not name one.
const DefaultUploadURL = "http://192.168.1.28:8080/upload"

// DefaultUploadInterval is used when the file leaves the interval unset
// or zero.
const DefaultUploadInterval = 15

// Settings is the on-disk document.
type Settings struct {
	ManualRideStart bool   `yaml:"manual_ride_start"`
	UploadInterval  uint16 `yaml:"upload_interval"` // minutes
	DeviceKey       string `yaml:"device_key"`
	UploadURL       string `yaml:"upload_url"`
}

// Defaults returns the settings used for a fresh device.
func Defaults() Settings {
	return Settings{
		UploadInterval: DefaultUploadInterval,
		DeviceKey:      uuid.NewString(),
		UploadURL:      DefaultUploadURL,
	}
}

// Store guards a Settings value and the file it came from.
type Store struct {
	path string

	mu  sync.RWMutex
	cur Settings
}

// NewStore returns an in-memory store that saves to path.
func NewStore(path string, s Settings) *Store {
	return &Store{path: path, cur: s}
}

// Load reads path. A missing file yields defaults, which are written back
// so the generated device key is stable across restarts.
func Load(path string) (*Store, error) {
	s := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		st := NewStore(path, s)
		if err := st.Save(); err != nil {
			log.WithError(err).Warn("could not write default settings")
		}
		log.WithField("path", path).Info("created default settings")
		return st, nil
	case err != nil:
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if s.DeviceKey == "" {
		s.DeviceKey = uuid.NewString()
	}
	if s.UploadURL == "" {
		s.UploadURL = DefaultUploadURL
	}
	// Zero would retry uploads every idle cycle.
	if s.UploadInterval == 0 {
		log.WithField("default", DefaultUploadInterval).Warn("upload_interval is 0, using default")
		s.UploadInterval = DefaultUploadInterval
	}
	return NewStore(path, s), nil
}

// Save writes the current settings atomically.
func (st *Store) Save() error {
	st.mu.RLock()
	data, err := yaml.Marshal(st.cur)
	st.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(st.path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(st.path), ".settings-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), st.path); err != nil {
		return fmt.Errorf("replacing settings: %w", err)
	}
	return nil
}

// Get returns a copy of the current settings.
func (st *Store) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.cur
}

// ManualRideStart reports whether rides are started and stopped by command
// instead of by current draw.
func (st *Store) ManualRideStart() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.cur.ManualRideStart
}

// UploadInterval is the minimum time between upload attempts.
func (st *Store) UploadInterval() time.Duration {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return time.Duration(st.cur.UploadInterval) * time.Minute
}

// DeviceKey identifies this board to the upload server.
func (st *Store) DeviceKey() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.cur.DeviceKey
}

// UploadURL is the endpoint log files are posted to.
func (st *Store) UploadURL() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.cur.UploadURL
}

// SetManualRideStart changes the flag in memory. Call Save to persist.
func (st *Store) SetManualRideStart(on bool) {
	st.mu.Lock()
	st.cur.ManualRideStart = on
	st.mu.Unlock()
}
