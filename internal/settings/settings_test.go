package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", FileName)

	st, err := Load(path)
	require.NoError(t, err)

	s := st.Get()
	assert.False(t, s.ManualRideStart)
	assert.Equal(t, 15*time.Minute, st.UploadInterval())
	_, err = uuid.Parse(s.DeviceKey)
	assert.NoError(t, err, "default device key should be a uuid")

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, s.DeviceKey, again.DeviceKey(), "device key must survive a reload")
}

func TestLoadExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	body := "manual_ride_start: true\nupload_interval: 60\ndevice_key: abc123\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	st, err := Load(path)
	require.NoError(t, err)
	assert.True(t, st.ManualRideStart())
	assert.Equal(t, time.Hour, st.UploadInterval())
	assert.Equal(t, "abc123", st.DeviceKey())
	assert.Equal(t, DefaultUploadURL, st.UploadURL())
}

func TestLoadIgnoresRetiredWifiBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	body := "upload_interval: 30\nwifi:\n  client_ssid: garage\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	st, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, st.UploadInterval())

	require.NoError(t, st.Save())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "wifi")
}

func TestLoadZeroUploadIntervalUsesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("upload_interval: 0\ndevice_key: abc123\n"), 0o644))

	st, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultUploadInterval*time.Minute, st.UploadInterval())
	assert.Equal(t, uint16(DefaultUploadInterval), st.Get().UploadInterval)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("upload_interval: [nope"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadUploadIntervalOverflow(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("upload_interval: 70000\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err, "interval is a uint16 number of minutes")
}

func TestSetManualRideStartAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	st := NewStore(path, Defaults())

	st.SetManualRideStart(true)
	require.NoError(t, st.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, reloaded.ManualRideStart())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestGetReturnsCopy(t *testing.T) {
	st := NewStore(filepath.Join(t.TempDir(), FileName), Defaults())
	s := st.Get()
	s.ManualRideStart = true
	assert.False(t, st.ManualRideStart())
}
