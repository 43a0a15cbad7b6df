package ridelog

import (
	"encoding/csv"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/esk8-logger/internal/gps"
	"github.com/sweeney/esk8-logger/internal/status"
)

func testSnapshot() status.Snapshot {
	return status.Snapshot{
		Current: 4.25,
		Voltage: 39.1,
		TripKm:  1.5,
		Fix: gps.Fix{
			Valid:     true,
			Latitude:  48.1173,
			Longitude: 11.5167,
			SpeedKmh:  21.3,
			AltitudeM: 545.4,
		},
	}
}

func readLog(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRow(t *testing.T) {
	start := time.Unix(1_774_267_200, 0)
	row := Row(testSnapshot(), start, start.Add(90*time.Second+400*time.Millisecond))
	assert.Equal(t, []string{
		"90", "1774267290", "48.117300", "11.516700", "21.300000",
		"39.100000", "4.250000", "1.500000", "545.400000",
	}, row)
}

func TestRideLogLifecycle(t *testing.T) {
	s := newStore(t)
	l := NewLogger(s, Config{
		RideInterval: 5 * time.Millisecond,
		Snapshot:     testSnapshot,
	})
	defer l.Close()

	require.NoError(t, l.StartRide())
	assert.True(t, l.Running())
	assert.True(t, l.RideRunning())
	assert.Error(t, l.StartRide(), "second ride log must be refused")

	n, err := s.PendingCount()
	require.NoError(t, err)
	assert.Zero(t, n, "open ride log must not be queued for upload")

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, l.StopRide())
	assert.False(t, l.Running())

	files, err := s.Pending()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(files[0].Name, "log."))

	rows := readLog(t, files[0].Path)
	require.GreaterOrEqual(t, len(rows), 2)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, "39.100000", rows[1][5])
}

func TestStopRideWhenIdle(t *testing.T) {
	l := NewLogger(newStore(t), Config{})
	defer l.Close()
	assert.NoError(t, l.StopRide())
}

func TestChargingLogEndsWhenNotCharging(t *testing.T) {
	s := newStore(t)
	var charging atomic.Bool
	charging.Store(true)

	l := NewLogger(s, Config{
		ChargeInterval: 5 * time.Millisecond,
		Snapshot:       testSnapshot,
		IsCharging:     charging.Load,
	})
	defer l.Close()

	require.NoError(t, l.StartCharging())
	assert.True(t, l.ChargeRunning())
	assert.False(t, l.RideRunning())

	time.Sleep(20 * time.Millisecond)
	charging.Store(false)
	require.Eventually(t, func() bool { return !l.Running() }, time.Second, 5*time.Millisecond)

	files, err := s.Pending()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(files[0].Name, "charge."))
	assert.GreaterOrEqual(t, len(readLog(t, files[0].Path)), 2)
}

func TestCloseStopsWriters(t *testing.T) {
	l := NewLogger(newStore(t), Config{RideInterval: time.Hour, IsCharging: func() bool { return true }})
	require.NoError(t, l.StartRide())
	require.NoError(t, l.StartCharging())
	require.NoError(t, l.Close())
	assert.False(t, l.Running())
}

func TestStartRideCreateError(t *testing.T) {
	l := NewLogger(NewStore(t.TempDir()+"/missing"), Config{})
	defer l.Close()
	assert.Error(t, l.StartRide())
	assert.False(t, l.Running())
}
