package gps

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	rmcValid = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230326,003.1,W*63"
	rmcVoid  = "$GPRMC,123520,V,4807.038,N,01131.000,E,000.0,084.4,230326,003.1,W*7A"
	ggaFix   = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
)

func TestParseRMC(t *testing.T) {
	var p Parser
	fix, ok := p.ParseLine(rmcValid + "\r\n")
	require.True(t, ok)

	assert.True(t, fix.Valid)
	assert.InDelta(t, 48.1173, fix.Latitude, 1e-4)
	assert.InDelta(t, 11.5167, fix.Longitude, 1e-4)
	assert.InDelta(t, 22.4*1.852, fix.SpeedKmh, 1e-6)
	assert.InDelta(t, 84.4, fix.CourseDeg, 1e-6)
	assert.Equal(t, time.Date(2026, 3, 23, 12, 35, 19, 0, time.UTC), fix.Time)
}

func TestParseVoidRMC(t *testing.T) {
	var p Parser
	fix, ok := p.ParseLine(rmcVoid)
	require.True(t, ok)
	assert.False(t, fix.Valid)
}

func TestGGAContributesAltitude(t *testing.T) {
	var p Parser
	_, ok := p.ParseLine(ggaFix)
	assert.False(t, ok, "GGA alone does not emit a fix")

	fix, ok := p.ParseLine(rmcValid)
	require.True(t, ok)
	assert.InDelta(t, 545.4, fix.AltitudeM, 1e-6)
	assert.Equal(t, int64(8), fix.Satellites)
}

func TestParseIgnoresNoise(t *testing.T) {
	var p Parser
	for _, line := range []string{"", "garbage", "$GPRMC,broken*00", "GPRMC,123519,A"} {
		_, ok := p.ParseLine(line)
		assert.False(t, ok, "line %q", line)
	}
}

func TestRun(t *testing.T) {
	input := strings.Join([]string{"noise", ggaFix, rmcVoid, rmcValid, ""}, "\r\n")
	var fixes []Fix
	err := Run(context.Background(), strings.NewReader(input), func(f Fix) {
		fixes = append(fixes, f)
	})
	require.NoError(t, err)
	require.Len(t, fixes, 2)
	assert.False(t, fixes[0].Valid)
	assert.True(t, fixes[1].Valid)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, strings.NewReader(rmcValid+"\n"), func(Fix) {
		t.Fatal("no fix expected after cancel")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHaversine(t *testing.T) {
	assert.InDelta(t, 0, HaversineKm(48.1, 11.5, 48.1, 11.5), 1e-9)
	// One degree of latitude.
	assert.InDelta(t, 111.12, HaversineKm(48, 11, 49, 11), 0.1)
}
