package gps

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/sweeney/esk8-logger/internal/logging"
)

var log = logging.Component("gps")

// Parser accumulates NMEA sentences into a Fix. GGA only contributes
// altitude and satellite count; a Fix is emitted on every RMC.
type Parser struct {
	current Fix
}

// ParseLine consumes one NMEA line. It returns the updated fix and true
// when the line was an RMC sentence.
func (p *Parser) ParseLine(line string) (Fix, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Fix{}, false
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return Fix{}, false
	}

	switch sentence.DataType() {
	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		p.current.Valid = m.Validity == nmea.ValidRMC
		p.current.Latitude = m.Latitude
		p.current.Longitude = m.Longitude
		p.current.SpeedKmh = m.Speed * knotsToKmh
		p.current.CourseDeg = m.Course
		p.current.Time = fixTime(m.Date, m.Time)
		return p.current, true

	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		p.current.AltitudeM = m.Altitude
		p.current.Satellites = m.NumSatellites
	}
	return Fix{}, false
}

func fixTime(d nmea.Date, t nmea.Time) time.Time {
	if !d.Valid || !t.Valid {
		return time.Time{}
	}
	return time.Date(2000+d.YY, time.Month(d.MM), d.DD,
		t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}

// Run reads lines from r until it fails or ctx is cancelled, calling onFix
// for every RMC sentence.
func Run(ctx context.Context, r io.Reader, onFix func(Fix)) error {
	var p Parser
	reader := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := reader.ReadString('\n')
		if line != "" {
			if fix, ok := p.ParseLine(line); ok {
				onFix(fix)
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			log.WithError(err).Warn("gps read error")
			return err
		}
	}
}
