package minsat

import (
	"bufio"
	"context"
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"minion-go/errcode"
)

// AcquireFix powers the GPS and reads NMEA until a valid solution or timeout.
// When maintainPower is true the receiver is left powered on success so the
// fix stays warm for a follow-up send; it is always powered down on failure.
func (d *Device) AcquireFix(ctx context.Context, timeout time.Duration, maintainPower bool) (Fix, error) {
	if err := d.power.GPSPower(true); err != nil {
		return Fix{}, errors.Wrap(err, "minsat: gps power on")
	}

	fix, err := d.readFix(ctx, timeout)
	if err != nil || !maintainPower {
		if perr := d.power.GPSPower(false); perr != nil {
			d.log.Warn("gps power off failed", zap.Error(perr))
		}
	}
	return fix, err
}

func (d *Device) readFix(ctx context.Context, timeout time.Duration) (Fix, error) {
	port, err := d.open(d.cfg.GPSPort, d.cfg.GPSBaud)
	if err != nil {
		return Fix{}, errors.Wrap(err, "minsat: open gps port")
	}
	defer port.Close()

	deadline := time.Now().Add(timeout)
	rd := bufio.NewReader(port)
	var fix Fix

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return fix, err
		}
		line, err := rd.ReadString('\n')
		if len(line) > 0 {
			if updateFix(&fix, strings.TrimSpace(line)) && fix.Valid {
				d.log.Info("gps fix acquired",
					zap.Float64("lat", fix.Lat),
					zap.Float64("lon", fix.Lon),
					zap.Int("satellites", fix.Satellites))
				return fix, nil
			}
		}
		if err != nil {
			// EOF or serial poll timeout: keep waiting out the deadline.
			time.Sleep(50 * time.Millisecond)
		}
	}

	d.log.Warn("gps fix timeout", zap.Duration("timeout", timeout))
	return fix, errcode.GPSTimeout
}

// updateFix folds one NMEA sentence into the running fix. Returns true if
// the sentence parsed as something we understand.
func updateFix(fix *Fix, line string) bool {
	s, err := nmea.Parse(line)
	if err != nil {
		return false
	}
	switch m := s.(type) {
	case nmea.RMC:
		if m.Validity != nmea.ValidRMC {
			return true
		}
		fix.Lat = m.Latitude
		fix.Lon = m.Longitude
		fix.Time = nmeaDateTime(m.Date, m.Time)
		fix.Valid = true
		return true
	case nmea.GGA:
		fix.Satellites = int(m.NumSatellites)
		if m.FixQuality != nmea.Invalid {
			fix.Lat = m.Latitude
			fix.Lon = m.Longitude
			fix.Valid = true
		}
		return true
	default:
		return false
	}
}

func nmeaDateTime(d nmea.Date, t nmea.Time) time.Time {
	if !d.Valid || !t.Valid {
		return time.Time{}
	}
	return time.Date(2000+d.YY, time.Month(d.MM), d.DD,
		t.Hour, t.Minute, t.Second, t.Millisecond*1e6, time.UTC)
}
