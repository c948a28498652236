// Package minsat drives the MinSat recovery board: a GPS receiver and an
// Iridium 9602 SBD modem sharing a serial mux, plus power switching for both.
//
// The GPS side streams NMEA until a fix is acquired; the modem side is a
// short-burst-data AT session. Both block with fixed timeouts — there is no
// background machinery here, the recovery sequencer owns pacing and retries.
package minsat

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"minion-go/x/timex"
)

// Defaults match the hat wiring.
const (
	DefaultGPSPort   = "/dev/ttySC0"
	DefaultGPSBaud   = 9600
	DefaultModemPort = "/dev/ttySC1"
	DefaultModemBaud = 19200
)

// Power switches the GPS and modem supply rails.
type Power interface {
	GPSPower(on bool) error
	ModemPower(on bool) error
}

// Config selects ports and baud rates. Zero values take the defaults above.
type Config struct {
	GPSPort   string
	GPSBaud   int
	ModemPort string
	ModemBaud int
}

func (c Config) withDefaults() Config {
	if c.GPSPort == "" {
		c.GPSPort = DefaultGPSPort
	}
	if c.GPSBaud == 0 {
		c.GPSBaud = DefaultGPSBaud
	}
	if c.ModemPort == "" {
		c.ModemPort = DefaultModemPort
	}
	if c.ModemBaud == 0 {
		c.ModemBaud = DefaultModemBaud
	}
	return c
}

// PortOpener opens a serial port. Tests inject fakes.
type PortOpener func(name string, baud int) (io.ReadWriteCloser, error)

func openSerial(name string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	// Short poll timeout; command loops apply their own deadlines.
	_ = port.SetReadTimeout(250 * time.Millisecond)
	return port, nil
}

// Device is a MinSat handle.
type Device struct {
	cfg   Config
	power Power
	open  PortOpener
	log   *zap.Logger
}

// New creates a MinSat handle using real serial ports.
func New(cfg Config, power Power, log *zap.Logger) *Device {
	return &Device{cfg: cfg.withDefaults(), power: power, open: openSerial, log: log}
}

// GPSPower switches the GPS rail.
func (d *Device) GPSPower(on bool) error { return d.power.GPSPower(on) }

// ModemPower switches the modem rail.
func (d *Device) ModemPower(on bool) error { return d.power.ModemPower(on) }

// Fix is one GPS position solution.
type Fix struct {
	Lat, Lon   float64
	Time       time.Time
	Satellites int
	Valid      bool
}

// Message renders the fix as the SBD position report line.
func (f Fix) Message() string {
	return fmt.Sprintf("GPS,%s,%.6f,%.6f,%d",
		timex.UTCStamp(f.Time), f.Lat, f.Lon, f.Satellites)
}
