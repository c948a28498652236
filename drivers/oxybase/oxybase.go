// Package oxybase drives the PreSens OxyBase oxygen optode over a serial
// line. The instrument speaks a tiny ASCII protocol: "mode0001\r" powers the
// measurement loop, "data\r" requests one reading, "mode0000\r" stops it.
//
// The serial port itself and the power rail switch are injected: the caller
// owns the physical port (19200 8N1 on the unit) and the GPIO that feeds the
// sensor. Readings are returned verbatim; decoding happens ashore.
package oxybase

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Instrument commands.
const (
	cmdModeOn  = "mode0001\r"
	cmdModeOff = "mode0000\r"
	cmdData    = "data\r"
)

// warmup is the settle time after power-on before the instrument accepts
// commands.
const warmup = 4 * time.Second

// PowerFunc switches the sensor supply rail.
type PowerFunc func(on bool) error

// Device is an OxyBase handle bound to an open serial port.
type Device struct {
	port  io.ReadWriter
	rd    *bufio.Reader
	power PowerFunc
	sleep func(context.Context, time.Duration) error // test seam
}

// New creates a handle. power may be nil when the rail is switched elsewhere.
func New(port io.ReadWriter, power PowerFunc) *Device {
	return &Device{
		port:  port,
		rd:    bufio.NewReader(port),
		power: power,
		sleep: waitCtx,
	}
}

func waitCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start powers the sensor, waits out the warmup, and enables measurement
// mode. A cancelled context aborts the warmup and drops the rail again.
func (d *Device) Start(ctx context.Context) error {
	if d.power != nil {
		if err := d.power(true); err != nil {
			return errors.Wrap(err, "oxybase: power on")
		}
	}
	if err := d.sleep(ctx, warmup); err != nil {
		if d.power != nil {
			_ = d.power(false)
		}
		return err
	}
	if _, err := io.WriteString(d.port, cmdModeOn); err != nil {
		return errors.Wrap(err, "oxybase: enable measurement mode")
	}
	return d.sleep(ctx, time.Second)
}

// Sample requests one reading and returns the raw reply line.
func (d *Device) Sample() (string, error) {
	if _, err := io.WriteString(d.port, cmdData); err != nil {
		return "", errors.Wrap(err, "oxybase: request data")
	}
	line, err := d.rd.ReadString('\r')
	if err != nil {
		return "", errors.Wrap(err, "oxybase: read reply")
	}
	return strings.TrimSpace(line), nil
}

// Shutdown stops the measurement loop and drops the power rail.
func (d *Device) Shutdown() error {
	if _, err := io.WriteString(d.port, cmdModeOff); err != nil {
		return errors.Wrap(err, "oxybase: disable measurement mode")
	}
	if d.power != nil {
		if err := d.power(false); err != nil {
			return errors.Wrap(err, "oxybase: power off")
		}
	}
	return nil
}
