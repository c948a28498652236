// Package tsys01 drives the TE TSYS01 precision temperature sensor.
//
// The conversion is a fourth-order polynomial over the 16-bit ADC value with
// coefficients read from sensor PROM at init, per the TSYS01 datasheet.
package tsys01

import (
	"time"

	"github.com/pkg/errors"
	"tinygo.org/x/drivers"
)

// I2C address (CSB low variant used on the Minion endcap).
const Address = 0x77

// Commands.
const (
	cmdReset   = 0x1E
	cmdAdcRead = 0x00
	cmdConvert = 0x48 // start ADC conversion

	// PROM coefficient addresses, k4 first.
	promK4 = 0xA2
	promK3 = 0xA4
	promK2 = 0xA6
	promK1 = 0xA8
	promK0 = 0xAA
)

// conversionWait covers the max ADC conversion time (~8.2 ms).
const conversionWait = 10 * time.Millisecond

// ErrNotInitialized is returned by Read before Init has loaded the PROM.
var ErrNotInitialized = errors.New("tsys01: init required before read")

// Device wraps an I2C connection to a TSYS01.
type Device struct {
	bus     drivers.I2C
	Address uint16

	k           [5]float64 // k[0]..k[4]
	initialized bool
}

// New creates a TSYS01 handle. The I2C bus must already be configured.
func New(bus drivers.I2C) Device {
	return Device{bus: bus, Address: Address}
}

// Init resets the sensor and loads the calibration coefficients.
func (d *Device) Init() error {
	if err := d.bus.Tx(d.Address, []byte{cmdReset}, nil); err != nil {
		return errors.Wrap(err, "tsys01: reset")
	}
	time.Sleep(10 * time.Millisecond)

	addrs := []byte{promK0, promK1, promK2, promK3, promK4}
	for i, a := range addrs {
		w, err := d.readWord(a)
		if err != nil {
			return errors.Wrapf(err, "tsys01: read PROM %#x", a)
		}
		d.k[i] = float64(w)
	}
	d.initialized = true
	return nil
}

func (d *Device) readWord(cmd byte) (uint16, error) {
	buf := make([]byte, 2)
	if err := d.bus.Tx(d.Address, []byte{cmd}, buf); err != nil {
		return 0, err
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

// Read triggers a conversion and returns the temperature in degrees C.
func (d *Device) Read() (float64, error) {
	if !d.initialized {
		return 0, ErrNotInitialized
	}
	if err := d.bus.Tx(d.Address, []byte{cmdConvert}, nil); err != nil {
		return 0, errors.Wrap(err, "tsys01: start conversion")
	}
	time.Sleep(conversionWait)

	buf := make([]byte, 3)
	if err := d.bus.Tx(d.Address, []byte{cmdAdcRead}, buf); err != nil {
		return 0, errors.Wrap(err, "tsys01: adc read")
	}
	adc24 := uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
	adc := float64(adc24 / 256)

	// Datasheet polynomial.
	temp := -2*d.k[4]*1e-21*pow4(adc) +
		4*d.k[3]*1e-16*pow3(adc) +
		-2*d.k[2]*1e-11*adc*adc +
		1*d.k[1]*1e-6*adc +
		-1.5*d.k[0]*1e-2
	return temp, nil
}

func pow3(v float64) float64 { return v * v * v }
func pow4(v float64) float64 { return v * v * v * v }
