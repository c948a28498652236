// Package ms5837 drives the TE MS5837-30BA pressure/temperature sensor
// (the 30 bar sensor option on the pressure port).
//
// PROM calibration words are read at init and checked with the datasheet CRC4.
// Each Read performs two conversions (D1 pressure, D2 temperature) at the
// highest oversampling and applies first and second order compensation.
package ms5837

import (
	"time"

	"github.com/pkg/errors"
	"tinygo.org/x/drivers"
)

// I2C address.
const Address = 0x76

// Commands.
const (
	cmdReset   = 0x1E
	cmdAdcRead = 0x00
	cmdPromRd  = 0xA0 // PROM word n at 0xA0 + 2n

	cmdConvertD1 = 0x4A // pressure, OSR 8192
	cmdConvertD2 = 0x5A // temperature, OSR 8192
)

// conversionWait covers OSR 8192 worst case (~17.2 ms).
const conversionWait = 20 * time.Millisecond

// Errors returned by the driver.
var (
	ErrNotInitialized = errors.New("ms5837: init required before read")
	ErrCRC            = errors.New("ms5837: PROM CRC mismatch")
)

// Device wraps an I2C connection to an MS5837.
type Device struct {
	bus     drivers.I2C
	Address uint16

	c           [8]uint16 // PROM: c[0] holds CRC+factory bits
	initialized bool
}

// New creates an MS5837 handle. The I2C bus must already be configured.
func New(bus drivers.I2C) Device {
	return Device{bus: bus, Address: Address}
}

// Init resets the device, loads PROM calibration and verifies its CRC.
func (d *Device) Init() error {
	if err := d.bus.Tx(d.Address, []byte{cmdReset}, nil); err != nil {
		return errors.Wrap(err, "ms5837: reset")
	}
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < 7; i++ {
		buf := make([]byte, 2)
		if err := d.bus.Tx(d.Address, []byte{cmdPromRd + byte(2*i)}, buf); err != nil {
			return errors.Wrapf(err, "ms5837: read PROM word %d", i)
		}
		d.c[i] = uint16(buf[0])<<8 | uint16(buf[1])
	}

	if crc4(d.c) != uint8(d.c[0]>>12) {
		return ErrCRC
	}
	d.initialized = true
	return nil
}

// Read returns pressure in mbar and temperature in degrees C.
func (d *Device) Read() (pressure, temperature float64, err error) {
	if !d.initialized {
		return 0, 0, ErrNotInitialized
	}
	d1, err := d.convert(cmdConvertD1)
	if err != nil {
		return 0, 0, errors.Wrap(err, "ms5837: D1")
	}
	d2, err := d.convert(cmdConvertD2)
	if err != nil {
		return 0, 0, errors.Wrap(err, "ms5837: D2")
	}

	// First order (datasheet naming).
	dT := int64(d2) - int64(d.c[5])*256
	sens := int64(d.c[1])*32768 + int64(d.c[3])*dT/256
	off := int64(d.c[2])*65536 + int64(d.c[4])*dT/128
	temp := 2000 + dT*int64(d.c[6])/8388608

	// Second order compensation.
	var ti, offi, sensi int64
	if temp < 2000 {
		ti = 3 * dT * dT / 8589934592
		offi = 3 * (temp - 2000) * (temp - 2000) / 2
		sensi = 5 * (temp - 2000) * (temp - 2000) / 8
		if temp < -1500 {
			offi += 7 * (temp + 1500) * (temp + 1500)
			sensi += 4 * (temp + 1500) * (temp + 1500)
		}
	} else {
		ti = 2 * dT * dT / 137438953472
		offi = (temp - 2000) * (temp - 2000) / 16
	}
	off -= offi
	sens -= sensi

	p := (int64(d1)*sens/2097152 - off) / 8192

	temperature = float64(temp-ti) / 100
	pressure = float64(p) / 10
	return pressure, temperature, nil
}

func (d *Device) convert(cmd byte) (uint32, error) {
	if err := d.bus.Tx(d.Address, []byte{cmd}, nil); err != nil {
		return 0, err
	}
	time.Sleep(conversionWait)
	buf := make([]byte, 3)
	if err := d.bus.Tx(d.Address, []byte{cmdAdcRead}, buf); err != nil {
		return 0, err
	}
	return uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2]), nil
}

// crc4 is the datasheet PROM check, computed over the 7 words with the CRC
// nibble zeroed and an 8th zero word appended.
func crc4(prom [8]uint16) uint8 {
	var rem uint16
	p := prom
	p[0] &= 0x0FFF
	p[7] = 0
	for i := 0; i < 16; i++ {
		if i%2 == 1 {
			rem ^= p[i>>1] & 0x00FF
		} else {
			rem ^= p[i>>1] >> 8
		}
		for b := 8; b > 0; b-- {
			if rem&0x8000 != 0 {
				rem = (rem << 1) ^ 0x3000
			} else {
				rem <<= 1
			}
		}
	}
	return uint8((rem >> 12) & 0x000F)
}
