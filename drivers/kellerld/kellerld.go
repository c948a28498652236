// Package kellerld drives the Keller 4LD..9LD line of pressure transducers
// (the 100 bar sensor option on the pressure port).
//
// The sensor has no register file in the usual sense: a command byte selects
// a memory word or requests a measurement, and the reply is read as a block.
// Calibration (pMin/pMax) is read once at Init and applied to every sample.
// See the Keller "Communication Protocol 4LD-9LD" document.
package kellerld

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"tinygo.org/x/drivers"
)

// I2C address.
const Address = 0x40

// Commands.
const (
	cmdRequest = 0xAC // start a pressure/temperature conversion

	// Calibration word addresses: pMin in 0x13/0x14, pMax in 0x15/0x16.
	cmdPMinMSW = 0x13
	cmdPMinLSW = 0x14
	cmdPMaxMSW = 0x15
	cmdPMaxLSW = 0x16
)

// Status byte checks.
const (
	statusModeMask = 0b11 << 3 // must be 0
	statusChecksum = 1 << 2
)

// Errors returned by the driver.
var (
	ErrNotInitialized = errors.New("kellerld: init required before read")
	ErrInvalidMode    = errors.New("kellerld: invalid mode bits in status")
	ErrChecksum       = errors.New("kellerld: memory checksum error")
)

// conversionWait is generous; the datasheet worst case is well under 10 ms.
const conversionWait = 10 * time.Millisecond

// Device wraps an I2C connection to a Keller LD sensor.
type Device struct {
	bus     drivers.I2C
	Address uint16

	pMin, pMax  float64
	initialized bool
}

// New creates a Keller LD handle. The I2C bus must already be configured.
func New(bus drivers.I2C) Device {
	return Device{bus: bus, Address: Address}
}

// Init reads the calibration range out of sensor memory. Must be called once
// before Read.
func (d *Device) Init() error {
	pMin, err := d.readCalFloat(cmdPMinMSW, cmdPMinLSW)
	if err != nil {
		return errors.Wrap(err, "kellerld: read pMin")
	}
	pMax, err := d.readCalFloat(cmdPMaxMSW, cmdPMaxLSW)
	if err != nil {
		return errors.Wrap(err, "kellerld: read pMax")
	}
	d.pMin, d.pMax = pMin, pMax
	d.initialized = true
	return nil
}

// readCalFloat assembles a float32 calibration value from two 16-bit memory
// words addressed by separate command bytes.
func (d *Device) readCalFloat(msCmd, lsCmd byte) (float64, error) {
	ms, err := d.readWord(msCmd)
	if err != nil {
		return 0, err
	}
	ls, err := d.readWord(lsCmd)
	if err != nil {
		return 0, err
	}
	bits := uint32(ms)<<16 | uint32(ls)
	return float64(math.Float32frombits(bits)), nil
}

func (d *Device) readWord(cmd byte) (uint16, error) {
	if err := d.bus.Tx(d.Address, []byte{cmd}, nil); err != nil {
		return 0, err
	}
	time.Sleep(time.Millisecond)
	buf := make([]byte, 3) // status, MSB, LSB
	if err := d.bus.Tx(d.Address, nil, buf); err != nil {
		return 0, err
	}
	return uint16(buf[1])<<8 | uint16(buf[2]), nil
}

// Read triggers a conversion and returns pressure in bar and the sensor's
// internal temperature in degrees C.
func (d *Device) Read() (pressure, temperature float64, err error) {
	if !d.initialized {
		return 0, 0, ErrNotInitialized
	}
	if err := d.bus.Tx(d.Address, []byte{cmdRequest}, nil); err != nil {
		return 0, 0, errors.Wrap(err, "kellerld: request measurement")
	}
	time.Sleep(conversionWait)

	buf := make([]byte, 5) // status, P MSB, P LSB, T MSB, T LSB
	if err := d.bus.Tx(d.Address, nil, buf); err != nil {
		return 0, 0, errors.Wrap(err, "kellerld: read measurement")
	}

	status := buf[0]
	if status&statusModeMask != 0 {
		return 0, 0, ErrInvalidMode
	}
	if status&statusChecksum != 0 {
		return 0, 0, ErrChecksum
	}

	pRaw := uint16(buf[1])<<8 | uint16(buf[2])
	tRaw := uint16(buf[3])<<8 | uint16(buf[4])

	pressure = (float64(pRaw)-16384)*(d.pMax-d.pMin)/32768 + d.pMin
	temperature = (float64(tRaw>>4)-24)*0.05 - 50
	return pressure, temperature, nil
}
