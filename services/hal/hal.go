// Package hal owns the Minion's board-level hardware: header GPIO for LEDs
// and power enables, the I2C bus shared by the pressure/temperature sensors
// and the RTC, and the hat expander that switches the recovery loads.
package hal

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"

	"minion-go/errcode"
)

// Header pin assignments (physical numbering on the 40-pin header).
const (
	PinLEDGreen      = "P1_29"
	PinLEDRed        = "P1_32"
	PinRing          = "P1_13"
	PinOxybaseEnable = "P1_12"
	PinArducamSelect = "P1_7"
	PinArducamOE     = "P1_11"
)

// Controller is the opened board. All pins are driven push-pull, active
// high, and start low.
type Controller struct {
	LEDGreen      gpio.PinIO
	LEDRed        gpio.PinIO
	RingPin       gpio.PinIO
	OxybaseEnable gpio.PinIO
	ArducamSelect gpio.PinIO
	ArducamOE     gpio.PinIO

	i2cBus i2c.BusCloser
	log    *zap.Logger
}

// Open initialises the host drivers and claims every pin and bus the unit
// uses. It fails fast: a missing pin on this board is a wiring fault, not
// something to limp past.
func Open(log *zap.Logger) (*Controller, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "hal: host init")
	}

	c := &Controller{log: log}
	for _, p := range []struct {
		name string
		dst  *gpio.PinIO
	}{
		{PinLEDGreen, &c.LEDGreen},
		{PinLEDRed, &c.LEDRed},
		{PinRing, &c.RingPin},
		{PinOxybaseEnable, &c.OxybaseEnable},
		{PinArducamSelect, &c.ArducamSelect},
		{PinArducamOE, &c.ArducamOE},
	} {
		pin := gpioreg.ByName(p.name)
		if pin == nil {
			return nil, errors.Wrapf(errcode.UnknownPin, "hal: %s", p.name)
		}
		if err := pin.Out(gpio.Low); err != nil {
			return nil, errors.Wrapf(err, "hal: init %s", p.name)
		}
		*p.dst = pin
	}

	bus, err := i2creg.Open("")
	if err != nil {
		return nil, errors.Wrapf(errcode.BusUnavailable, "hal: open i2c: %v", err)
	}
	c.i2cBus = bus

	log.Info("hal ready")
	return c, nil
}

// I2C exposes the shared sensor bus in the register-transfer form the chip
// drivers consume.
func (c *Controller) I2C() drivers.I2C { return WrapI2C(c.i2cBus) }

// AllOff drives every output low. Called before sleep so nothing burns
// battery across an rtcwake window.
func (c *Controller) AllOff() {
	for _, pin := range []gpio.PinIO{
		c.LEDGreen, c.LEDRed, c.RingPin,
		c.OxybaseEnable, c.ArducamSelect, c.ArducamOE,
	} {
		if err := pin.Out(gpio.Low); err != nil {
			c.log.Warn("pin off failed", zap.String("pin", pin.Name()), zap.Error(err))
		}
	}
}

// Close releases the I2C bus. Pins are left in their last state.
func (c *Controller) Close() error {
	if c.i2cBus != nil {
		return c.i2cBus.Close()
	}
	return nil
}
