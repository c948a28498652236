package hal

import (
	"periph.io/x/conn/v3/i2c"
	"tinygo.org/x/drivers"
)

// i2cShim adapts a periph bus to the register-transfer interface the chip
// drivers are written against.
type i2cShim struct {
	bus i2c.Bus
}

// WrapI2C wraps a periph I2C bus as a drivers.I2C.
func WrapI2C(bus i2c.Bus) drivers.I2C { return i2cShim{bus: bus} }

func (s i2cShim) Tx(addr uint16, w, r []byte) error {
	return s.bus.Tx(addr, w, r)
}

func (s i2cShim) ReadRegister(addr uint8, reg uint8, buf []byte) error {
	return s.bus.Tx(uint16(addr), []byte{reg}, buf)
}

func (s i2cShim) WriteRegister(addr uint8, reg uint8, buf []byte) error {
	w := make([]byte, 0, len(buf)+1)
	w = append(w, reg)
	w = append(w, buf...)
	return s.bus.Tx(uint16(addr), w, nil)
}
