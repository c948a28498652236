package hal

import (
	"sync"

	"github.com/pkg/errors"
	"tinygo.org/x/drivers"
)

// Hat switches the recovery loads on the expansion board.
type Hat interface {
	BurnWire(on bool) error
	Strobe(on bool) error
	LEDBlue(on bool) error
	GPSPower(on bool) error
	ModemPower(on bool) error
}

// The hat carries a PCF8574 expander; each load hangs off one port bit.
const (
	HatAddress = 0x20

	hatBitBurnWire   = 1 << 0
	hatBitStrobe     = 1 << 1
	hatBitGPSPower   = 1 << 2
	hatBitModemPower = 1 << 3
	hatBitLEDBlue    = 1 << 4
)

// I2CHat drives the expander. The port is write-only from our side, so the
// shadow register is the source of truth for current state.
type I2CHat struct {
	bus  drivers.I2C
	addr uint16

	mu    sync.Mutex
	state uint8
}

// NewHat returns a hat handle with every load switched off.
func NewHat(bus drivers.I2C) (*I2CHat, error) {
	h := &I2CHat{bus: bus, addr: HatAddress}
	if err := h.flush(); err != nil {
		return nil, errors.Wrap(err, "hal: hat not responding")
	}
	return h, nil
}

func (h *I2CHat) set(bit uint8, on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.state
	if on {
		h.state |= bit
	} else {
		h.state &^= bit
	}
	if h.state == prev {
		return nil
	}
	return h.flush()
}

func (h *I2CHat) flush() error {
	return h.bus.Tx(h.addr, []byte{h.state}, nil)
}

func (h *I2CHat) BurnWire(on bool) error   { return h.set(hatBitBurnWire, on) }
func (h *I2CHat) Strobe(on bool) error     { return h.set(hatBitStrobe, on) }
func (h *I2CHat) LEDBlue(on bool) error    { return h.set(hatBitLEDBlue, on) }
func (h *I2CHat) GPSPower(on bool) error   { return h.set(hatBitGPSPower, on) }
func (h *I2CHat) ModemPower(on bool) error { return h.set(hatBitModemPower, on) }
