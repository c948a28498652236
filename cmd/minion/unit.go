package main

import (
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"

	"minion-go/bus"
	"minion-go/drivers/ds3231"
	"minion-go/drivers/minsat"
	"minion-go/logx"
	"minion-go/services/deployment"
	"minion-go/services/hal"
	"minion-go/toolbox"
)

// options are the persistent CLI flags.
type options struct {
	configPath string
	dataDir    string
	logPath    string
	debug      bool
}

// unit is the opened hardware plus the always-on services. Commands build
// whatever else they need on top.
type unit struct {
	opts  options
	log   *zap.Logger
	bus   *bus.Bus
	hw    *hal.Controller
	hat   *hal.I2CHat
	ring  *hal.Ring
	rtc   ds3231.Device
	tools *toolbox.Toolbox
	sat   *minsat.Device
}

func openUnit(opts options) (*unit, error) {
	log, err := logx.New(opts.logPath, opts.debug)
	if err != nil {
		return nil, err
	}

	hw, err := hal.Open(log)
	if err != nil {
		return nil, err
	}
	i2c := hw.I2C()

	hat, err := hal.NewHat(i2c)
	if err != nil {
		_ = hw.Close()
		return nil, err
	}

	b := bus.NewBus(32)
	u := &unit{
		opts: opts,
		log:  log,
		bus:  b,
		hw:   hw,
		hat:  hat,
		ring: hal.NewRing(hw.RingPin, b.NewConnection("ring"), log),
		rtc:  ds3231.New(i2c),
	}
	u.tools = toolbox.New(&u.rtc, log)
	u.sat = minsat.New(minsat.Config{}, hat, log)
	return u, nil
}

func (u *unit) loadMission() (deployment.MissionConfig, error) {
	cfg, err := deployment.LoadConfig(u.opts.configPath)
	if err != nil {
		return cfg, errors.Wrap(err, "mission config")
	}
	return cfg, nil
}

func (u *unit) dataFile(name string) string {
	return filepath.Join(u.opts.dataDir, name)
}

func (u *unit) close() {
	u.ring.Close()
	u.hw.AllOff()
	_ = u.hw.Close()
	_ = u.log.Sync()
}

// ledPanel adapts the header LEDs plus the hat's blue LED to the roll-call
// interface.
type ledPanel struct {
	hw  *hal.Controller
	hat hal.Hat
}

func (p ledPanel) Green(on bool) error { return p.hw.LEDGreen.Out(level(on)) }
func (p ledPanel) Red(on bool) error   { return p.hw.LEDRed.Out(level(on)) }
func (p ledPanel) Blue(on bool) error  { return p.hat.LEDBlue(on) }

func level(on bool) gpio.Level {
	if on {
		return gpio.High
	}
	return gpio.Low
}
