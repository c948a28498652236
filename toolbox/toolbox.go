// Package toolbox covers the host-side chores the mission sequencer leans
// on: syncing the Pi's clock from the RTC, spotting a hub wifi network for
// standby mode, and powering down between samples with rtcwake.
package toolbox

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"minion-go/drivers/ds3231"
)

// TimestampLayout is the wire format for mission timestamps.
const TimestampLayout = "2006-01-02_15-04-05"

// RTCSentinel is recorded when the RTC cannot be read, so downstream parsing
// fails loudly instead of trusting a bogus time.
const RTCSentinel = "9999-99-99_99-99-99"

// Hub SSIDs that hold the unit in standby while it can see a surface hub.
var hubSSIDs = []string{"Master_Hub", "Minion_Hub"}

// Runner executes a host command and returns its combined output. Tests
// inject fakes.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Toolbox bundles the RTC handle with the host command runner.
type Toolbox struct {
	rtc *ds3231.Device
	run Runner
	log *zap.Logger
}

func New(rtc *ds3231.Device, log *zap.Logger) *Toolbox {
	return &Toolbox{rtc: rtc, run: execRunner, log: log}
}

// RTCTimestamp reads the RTC and renders it for filenames and bookkeeping.
// On a read failure it returns RTCSentinel.
func (t *Toolbox) RTCTimestamp() string {
	now, err := t.rtc.ReadTime()
	if err != nil {
		t.log.Warn("rtc read failed", zap.Error(err))
		return RTCSentinel
	}
	return now.Format(TimestampLayout)
}

// SyncSystemClock sets the system clock from the hardware RTC.
func (t *Toolbox) SyncSystemClock(ctx context.Context) error {
	out, err := t.run(ctx, "hwclock", "-s")
	if err != nil {
		return errors.Wrapf(err, "toolbox: hwclock -s: %s", strings.TrimSpace(string(out)))
	}
	t.log.Info("system clock synced from rtc")
	return nil
}

// HubVisible scans for wifi and reports whether a surface hub is in range.
// The unit stays in standby while one is.
func (t *Toolbox) HubVisible(ctx context.Context) (bool, error) {
	out, err := t.run(ctx, "iwlist", "wlan0", "scan")
	if err != nil {
		return false, errors.Wrap(err, "toolbox: wifi scan")
	}
	scan := string(out)
	for _, ssid := range hubSSIDs {
		if strings.Contains(scan, ssid) {
			return true, nil
		}
	}
	return false, nil
}

// Sleep powers the Pi down for the given duration using rtcwake. On success
// the call does not return until the unit wakes back up.
func (t *Toolbox) Sleep(ctx context.Context, d time.Duration) error {
	secs := int(d / time.Second)
	if secs < 1 {
		return nil
	}
	t.log.Info("powering down", zap.Int("seconds", secs))
	out, err := t.run(ctx, "rtcwake", "-m", "off", "-s", strconv.Itoa(secs))
	if err != nil {
		return errors.Wrapf(err, "toolbox: rtcwake: %s", strings.TrimSpace(string(out)))
	}
	return nil
}
