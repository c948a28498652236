// Package ds3231 drives the DS3231 external RTC over I2C.
//
// The RTC is the unit's time authority while submerged: the Pi's own clock is
// synced from it at boot and data filenames are stamped from it. Registers are
// BCD; the year register holds only two digits, so the driver assumes 20xx.
package ds3231

import (
	"time"

	"github.com/pkg/errors"
	"tinygo.org/x/drivers"
)

// I2C address.
const Address = 0x68

// Register map.
const (
	regSeconds = 0x00
	regMinutes = 0x01
	regHours   = 0x02
	regDay     = 0x03
	regDate    = 0x04
	regMonth   = 0x05
	regYear    = 0x06

	regAlarm1  = 0x07 // seconds, minutes, hours, day
	regControl = 0x0E
	regStatus  = 0x0F
)

// Control register value enabling the alarm 1 interrupt output (INTCN | A1IE).
const ctrlAlarm1IRQ = 0x05

// alarmIgnore masks a field out of the alarm match.
const alarmIgnore = 0x80

// Device wraps an I2C connection to a DS3231.
type Device struct {
	bus     drivers.I2C
	Address uint16
}

// New creates a DS3231 handle. The I2C bus must already be configured.
func New(bus drivers.I2C) Device {
	return Device{bus: bus, Address: Address}
}

// ReadTime returns the current RTC time in UTC.
func (d *Device) ReadTime() (time.Time, error) {
	buf := make([]byte, 7)
	if err := d.bus.ReadRegister(uint8(d.Address), regSeconds, buf); err != nil {
		return time.Time{}, errors.Wrap(err, "ds3231: read time registers")
	}
	t := time.Date(
		2000+bcdToDec(buf[regYear]),
		time.Month(bcdToDec(buf[regMonth]&0x1F)), // mask century bit
		bcdToDec(buf[regDate]),
		bcdToDec(buf[regHours]&0x3F), // 24h mode assumed
		bcdToDec(buf[regMinutes]),
		bcdToDec(buf[regSeconds]),
		0, time.UTC,
	)
	return t, nil
}

// SetTime writes t (converted to UTC) into the time registers.
func (d *Device) SetTime(t time.Time) error {
	t = t.UTC()
	buf := []byte{
		decToBcd(t.Second()),
		decToBcd(t.Minute()),
		decToBcd(t.Hour()),
		decToBcd(int(t.Weekday()) + 1), // 1..7
		decToBcd(t.Day()),
		decToBcd(int(t.Month())),
		decToBcd(t.Year() % 100),
	}
	if err := d.bus.WriteRegister(uint8(d.Address), regSeconds, buf); err != nil {
		return errors.Wrap(err, "ds3231: write time registers")
	}
	return nil
}

// SetAlarmInMinutes arms alarm 1 to fire n minutes from the current RTC time.
// Seconds are matched at zero and the day field is ignored, so the alarm
// repeats daily until rearmed. The alarm output drives the wake line on the
// hat, which is how the unit sleeps between time-lapse bursts.
func (d *Device) SetAlarmInMinutes(n int) error {
	if n <= 0 {
		return errors.New("ds3231: alarm offset must be positive")
	}
	now, err := d.ReadTime()
	if err != nil {
		return err
	}
	at := now.Add(time.Duration(n) * time.Minute)

	buf := []byte{
		0x00,                  // alarm seconds: match :00
		decToBcd(at.Minute()), // alarm minutes
		decToBcd(at.Hour()),   // alarm hours
		alarmIgnore,           // don't care about day/date
	}
	if err := d.bus.WriteRegister(uint8(d.Address), regAlarm1, buf); err != nil {
		return errors.Wrap(err, "ds3231: write alarm registers")
	}
	if err := d.bus.WriteRegister(uint8(d.Address), regControl, []byte{ctrlAlarm1IRQ}); err != nil {
		return errors.Wrap(err, "ds3231: enable alarm interrupt")
	}
	return nil
}

// ClearAlarm resets the alarm 1 flag in the status register so the interrupt
// line releases.
func (d *Device) ClearAlarm() error {
	if err := d.bus.WriteRegister(uint8(d.Address), regStatus, []byte{0x00}); err != nil {
		return errors.Wrap(err, "ds3231: clear status")
	}
	return nil
}

func decToBcd(v int) byte { return byte(v/10<<4 | v%10) }
func bcdToDec(v byte) int { return int(v>>4)*10 + int(v&0x0F) }
