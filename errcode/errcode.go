package errcode

import "errors"

// Code is a stable, operator-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK            Code = "ok"
	InvalidConfig Code = "invalid_config"
	InvalidParams Code = "invalid_params"

	UnknownPin     Code = "unknown_pin"
	BusUnavailable Code = "bus_unavailable"
	SensorNotReady Code = "sensor_not_ready"
	BadChecksum    Code = "bad_checksum"

	RingLockout Code = "ring_lockout"

	GPSTimeout     Code = "gps_timeout"
	TransmitFailed Code = "transmit_failed"
	ModemError     Code = "modem_error"
	Timeout        Code = "timeout"

	Error Code = "error" // generic fallback
)

// Of extracts a Code from an error chain, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Error
}
