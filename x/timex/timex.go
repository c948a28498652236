// Package timex holds small time helpers shared across services.
package timex

import (
	"fmt"
	"time"
)

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// UTCStamp formats t as a compact UTC timestamp suitable for data filenames,
// e.g. "20241016_142233".
func UTCStamp(t time.Time) string {
	return t.UTC().Format("20060102_150405")
}

// UTCStampMs is UTCStamp with a millisecond suffix, e.g. "20241016_142233.512".
// Sub-second resolution matters for image filenames since capture intervals
// can drop below one second.
func UTCStampMs(t time.Time) string {
	return fmt.Sprintf("%s.%03d", UTCStamp(t), t.UTC().Nanosecond()/1e6)
}
