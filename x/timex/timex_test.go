package timex

import (
	"testing"
	"time"
)

func TestUTCStamp(t *testing.T) {
	ts := time.Date(2024, 10, 16, 14, 22, 33, 512e6, time.UTC)
	if got := UTCStamp(ts); got != "20241016_142233" {
		t.Errorf("UTCStamp = %q", got)
	}
	if got := UTCStampMs(ts); got != "20241016_142233.512" {
		t.Errorf("UTCStampMs = %q", got)
	}
}

func TestUTCStampConvertsZone(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	ts := time.Date(2024, 10, 16, 5, 0, 0, 0, loc)
	if got := UTCStamp(ts); got != "20241016_000000" {
		t.Errorf("UTCStamp = %q, want UTC conversion", got)
	}
}
