package toolbox

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// DefaultEndTime marks a mission with no recorded end yet.
const DefaultEndTime = "2099-12-31_23-59-59"

// Bookkeeping is the sample-count ledger persisted across power cycles.
// Every wake reads it to decide whether the time-lapse phase is finished.
type Bookkeeping struct {
	StartTime        string `json:"start_time"`
	TotalSamples     int    `json:"total_samples"`
	RemainingSamples int    `json:"remaining_samples"`
	EndTime          string `json:"end_time"`
}

// NewBookkeeping starts a fresh ledger for a mission of total samples.
func NewBookkeeping(start string, total int) Bookkeeping {
	return Bookkeeping{
		StartTime:        start,
		TotalSamples:     total,
		RemainingSamples: total,
		EndTime:          DefaultEndTime,
	}
}

// LoadBookkeeping reads the ledger. A missing file returns os.ErrNotExist
// unwrapped so callers can branch on first boot.
func LoadBookkeeping(path string) (Bookkeeping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Bookkeeping{}, err
	}
	var b Bookkeeping
	if err := json.Unmarshal(raw, &b); err != nil {
		return Bookkeeping{}, errors.Wrap(err, "toolbox: bookkeeping corrupt")
	}
	return b, nil
}

// Save writes the ledger atomically: the unit can lose power at any moment,
// and a torn ledger strands the mission.
func (b Bookkeeping) Save(path string) error {
	raw, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return errors.Wrap(err, "toolbox: bookkeeping encode")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return errors.Wrap(err, "toolbox: bookkeeping write")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "toolbox: bookkeeping rename")
	}
	return nil
}

// Consume records one taken sample and persists the ledger. Returns the
// samples still owed. When the count reaches zero the end time is stamped.
func (b *Bookkeeping) Consume(path, now string) (int, error) {
	if b.RemainingSamples > 0 {
		b.RemainingSamples--
	}
	if b.RemainingSamples == 0 && b.EndTime == DefaultEndTime {
		b.EndTime = now
	}
	if err := b.Save(path); err != nil {
		return b.RemainingSamples, err
	}
	return b.RemainingSamples, nil
}

// Done reports whether the mission's time-lapse quota is exhausted.
func (b Bookkeeping) Done() bool { return b.RemainingSamples <= 0 }

// EnsureDir creates the data directory tree for a mission.
func EnsureDir(path string) error {
	return errors.Wrapf(os.MkdirAll(filepath.Dir(path), 0o755), "toolbox: mkdir %s", path)
}
