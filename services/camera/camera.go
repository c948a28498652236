// Package camera captures stills and video with the Pi camera stack,
// lighting the ring around each exposure. Capture failures are logged and
// reported, never fatal: a dead camera must not end a mission.
package camera

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"minion-go/errcode"
	"minion-go/services/hal"
	"minion-go/x/timex"
)

// Mode selects the exposure profile.
type Mode string

const (
	// ModeAuto lets the ISP meter the scene.
	ModeAuto Mode = "auto"
	// ModePic01 is the fixed underwater profile: locked shutter and gain so
	// frames stay comparable across a deployment.
	ModePic01 Mode = "pic01"
)

// Runner executes a capture command. Tests inject fakes.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Camera owns the capture pipeline and the ring used as its light source.
type Camera struct {
	ring *hal.Ring
	dir  string
	run  Runner
	log  *zap.Logger
}

// New returns a camera writing captures under dir.
func New(ring *hal.Ring, dir string, log *zap.Logger) *Camera {
	return &Camera{ring: ring, dir: dir, run: execRunner, log: log}
}

// meta is the JSON sidecar written next to every capture.
type meta struct {
	ID        string `json:"id"`
	File      string `json:"file"`
	Mode      Mode   `json:"mode"`
	Timestamp string `json:"timestamp"`
	RingLit   bool   `json:"ring_lit"`
}

// Still captures one frame and returns its path.
func (c *Camera) Still(ctx context.Context, mode Mode) (string, error) {
	base := timex.UTCStampMs(time.Now())
	path := filepath.Join(c.dir, base+".jpg")

	lit := c.light(true)
	defer c.light(false)

	args := []string{"-n", "-o", path}
	switch mode {
	case ModeAuto:
	case ModePic01:
		args = append(args, "--shutter", "20000", "--gain", "1", "--awb", "auto")
	default:
		return "", errcode.InvalidParams
	}

	if out, err := c.run(ctx, "rpicam-still", args...); err != nil {
		return "", errors.Wrapf(err, "camera: still: %s", out)
	}
	if err := c.writeMeta(path, mode, lit); err != nil {
		c.log.Warn("capture metadata failed", zap.Error(err))
	}
	c.log.Info("still captured", zap.String("file", path), zap.String("mode", string(mode)))
	return path, nil
}

// Video records for the given duration and returns the clip path.
func (c *Camera) Video(ctx context.Context, d time.Duration) (string, error) {
	if d <= 0 {
		return "", errcode.InvalidParams
	}
	base := timex.UTCStampMs(time.Now())
	path := filepath.Join(c.dir, base+".h264")

	lit := c.light(true)
	defer c.light(false)

	args := []string{"-n", "-t", strconv.FormatInt(d.Milliseconds(), 10), "-o", path}
	if out, err := c.run(ctx, "rpicam-vid", args...); err != nil {
		return "", errors.Wrapf(err, "camera: video: %s", out)
	}
	if err := c.writeMeta(path, "video", lit); err != nil {
		c.log.Warn("capture metadata failed", zap.Error(err))
	}
	return path, nil
}

// light toggles the ring, degrading to an unlit capture when the safety
// controller refuses. Reports whether the ring is lit afterwards.
func (c *Camera) light(on bool) bool {
	if c.ring == nil {
		return false
	}
	if err := c.ring.SetState(on); err != nil {
		c.log.Warn("ring unavailable, capturing dark", zap.Error(err))
		return false
	}
	return on
}

func (c *Camera) writeMeta(capture string, mode Mode, lit bool) error {
	m := meta{
		ID:        uuid.NewString(),
		File:      filepath.Base(capture),
		Mode:      mode,
		Timestamp: timex.UTCStamp(time.Now()),
		RingLit:   lit,
	}
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	side := capture[:len(capture)-len(filepath.Ext(capture))] + ".json"
	return os.WriteFile(side, raw, 0o644)
}
