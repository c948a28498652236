// Package recovery drives the end-of-mission surface sequence: burn the
// ballast release, strobe for visibility, and report position and data over
// the satellite link. Transmission failures here are expected weather, not
// bugs: everything retries within fixed bounds and reports the final outcome.
package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"minion-go/drivers/minsat"
	"minion-go/errcode"
	"minion-go/services/hal"
)

// Strobe duty cycle: a short visible blip every five seconds stretches the
// battery across days of drifting.
const (
	strobeOn  = 100 * time.Millisecond
	strobeOff = 4900 * time.Millisecond
)

// fileAttempts bounds TransmitFile retries.
const fileAttempts = 5

// Transmitter is the satellite link. *minsat.Device satisfies it.
type Transmitter interface {
	SendPosition(ctx context.Context, opts minsat.SendPositionOpts) (minsat.Fix, error)
	SendFile(ctx context.Context, path string, offset int64) error
	GPSPower(on bool) error
	ModemPower(on bool) error
}

// Session is one recovery episode. Create it when the unit surfaces, clean
// it up when the unit is back on deck.
type Session struct {
	ID string

	hat hal.Hat
	sat Transmitter
	clk clock.Clock
	log *zap.Logger

	stopStrobe chan struct{}
	strobeDone chan struct{}
	cleanup    sync.Once
}

// NewSession prepares a recovery session. Nothing is energised yet.
func NewSession(hat hal.Hat, sat Transmitter, log *zap.Logger) *Session {
	return newSession(hat, sat, clock.New(), log)
}

func newSession(hat hal.Hat, sat Transmitter, clk clock.Clock, log *zap.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		ID:  id,
		hat: hat,
		sat: sat,
		clk: clk,
		log: log.With(zap.String("recovery_id", id)),
	}
}

// Release energises the burn wire and starts the strobe. The wire stays hot
// until Cleanup: the melt time varies with water temperature, and a wire
// left on costs less than a unit left on the bottom.
func (s *Session) Release() error {
	if err := s.hat.BurnWire(true); err != nil {
		return errors.Wrap(err, "recovery: burn wire")
	}
	s.log.Info("burn wire energised")
	s.startStrobe()
	return nil
}

func (s *Session) startStrobe() {
	if s.stopStrobe != nil {
		return
	}
	s.stopStrobe = make(chan struct{})
	s.strobeDone = make(chan struct{})
	go s.strobeLoop()
}

func (s *Session) strobeLoop() {
	defer close(s.strobeDone)
	for {
		if !s.pulse(true, strobeOn) {
			return
		}
		if !s.pulse(false, strobeOff) {
			return
		}
	}
}

func (s *Session) pulse(on bool, d time.Duration) bool {
	if err := s.hat.Strobe(on); err != nil {
		s.log.Warn("strobe switch failed", zap.Error(err))
	}
	t := s.clk.Timer(d)
	defer t.Stop()
	select {
	case <-s.stopStrobe:
		return false
	case <-t.C:
		return true
	}
}

// AcquireAndSendPosition reports the unit's position over SBD. The first
// attempt keeps the GPS powered through the send so the fix stays warm; if
// that fails, one fallback attempt power-cycles the GPS instead.
func (s *Session) AcquireAndSendPosition(ctx context.Context) (minsat.Fix, error) {
	fix, err := s.sat.SendPosition(ctx, minsat.SendPositionOpts{MaintainGPSPower: true})
	if err == nil {
		s.log.Info("position reported",
			zap.Float64("lat", fix.Lat), zap.Float64("lon", fix.Lon))
		return fix, nil
	}
	s.log.Warn("position send failed, retrying with gps power cycling", zap.Error(err))

	fix, err = s.sat.SendPosition(ctx, minsat.SendPositionOpts{MaintainGPSPower: false})
	if err != nil {
		s.log.Error("position send failed on both power strategies", zap.Error(err))
		return fix, err
	}
	s.log.Info("position reported on fallback",
		zap.Float64("lat", fix.Lat), zap.Float64("lon", fix.Lon))
	return fix, nil
}

// TransmitFile sends a data file over SBD, retrying up to fileAttempts
// times. First success wins.
func (s *Session) TransmitFile(ctx context.Context, path string) error {
	var last error
	for attempt := 1; attempt <= fileAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.sat.SendFile(ctx, path, 0)
		if err == nil {
			s.log.Info("file transmitted",
				zap.String("file", path), zap.Int("attempt", attempt))
			return nil
		}
		last = err
		s.log.Warn("file transmit attempt failed",
			zap.String("file", path), zap.Int("attempt", attempt), zap.Error(err))
	}
	s.log.Error("file transmit exhausted retries", zap.String("file", path))
	if last == nil {
		last = errcode.TransmitFailed
	}
	return errors.Wrapf(last, "recovery: %d attempts", fileAttempts)
}

// Cleanup de-energises everything the session switched on. Safe to call
// more than once.
func (s *Session) Cleanup() {
	s.cleanup.Do(func() {
		if s.stopStrobe != nil {
			close(s.stopStrobe)
			<-s.strobeDone
		}
		for name, off := range map[string]func(bool) error{
			"strobe":      s.hat.Strobe,
			"burn_wire":   s.hat.BurnWire,
			"gps_power":   s.sat.GPSPower,
			"modem_power": s.sat.ModemPower,
		} {
			if err := off(false); err != nil {
				s.log.Warn("cleanup switch failed", zap.String("load", name), zap.Error(err))
			}
		}
		s.log.Info("recovery session cleaned up")
	})
}
