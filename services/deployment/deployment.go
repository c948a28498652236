// Package deployment sequences a mission: standby while a surface hub is in
// wifi range, an initial sampling phase, time-lapse bursts separated by
// powered-down intervals, a final sampling phase, then recovery. Each rtcwake
// interval ends the process; the next wake re-enters Run and the bookkeeping
// ledger decides where the mission stands.
package deployment

import (
	"context"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"minion-go/bus"
	"minion-go/drivers/minsat"
	"minion-go/services/camera"
	"minion-go/toolbox"
	"minion-go/types"
	"minion-go/x/timex"
)

// TopicStatus carries the retained types.Status for the mission.
var TopicStatus = bus.T("minion", "status")

// rollCallDwell is how long each LED stays lit during the standby roll-call.
var rollCallDwell = 2 * time.Second

// Collaborator seams. The cmd wiring passes the real services; tests pass
// fakes.
type (
	Tools interface {
		RTCTimestamp() string
		SyncSystemClock(ctx context.Context) error
		HubVisible(ctx context.Context) (bool, error)
		Sleep(ctx context.Context, d time.Duration) error
	}
	Cam interface {
		Still(ctx context.Context, mode camera.Mode) (string, error)
	}
	TP interface {
		Sample(now string) (types.TPSample, error)
	}
	O2 interface {
		Sample(now string) (types.O2Sample, error)
	}
	Recoverer interface {
		Release() error
		AcquireAndSendPosition(ctx context.Context) (minsat.Fix, error)
		TransmitFile(ctx context.Context, path string) error
		Cleanup()
	}
	LEDs interface {
		Green(on bool) error
		Red(on bool) error
		Blue(on bool) error
	}
)

// Deps bundles the handler's collaborators. Cam and O2 may be nil when the
// mission file disables those scripts.
type Deps struct {
	Tools Tools
	Cam   Cam
	TP    TP
	O2    O2
	Rec   Recoverer
	LEDs  LEDs

	TPFile   string // CSV transmitted during recovery
	BookPath string // sample-count ledger
}

// Handler runs one wake cycle of the mission.
type Handler struct {
	cfg  MissionConfig
	deps Deps
	clk  clock.Clock
	conn *bus.Connection
	log  *zap.Logger
}

func NewHandler(cfg MissionConfig, deps Deps, conn *bus.Connection, log *zap.Logger) *Handler {
	return newHandler(cfg, deps, conn, log, clock.New())
}

func newHandler(cfg MissionConfig, deps Deps, conn *bus.Connection, log *zap.Logger, clk clock.Clock) *Handler {
	return &Handler{cfg: cfg, deps: deps, clk: clk, conn: conn, log: log}
}

// Run executes one wake cycle and returns when the unit should power down
// or the mission is over.
func (h *Handler) Run(ctx context.Context) error {
	if err := h.deps.Tools.SyncSystemClock(ctx); err != nil {
		h.log.Warn("clock sync failed", zap.Error(err))
	}

	visible, err := h.deps.Tools.HubVisible(ctx)
	if err != nil {
		h.log.Warn("wifi scan failed", zap.Error(err))
	}
	if visible {
		h.publish(types.PhaseStandby, "")
		h.log.Info("surface hub visible, standing by")
		h.rollCall()
		return nil
	}

	if h.cfg.Abort {
		// An aborted mission still has to come home: skip all sampling and
		// surface immediately.
		h.publish(types.PhaseAborted, "")
		h.log.Warn("mission abort flag set, surfacing")
		return h.runRecovery(ctx)
	}

	book, err := toolbox.LoadBookkeeping(h.deps.BookPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First wake of the mission.
		if err := h.runPhase(ctx, types.PhaseInitialSamples, h.cfg.Initial, h.cfg.Initial.Duration()); err != nil {
			return err
		}
		book = toolbox.NewBookkeeping(h.deps.Tools.RTCTimestamp(), h.cfg.TimeLapse.Samples())
		if err := book.Save(h.deps.BookPath); err != nil {
			return err
		}
	case err != nil:
		h.publish(types.PhaseAborted, err.Error())
		return err
	}

	if !book.Done() {
		if err := h.runPhase(ctx, types.PhaseTimeLapse, h.cfg.TimeLapse.SamplePlan, h.cfg.TimeLapse.Burst()); err != nil {
			return err
		}
		left, err := book.Consume(h.deps.BookPath, h.deps.Tools.RTCTimestamp())
		if err != nil {
			return err
		}
		if left > 0 {
			gap := h.cfg.TimeLapse.Interval() - h.cfg.TimeLapse.Burst()
			h.log.Info("burst complete", zap.Int("remaining", left), zap.Duration("sleep", gap))
			return h.deps.Tools.Sleep(ctx, gap)
		}
	}

	if err := h.runPhase(ctx, types.PhaseFinalSamples, h.cfg.Final, h.cfg.Final.Duration()); err != nil {
		return err
	}
	return h.runRecovery(ctx)
}

// rollCall blips each status LED in turn so a deck check confirms the unit
// is alive without opening the housing.
func (h *Handler) rollCall() {
	if h.deps.LEDs == nil {
		return
	}
	for _, led := range []func(bool) error{
		h.deps.LEDs.Green, h.deps.LEDs.Red, h.deps.LEDs.Blue,
	} {
		if err := led(true); err != nil {
			h.log.Warn("led roll-call failed", zap.Error(err))
			continue
		}
		h.clk.Sleep(rollCallDwell)
		_ = led(false)
	}
}

// runPhase samples every fitted instrument at its own period for the given
// duration. Instrument failures degrade inside the samplers; only context
// errors end a phase early.
func (h *Handler) runPhase(ctx context.Context, phase types.Phase, plan SamplePlan, d time.Duration) error {
	h.publish(phase, "")
	h.log.Info("phase start", zap.String("phase", string(phase)), zap.Duration("duration", d))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	end := h.clk.Timer(d)
	defer end.Stop()
	go func() {
		select {
		case <-end.C:
			cancel()
		case <-ctx.Done():
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	if h.deps.Cam != nil && h.cfg.Scripts.Image && plan.CameraPeriod > 0 {
		g.Go(func() error {
			return h.every(ctx, seconds(plan.CameraPeriod), func() {
				if _, err := h.deps.Cam.Still(ctx, camera.ModePic01); err != nil {
					h.log.Warn("capture failed", zap.Error(err))
				}
			})
		})
	}
	if h.deps.TP != nil && plan.TempPresPeriod > 0 {
		g.Go(func() error {
			return h.every(ctx, seconds(plan.TempPresPeriod), func() {
				if _, err := h.deps.TP.Sample(h.deps.Tools.RTCTimestamp()); err != nil {
					h.log.Warn("tp sample failed", zap.Error(err))
				}
			})
		})
	}
	if h.deps.O2 != nil && h.cfg.Scripts.Oxybase && plan.OxygenPeriod > 0 {
		g.Go(func() error {
			return h.every(ctx, seconds(plan.OxygenPeriod), func() {
				if _, err := h.deps.O2.Sample(h.deps.Tools.RTCTimestamp()); err != nil {
					h.log.Warn("o2 sample failed", zap.Error(err))
				}
			})
		})
	}

	err := g.Wait()
	h.log.Info("phase end", zap.String("phase", string(phase)))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// every fires fn immediately and then at each period until the phase ends.
func (h *Handler) every(ctx context.Context, period time.Duration, fn func()) error {
	fn()
	t := h.clk.Ticker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			fn()
		}
	}
}

// runRecovery surfaces the unit and reports position across the GPS window,
// transmitting the data file once.
func (h *Handler) runRecovery(ctx context.Context) error {
	h.publish(types.PhaseRecovery, "")
	rec := h.deps.Rec
	if err := rec.Release(); err != nil {
		h.publish(types.PhaseRecovery, err.Error())
		return err
	}
	defer rec.Cleanup()

	deadline := h.clk.Now().Add(h.cfg.GPS.Window())
	sentFile := false
	for {
		if _, err := rec.AcquireAndSendPosition(ctx); err != nil {
			h.log.Warn("position report failed", zap.Error(err))
		}
		if !sentFile && h.deps.TPFile != "" {
			if err := rec.TransmitFile(ctx, h.deps.TPFile); err != nil {
				h.log.Warn("data file transmit failed", zap.Error(err))
			} else {
				sentFile = true
			}
		}
		if !h.clk.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.clk.After(h.cfg.GPS.Interval()):
		}
	}

	h.publish(types.PhaseStopped, "")
	h.log.Info("mission complete")
	return nil
}

func (h *Handler) publish(phase types.Phase, errStr string) {
	if h.conn == nil {
		return
	}
	h.conn.Publish(h.conn.NewMessage(TopicStatus, types.Status{
		Phase: phase,
		TS:    timex.NowMs(),
		Error: errStr,
	}, true))
}

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }
