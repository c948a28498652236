package hal

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"

	"minion-go/bus"
	"minion-go/errcode"
	"minion-go/types"
)

// Ring duty-cycle limits. The fixture has no thermal sensing, so the
// controller enforces these blind: force off after RingMaxOn of continuous
// light, and refuse to relight until RingMinOff of darkness has passed.
const (
	RingMaxOn  = 60 * time.Second
	RingMinOff = 5 * time.Second
	ringTick   = 500 * time.Millisecond
)

// TopicRingTrip carries a types.RingTrip whenever the supervisor forces the
// ring off.
var TopicRingTrip = bus.T("minion", "ring", "trip")

// flashSeq is one flash request, advanced a tick at a time.
type flashSeq struct {
	pulsesLeft int
	onTicks    int
	offTicks   int
	ticksLeft  int
	onPhase    bool
}

// Ring supervises the light ring. All requests go through the controller;
// nothing else may touch the pin. A background tick task accumulates on/off
// time, trips the max-on limit, and steps flash sequences.
type Ring struct {
	pin  gpio.PinIO
	conn *bus.Connection
	clk  clock.Clock
	log  *zap.Logger

	mu     sync.Mutex
	lit    bool
	onFor  time.Duration // continuous lit time, tick granularity
	offFor time.Duration // continuous dark time, tick granularity
	flash  *flashSeq

	stop chan struct{}
	done chan struct{}
}

// NewRing claims the ring pin and starts the supervisor. conn may be nil
// when no bus is wired (selftest).
func NewRing(pin gpio.PinIO, conn *bus.Connection, log *zap.Logger) *Ring {
	return newRing(pin, conn, clock.New(), log)
}

func newRing(pin gpio.PinIO, conn *bus.Connection, clk clock.Clock, log *zap.Logger) *Ring {
	r := &Ring{
		pin:  pin,
		conn: conn,
		clk:  clk,
		log:  log,
		// A fresh controller owes no off time.
		offFor: RingMinOff,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Ring) run() {
	defer close(r.done)
	t := r.clk.Ticker(ringTick)
	defer t.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
			r.tick()
		}
	}
}

// SetState turns the ring on or off, cancelling any flash in progress.
// Turning on inside the min-off window fails with RingLockout.
func (r *Ring) SetState(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flash = nil
	if on {
		return r.turnOnLocked()
	}
	r.turnOffLocked()
	return nil
}

// Flash starts a flash sequence of count pulses, superseding any sequence in
// progress. The first pulse strikes immediately and is subject to the
// min-off guard; the sequence's own off gaps are not.
func (r *Ring) Flash(count int, onDur, offDur time.Duration) error {
	if count <= 0 || onDur <= 0 || offDur <= 0 {
		return errcode.InvalidParams
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.turnOnLocked(); err != nil {
		return err
	}
	seq := &flashSeq{
		pulsesLeft: count,
		onTicks:    durToTicks(onDur),
		offTicks:   durToTicks(offDur),
		onPhase:    true,
	}
	seq.ticksLeft = seq.onTicks
	r.flash = seq
	return nil
}

// Lit reports whether the ring is currently on.
func (r *Ring) Lit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lit
}

// Close forces the ring off and stops the supervisor.
func (r *Ring) Close() {
	r.mu.Lock()
	r.flash = nil
	r.turnOffLocked()
	r.mu.Unlock()
	close(r.stop)
	<-r.done
}

// ---- supervisor ----

func (r *Ring) tick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lit {
		r.onFor += ringTick
	} else {
		r.offFor += ringTick
	}

	// Safety trip wins over everything, including pending flashes.
	if r.lit && r.onFor >= RingMaxOn {
		onMs := r.onFor.Milliseconds()
		r.flash = nil
		r.turnOffLocked()
		r.log.Warn("ring safety trip", zap.Int64("on_ms", onMs))
		if r.conn != nil {
			r.conn.Publish(r.conn.NewMessage(TopicRingTrip, types.RingTrip{
				OnMs: onMs,
				TS:   r.clk.Now().UnixMilli(),
			}, false))
		}
		return
	}

	f := r.flash
	if f == nil {
		return
	}
	f.ticksLeft--
	if f.ticksLeft > 0 {
		return
	}
	if f.onPhase {
		r.turnOffLocked()
		f.pulsesLeft--
		if f.pulsesLeft <= 0 {
			r.flash = nil
			return
		}
		f.onPhase = false
		f.ticksLeft = f.offTicks
	} else {
		if err := r.strikeLocked(); err != nil {
			r.log.Warn("ring flash strike failed", zap.Error(err))
			r.flash = nil
			return
		}
		f.onPhase = true
		f.ticksLeft = f.onTicks
	}
}

// ---- state transitions (mu held) ----

func (r *Ring) turnOnLocked() error {
	if r.lit {
		return nil
	}
	if r.offFor < RingMinOff {
		return errcode.RingLockout
	}
	return r.strikeLocked()
}

// strikeLocked lights the ring with no min-off guard. Only the flash stepper
// may bypass the guard: it paces its own duty cycle.
func (r *Ring) strikeLocked() error {
	if err := r.pin.Out(gpio.High); err != nil {
		return errors.Wrap(err, "hal: ring on")
	}
	r.lit = true
	r.onFor = 0
	return nil
}

func (r *Ring) turnOffLocked() {
	if !r.lit {
		return
	}
	if err := r.pin.Out(gpio.Low); err != nil {
		r.log.Warn("ring off failed", zap.Error(err))
	}
	r.lit = false
	r.offFor = 0
}

func durToTicks(d time.Duration) int {
	n := int((d + ringTick - 1) / ringTick)
	if n < 1 {
		n = 1
	}
	return n
}
