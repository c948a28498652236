package deployment

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"minion-go/bus"
	"minion-go/drivers/minsat"
	"minion-go/services/camera"
	"minion-go/toolbox"
	"minion-go/types"
)

type fakeTools struct {
	hub    bool
	mu     sync.Mutex
	sleeps []time.Duration
}

func (f *fakeTools) RTCTimestamp() string { return "2024-10-16_12-00-00" }

func (f *fakeTools) SyncSystemClock(ctx context.Context) error { return nil }

func (f *fakeTools) HubVisible(ctx context.Context) (bool, error) { return f.hub, nil }

func (f *fakeTools) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleeps = append(f.sleeps, d)
	return nil
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) bump() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type fakeCam struct{ counter }

func (f *fakeCam) Still(ctx context.Context, mode camera.Mode) (string, error) {
	f.bump()
	return "x.jpg", nil
}

type fakeTP struct{ counter }

func (f *fakeTP) Sample(now string) (types.TPSample, error) {
	f.bump()
	return types.TPSample{Timestamp: now}, nil
}

type fakeO2 struct{ counter }

func (f *fakeO2) Sample(now string) (types.O2Sample, error) {
	f.bump()
	return types.O2Sample{Timestamp: now}, nil
}

type fakeRec struct {
	released  bool
	positions int
	files     []string
	cleaned   bool
}

func (f *fakeRec) Release() error { f.released = true; return nil }

func (f *fakeRec) AcquireAndSendPosition(ctx context.Context) (minsat.Fix, error) {
	f.positions++
	return minsat.Fix{Valid: true}, nil
}

func (f *fakeRec) TransmitFile(ctx context.Context, path string) error {
	f.files = append(f.files, path)
	return nil
}

func (f *fakeRec) Cleanup() { f.cleaned = true }

type fakeLEDs struct {
	mu    sync.Mutex
	order []string
}

func (f *fakeLEDs) set(name string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if on {
		f.order = append(f.order, name)
	}
	return nil
}

func (f *fakeLEDs) Green(on bool) error { return f.set("green", on) }
func (f *fakeLEDs) Red(on bool) error   { return f.set("red", on) }
func (f *fakeLEDs) Blue(on bool) error  { return f.set("blue", on) }

// testConfig uses millisecond-scale phases so a full mission cycle runs in
// well under a second of wall time.
func testConfig() MissionConfig {
	burst := 30 * time.Millisecond
	interval := 100 * time.Millisecond
	return MissionConfig{
		MinionID: "M1",
		Initial: SamplePlan{
			Hours:          (40 * time.Millisecond).Hours(),
			CameraPeriod:   0.01,
			TempPresPeriod: 0.01,
			OxygenPeriod:   0.01,
		},
		Final: SamplePlan{
			Hours:          (40 * time.Millisecond).Hours(),
			TempPresPeriod: 0.01,
		},
		TimeLapse: TimeLapsePlan{
			SamplePlan: SamplePlan{
				Hours:          (2 * interval).Hours(),
				TempPresPeriod: 0.01,
			},
			BurstMinutes:    burst.Minutes(),
			IntervalMinutes: interval.Minutes(),
		},
		Scripts: Scripts{Image: true, P30: true, Temperature: true, Oxybase: true},
	}
}

type fixture struct {
	h     *Handler
	tools *fakeTools
	cam   *fakeCam
	tp    *fakeTP
	o2    *fakeO2
	rec   *fakeRec
	leds  *fakeLEDs
	conn  *bus.Connection
	book  string
}

func newFixture(t *testing.T, cfg MissionConfig) *fixture {
	t.Helper()
	f := &fixture{
		tools: &fakeTools{},
		cam:   &fakeCam{},
		tp:    &fakeTP{},
		o2:    &fakeO2{},
		rec:   &fakeRec{},
		leds:  &fakeLEDs{},
		book:  filepath.Join(t.TempDir(), "samples.json"),
	}
	f.conn = bus.NewBus(16).NewConnection("test")
	f.h = newHandler(cfg, Deps{
		Tools:    f.tools,
		Cam:      f.cam,
		TP:       f.tp,
		O2:       f.o2,
		Rec:      f.rec,
		LEDs:     f.leds,
		TPFile:   "tp.csv",
		BookPath: f.book,
	}, f.conn, zap.NewNop(), clock.New())
	return f
}

func (f *fixture) lastStatus(t *testing.T) types.Status {
	t.Helper()
	sub := f.conn.Subscribe(TopicStatus)
	defer sub.Unsubscribe()
	var last types.Status
	for {
		select {
		case msg := <-sub.Channel():
			last = msg.Payload.(types.Status)
		case <-time.After(50 * time.Millisecond):
			return last
		}
	}
}

func TestRunStandsByWhenHubVisible(t *testing.T) {
	old := rollCallDwell
	rollCallDwell = time.Millisecond
	defer func() { rollCallDwell = old }()

	f := newFixture(t, testConfig())
	f.tools.hub = true

	require.NoError(t, f.h.Run(context.Background()))
	require.Equal(t, []string{"green", "red", "blue"}, f.leds.order)
	require.Zero(t, f.tp.count())
	require.Equal(t, types.PhaseStandby, f.lastStatus(t).Phase)
}

func TestRunAbortGoesStraightToRecovery(t *testing.T) {
	cfg := testConfig()
	cfg.Abort = true
	f := newFixture(t, cfg)
	sub := f.conn.Subscribe(TopicStatus)
	defer sub.Unsubscribe()

	require.NoError(t, f.h.Run(context.Background()))

	// No sampling of any kind, but the unit surfaces and phones home.
	require.Zero(t, f.tp.count())
	require.Zero(t, f.cam.count())
	require.Zero(t, f.o2.count())
	require.True(t, f.rec.released)
	require.GreaterOrEqual(t, f.rec.positions, 1)
	require.True(t, f.rec.cleaned)
	require.Empty(t, f.tools.sleeps)

	var phases []types.Phase
drain:
	for {
		select {
		case msg := <-sub.Channel():
			phases = append(phases, msg.Payload.(types.Status).Phase)
		default:
			break drain
		}
	}
	require.Equal(t, []types.Phase{
		types.PhaseAborted, types.PhaseRecovery, types.PhaseStopped,
	}, phases)
}

func TestRollCallRunsOnInjectedClock(t *testing.T) {
	mc := clock.NewMock()
	leds := &fakeLEDs{}
	h := newHandler(testConfig(), Deps{LEDs: leds}, nil, zap.NewNop(), mc)

	done := make(chan struct{})
	go func() {
		h.rollCall()
		close(done)
	}()
	for i := 0; i < 3; i++ {
		// Let the roll-call block on the mock clock before advancing it.
		time.Sleep(10 * time.Millisecond)
		mc.Add(rollCallDwell)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("roll-call did not finish on the injected clock")
	}
	require.Equal(t, []string{"green", "red", "blue"}, leds.order)
}

func TestRunFirstWake(t *testing.T) {
	f := newFixture(t, testConfig())

	require.NoError(t, f.h.Run(context.Background()))

	// Initial phase plus the first time-lapse burst ran.
	require.GreaterOrEqual(t, f.tp.count(), 2)
	require.GreaterOrEqual(t, f.cam.count(), 1)
	require.GreaterOrEqual(t, f.o2.count(), 1)

	// Ledger created and one burst consumed; unit goes back to sleep.
	book, err := toolbox.LoadBookkeeping(f.book)
	require.NoError(t, err)
	require.Equal(t, 2, book.TotalSamples)
	require.Equal(t, 1, book.RemainingSamples)
	require.Len(t, f.tools.sleeps, 1)
	require.False(t, f.rec.released)
}

func TestRunLastWakeFinishesMission(t *testing.T) {
	f := newFixture(t, testConfig())
	book := toolbox.NewBookkeeping("2024-10-16_00-00-00", 2)
	book.RemainingSamples = 1
	require.NoError(t, book.Save(f.book))

	require.NoError(t, f.h.Run(context.Background()))

	// Final burst, final sampling phase, then recovery.
	require.True(t, f.rec.released)
	require.GreaterOrEqual(t, f.rec.positions, 1)
	require.Equal(t, []string{"tp.csv"}, f.rec.files)
	require.True(t, f.rec.cleaned)
	require.Empty(t, f.tools.sleeps)
	require.Equal(t, types.PhaseStopped, f.lastStatus(t).Phase)

	got, err := toolbox.LoadBookkeeping(f.book)
	require.NoError(t, err)
	require.True(t, got.Done())
	require.NotEqual(t, toolbox.DefaultEndTime, got.EndTime)
}

func TestRunDisabledInstrumentsStayIdle(t *testing.T) {
	cfg := testConfig()
	cfg.Scripts.Image = false
	cfg.Scripts.Oxybase = false
	f := newFixture(t, cfg)

	require.NoError(t, f.h.Run(context.Background()))
	require.Zero(t, f.cam.count())
	require.Zero(t, f.o2.count())
	require.GreaterOrEqual(t, f.tp.count(), 1)
}
