package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"minion-go/drivers/minsat"
)

type fakeHat struct {
	mu      sync.Mutex
	burn    bool
	strobe  bool
	strobes int // on transitions
	ledBlue bool
	gpsOn   bool
	modemOn bool
}

func (h *fakeHat) BurnWire(on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.burn = on
	return nil
}

func (h *fakeHat) Strobe(on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if on && !h.strobe {
		h.strobes++
	}
	h.strobe = on
	return nil
}

func (h *fakeHat) LEDBlue(on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ledBlue = on
	return nil
}

func (h *fakeHat) GPSPower(on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gpsOn = on
	return nil
}

func (h *fakeHat) ModemPower(on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.modemOn = on
	return nil
}

func (h *fakeHat) snapshot() fakeHat {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fakeHat{burn: h.burn, strobe: h.strobe, strobes: h.strobes}
}

type fakeSat struct {
	posOpts  []minsat.SendPositionOpts
	posErrs  []error // consumed per call; nil past the end
	fileErrs []error
	files    []string
	gps      []bool
	modem    []bool
}

func (s *fakeSat) SendPosition(ctx context.Context, opts minsat.SendPositionOpts) (minsat.Fix, error) {
	s.posOpts = append(s.posOpts, opts)
	if n := len(s.posOpts) - 1; n < len(s.posErrs) && s.posErrs[n] != nil {
		return minsat.Fix{}, s.posErrs[n]
	}
	return minsat.Fix{Lat: 48.1, Lon: 11.5, Valid: true}, nil
}

func (s *fakeSat) SendFile(ctx context.Context, path string, offset int64) error {
	s.files = append(s.files, path)
	if n := len(s.files) - 1; n < len(s.fileErrs) {
		return s.fileErrs[n]
	}
	return nil
}

func (s *fakeSat) GPSPower(on bool) error { s.gps = append(s.gps, on); return nil }

func (s *fakeSat) ModemPower(on bool) error { s.modem = append(s.modem, on); return nil }

func newTestSession(hat *fakeHat, sat *fakeSat, clk clock.Clock) *Session {
	return newSession(hat, sat, clk, zap.NewNop())
}

func TestAcquireAndSendPositionFirstTry(t *testing.T) {
	sat := &fakeSat{}
	s := newTestSession(&fakeHat{}, sat, clock.NewMock())

	fix, err := s.AcquireAndSendPosition(context.Background())
	require.NoError(t, err)
	require.True(t, fix.Valid)
	require.Len(t, sat.posOpts, 1)
	require.True(t, sat.posOpts[0].MaintainGPSPower)
}

func TestAcquireAndSendPositionFallsBackToPowerCycling(t *testing.T) {
	sat := &fakeSat{posErrs: []error{errors.New("no fix")}}
	s := newTestSession(&fakeHat{}, sat, clock.NewMock())

	fix, err := s.AcquireAndSendPosition(context.Background())
	require.NoError(t, err)
	require.True(t, fix.Valid)
	require.Len(t, sat.posOpts, 2)
	require.True(t, sat.posOpts[0].MaintainGPSPower)
	require.False(t, sat.posOpts[1].MaintainGPSPower)
}

func TestAcquireAndSendPositionBothStrategiesFail(t *testing.T) {
	sat := &fakeSat{posErrs: []error{errors.New("no fix"), errors.New("still no fix")}}
	s := newTestSession(&fakeHat{}, sat, clock.NewMock())

	_, err := s.AcquireAndSendPosition(context.Background())
	require.Error(t, err)
	require.Len(t, sat.posOpts, 2)
}

func TestTransmitFileFirstSuccess(t *testing.T) {
	sat := &fakeSat{}
	s := newTestSession(&fakeHat{}, sat, clock.NewMock())

	require.NoError(t, s.TransmitFile(context.Background(), "tp.csv"))
	require.Len(t, sat.files, 1)
}

func TestTransmitFileSucceedsMidway(t *testing.T) {
	sat := &fakeSat{fileErrs: []error{errors.New("a"), errors.New("b")}}
	s := newTestSession(&fakeHat{}, sat, clock.NewMock())

	require.NoError(t, s.TransmitFile(context.Background(), "tp.csv"))
	require.Len(t, sat.files, 3)
}

func TestTransmitFileExactlyFiveAttempts(t *testing.T) {
	fail := errors.New("link down")
	sat := &fakeSat{fileErrs: []error{fail, fail, fail, fail, fail, fail, fail}}
	s := newTestSession(&fakeHat{}, sat, clock.NewMock())

	err := s.TransmitFile(context.Background(), "tp.csv")
	require.Error(t, err)
	require.Len(t, sat.files, 5)
}

func TestReleaseStartsBurnAndStrobe(t *testing.T) {
	hat := &fakeHat{}
	clk := clock.NewMock()
	s := newTestSession(hat, &fakeSat{}, clk)
	defer s.Cleanup()

	require.NoError(t, s.Release())

	require.Eventually(t, func() bool {
		snap := hat.snapshot()
		return snap.burn && snap.strobe
	}, time.Second, time.Millisecond)

	// One on-pulse, then dark for the long gap. The short sleeps let the
	// strobe goroutine arm its timer before the mock clock advances.
	time.Sleep(10 * time.Millisecond)
	clk.Add(strobeOn)
	require.Eventually(t, func() bool { return !hat.snapshot().strobe }, time.Second, time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	clk.Add(strobeOff)
	require.Eventually(t, func() bool {
		snap := hat.snapshot()
		return snap.strobe && snap.strobes == 2
	}, time.Second, time.Millisecond)
}

func TestCleanupSwitchesEverythingOff(t *testing.T) {
	hat := &fakeHat{}
	sat := &fakeSat{}
	s := newTestSession(hat, sat, clock.NewMock())

	require.NoError(t, s.Release())
	s.Cleanup()
	s.Cleanup() // idempotent

	snap := hat.snapshot()
	require.False(t, snap.burn)
	require.False(t, snap.strobe)
	require.Equal(t, []bool{false}, sat.gps)
	require.Equal(t, []bool{false}, sat.modem)
}
