package minsat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"minion-go/errcode"
)

// SBD limits for the 9602: a mobile-originated message is at most 340 bytes,
// file payloads are chunked below that to leave header room.
const (
	moMaxBytes    = 340
	fileChunkSize = 300
)

// Session command timeouts. SBDIX is long: it includes the satellite
// handshake.
const (
	atTimeout    = 5 * time.Second
	sbdixTimeout = 75 * time.Second
)

// sbdixMaxMOStatus is the highest MO status code still reported as a
// successful transfer by the 9602.
const sbdixMaxMOStatus = 4

// SendPositionOpts mirrors the knobs the recovery sequencer varies between
// attempts.
type SendPositionOpts struct {
	MaintainGPSPower bool
	GPSTimeout       time.Duration
}

// SendPosition acquires a GPS fix and transmits it as an SBD text message.
// The returned fix is whatever was acquired, valid or not.
func (d *Device) SendPosition(ctx context.Context, opts SendPositionOpts) (Fix, error) {
	if opts.GPSTimeout <= 0 {
		opts.GPSTimeout = 120 * time.Second
	}
	fix, err := d.AcquireFix(ctx, opts.GPSTimeout, opts.MaintainGPSPower)
	if err != nil {
		return fix, err
	}
	if err := d.SendText(ctx, fix.Message()); err != nil {
		return fix, err
	}
	return fix, nil
}

// SendText transmits one text message over SBD.
func (d *Device) SendText(ctx context.Context, msg string) error {
	s, err := d.openModem()
	if err != nil {
		return err
	}
	defer s.close()

	if _, err := s.command(ctx, "AT+SBDWT="+msg, atTimeout); err != nil {
		return errors.Wrap(err, "minsat: sbd write text")
	}
	return s.initiateSession(ctx)
}

// SendBinary transmits one binary payload over SBD.
func (d *Device) SendBinary(ctx context.Context, payload []byte) error {
	if len(payload) == 0 || len(payload) > moMaxBytes {
		return errcode.InvalidParams
	}
	s, err := d.openModem()
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.writeBinary(ctx, payload); err != nil {
		return err
	}
	return s.initiateSession(ctx)
}

// SendFile transmits a file from the given byte offset, chunked into SBD
// messages. The first failed chunk aborts the transfer.
func (d *Device) SendFile(ctx context.Context, path string, offset int64) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "minsat: open file")
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return errors.Wrap(err, "minsat: seek file")
		}
	}

	buf := make([]byte, fileChunkSize)
	chunk := 0
	for {
		n, rerr := io.ReadFull(f, buf)
		if n > 0 {
			if err := d.SendBinary(ctx, buf[:n]); err != nil {
				return errors.Wrapf(err, "minsat: send chunk %d", chunk)
			}
			d.log.Info("sbd chunk sent", zap.Int("chunk", chunk), zap.Int("bytes", n))
			chunk++
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			return nil
		}
		if rerr != nil {
			return errors.Wrap(rerr, "minsat: read file")
		}
	}
}

// ---- AT session ----

type sbdSession struct {
	d    *Device
	port io.ReadWriteCloser
}

func (d *Device) openModem() (*sbdSession, error) {
	if err := d.power.ModemPower(true); err != nil {
		return nil, errors.Wrap(err, "minsat: modem power on")
	}
	port, err := d.open(d.cfg.ModemPort, d.cfg.ModemBaud)
	if err != nil {
		return nil, errors.Wrap(err, "minsat: open modem port")
	}
	s := &sbdSession{d: d, port: port}

	// Probe and disable echo so replies parse cleanly.
	if _, err := s.command(context.Background(), "AT", atTimeout); err != nil {
		s.close()
		return nil, errors.Wrap(err, "minsat: modem not responding")
	}
	if _, err := s.command(context.Background(), "ATE0", atTimeout); err != nil {
		s.close()
		return nil, errors.Wrap(err, "minsat: disable echo")
	}
	return s, nil
}

func (s *sbdSession) close() { _ = s.port.Close() }

// command writes an AT command and accumulates reply lines until a terminal
// token ("OK", "ERROR", or "READY" for binary writes) or the deadline.
func (s *sbdSession) command(ctx context.Context, cmd string, timeout time.Duration) ([]string, error) {
	if _, err := io.WriteString(s.port, cmd+"\r"); err != nil {
		return nil, err
	}
	return s.awaitReply(ctx, timeout)
}

// awaitReply accumulates reply lines until a terminal token or the deadline.
func (s *sbdSession) awaitReply(ctx context.Context, timeout time.Duration) ([]string, error) {
	deadline := time.Now().Add(timeout)
	var acc bytes.Buffer
	tmp := make([]byte, 256)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := s.port.Read(tmp)
		if n > 0 {
			acc.Write(tmp[:n])
			lines := splitReply(acc.String())
			for _, l := range lines {
				switch l {
				case "OK", "READY":
					return lines, nil
				case "ERROR":
					return lines, errcode.ModemError
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
	}
	return nil, errcode.Timeout
}

func splitReply(raw string) []string {
	var lines []string
	for _, l := range strings.FieldsFunc(raw, func(r rune) bool { return r == '\r' || r == '\n' }) {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// writeBinary performs the SBDWB handshake: announce length, wait for READY,
// stream payload plus the 16-bit big-endian byte-sum checksum.
func (s *sbdSession) writeBinary(ctx context.Context, payload []byte) error {
	lines, err := s.command(ctx, fmt.Sprintf("AT+SBDWB=%d", len(payload)), atTimeout)
	if err != nil {
		return errors.Wrap(err, "minsat: sbd write binary announce")
	}
	if !containsLine(lines, "READY") {
		return errcode.ModemError
	}

	var sum uint16
	for _, b := range payload {
		sum += uint16(b)
	}
	frame := append(append([]byte{}, payload...), byte(sum>>8), byte(sum))
	if _, err := s.port.Write(frame); err != nil {
		return errors.Wrap(err, "minsat: sbd payload write")
	}

	lines, err = s.awaitReply(ctx, atTimeout)
	if err != nil {
		return errors.Wrap(err, "minsat: sbd write binary result")
	}
	switch {
	case containsLine(lines, "0"):
		return nil
	case containsLine(lines, "2"):
		return errcode.BadChecksum
	default:
		return errcode.ModemError // 1 = timeout, 3 = size
	}
}

// initiateSession runs AT+SBDIX and interprets the MO status.
func (s *sbdSession) initiateSession(ctx context.Context) error {
	lines, err := s.command(ctx, "AT+SBDIX", sbdixTimeout)
	if err != nil {
		return errors.Wrap(err, "minsat: sbdix")
	}
	mo, ok := parseSBDIX(lines)
	if !ok {
		return errcode.ModemError
	}
	if mo > sbdixMaxMOStatus {
		s.d.log.Warn("sbd session rejected", zap.Int("mo_status", mo))
		return errcode.TransmitFailed
	}
	// Clear the MO buffer so a retry never resends stale data.
	_, _ = s.command(ctx, "AT+SBDD0", atTimeout)
	return nil
}

// parseSBDIX extracts the MO status from a "+SBDIX: a, b, c, d, e, f" line.
func parseSBDIX(lines []string) (int, bool) {
	for _, l := range lines {
		rest, ok := strings.CutPrefix(l, "+SBDIX:")
		if !ok {
			continue
		}
		fields := strings.Split(rest, ",")
		if len(fields) == 0 {
			return 0, false
		}
		mo, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return 0, false
		}
		return mo, true
	}
	return 0, false
}

func containsLine(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}
