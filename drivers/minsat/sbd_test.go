package minsat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap"

	"minion-go/errcode"
)

// fakeModem answers AT commands synchronously: each Write queues the reply
// the next Read drains.
type fakeModem struct {
	reply      bytes.Buffer
	cmds       []string
	sbdixLine  string
	payloads   [][]byte
	wantLen    int
	awaitingWB bool
	corruptWB  bool // force a checksum reject on binary writes
}

func (m *fakeModem) queue(lines ...string) {
	for _, l := range lines {
		m.reply.WriteString(l + "\r\n")
	}
}

func (m *fakeModem) Write(p []byte) (int, error) {
	if m.awaitingWB {
		m.awaitingWB = false
		payload := p[:len(p)-2]
		m.payloads = append(m.payloads, append([]byte{}, payload...))
		var sum uint16
		for _, b := range payload {
			sum += uint16(b)
		}
		got := uint16(p[len(p)-2])<<8 | uint16(p[len(p)-1])
		if m.corruptWB || len(payload) != m.wantLen || got != sum {
			m.queue("2", "OK") // checksum mismatch
		} else {
			m.queue("0", "OK")
		}
		return len(p), nil
	}

	cmd := strings.TrimSuffix(string(p), "\r")
	m.cmds = append(m.cmds, cmd)
	switch {
	case cmd == "AT", cmd == "ATE0", strings.HasPrefix(cmd, "AT+SBDWT="):
		m.queue("OK")
	case strings.HasPrefix(cmd, "AT+SBDWB="):
		m.wantLen, _ = strconv.Atoi(strings.TrimPrefix(cmd, "AT+SBDWB="))
		m.awaitingWB = true
		m.queue("READY")
	case cmd == "AT+SBDIX":
		m.queue(m.sbdixLine, "OK")
	case cmd == "AT+SBDD0":
		m.queue("0", "OK")
	default:
		m.queue("ERROR")
	}
	return len(p), nil
}

func (m *fakeModem) Read(p []byte) (int, error) {
	if m.reply.Len() == 0 {
		return 0, io.EOF
	}
	return m.reply.Read(p)
}

func (m *fakeModem) Close() error { return nil }

func newSBDDevice(modem *fakeModem, power *fakePower) *Device {
	d := New(Config{}, power, zap.NewNop())
	d.open = func(name string, baud int) (io.ReadWriteCloser, error) {
		return modem, nil
	}
	return d
}

func (m *fakeModem) commandCount(prefix string) int {
	n := 0
	for _, c := range m.cmds {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func TestSendText(t *testing.T) {
	modem := &fakeModem{sbdixLine: "+SBDIX: 0, 23, 0, 0, 0, 0"}
	power := &fakePower{}
	d := newSBDDevice(modem, power)

	if err := d.SendText(context.Background(), "GPS,20241016_123519,48.117300,11.516600,8"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	want := []string{"AT", "ATE0", "AT+SBDWT=GPS,20241016_123519,48.117300,11.516600,8", "AT+SBDIX", "AT+SBDD0"}
	if fmt.Sprint(modem.cmds) != fmt.Sprint(want) {
		t.Errorf("commands = %v, want %v", modem.cmds, want)
	}
	if len(power.modem) != 1 || !power.modem[0] {
		t.Errorf("modem power calls = %v, want [true]", power.modem)
	}
}

func TestSendTextRejectedSession(t *testing.T) {
	modem := &fakeModem{sbdixLine: "+SBDIX: 32, 0, 2, 0, 0, 0"}
	d := newSBDDevice(modem, &fakePower{})

	err := d.SendText(context.Background(), "hello")
	if err != errcode.TransmitFailed {
		t.Fatalf("err = %v, want TransmitFailed", err)
	}
	// A rejected session must not clear the MO buffer.
	if modem.commandCount("AT+SBDD0") != 0 {
		t.Errorf("commands = %v, SBDD0 after failure", modem.cmds)
	}
}

func TestSendBinaryChecksum(t *testing.T) {
	modem := &fakeModem{sbdixLine: "+SBDIX: 1, 5, 0, 0, 0, 0"}
	d := newSBDDevice(modem, &fakePower{})

	payload := []byte{0x01, 0xFF, 0x80, 0x00, 0x42}
	if err := d.SendBinary(context.Background(), payload); err != nil {
		t.Fatalf("SendBinary: %v", err)
	}
	if len(modem.payloads) != 1 || !bytes.Equal(modem.payloads[0], payload) {
		t.Errorf("payloads = %v", modem.payloads)
	}
}

func TestSendBinaryChecksumRejected(t *testing.T) {
	modem := &fakeModem{corruptWB: true}
	d := newSBDDevice(modem, &fakePower{})

	err := d.SendBinary(context.Background(), []byte{0x01, 0x02})
	if err != errcode.BadChecksum {
		t.Fatalf("err = %v, want BadChecksum", err)
	}
	// A rejected write must not start a satellite session.
	if modem.commandCount("AT+SBDIX") != 0 {
		t.Errorf("commands = %v, SBDIX after rejected write", modem.cmds)
	}
}

func TestSendBinaryRejectsOversize(t *testing.T) {
	d := newSBDDevice(&fakeModem{}, &fakePower{})
	if err := d.SendBinary(context.Background(), make([]byte, moMaxBytes+1)); err != errcode.InvalidParams {
		t.Fatalf("err = %v, want InvalidParams", err)
	}
	if err := d.SendBinary(context.Background(), nil); err != errcode.InvalidParams {
		t.Fatalf("err = %v, want InvalidParams", err)
	}
}

func TestSendFileChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, bytes.Repeat([]byte{'x'}, 650), 0o644); err != nil {
		t.Fatal(err)
	}
	modem := &fakeModem{sbdixLine: "+SBDIX: 0, 1, 0, 0, 0, 0"}
	d := newSBDDevice(modem, &fakePower{})

	if err := d.SendFile(context.Background(), path, 0); err != nil {
		t.Fatalf("SendFile: %v", err)
	}
	if got := len(modem.payloads); got != 3 {
		t.Fatalf("chunks = %d, want 3", got)
	}
	if len(modem.payloads[0]) != fileChunkSize || len(modem.payloads[2]) != 50 {
		t.Errorf("chunk sizes = %d,%d,%d",
			len(modem.payloads[0]), len(modem.payloads[1]), len(modem.payloads[2]))
	}
}

func TestSendFileFromOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, bytes.Repeat([]byte{'x'}, 650), 0o644); err != nil {
		t.Fatal(err)
	}
	modem := &fakeModem{sbdixLine: "+SBDIX: 0, 1, 0, 0, 0, 0"}
	d := newSBDDevice(modem, &fakePower{})

	if err := d.SendFile(context.Background(), path, 350); err != nil {
		t.Fatalf("SendFile: %v", err)
	}
	if got := len(modem.payloads); got != 1 {
		t.Fatalf("chunks = %d, want 1", got)
	}
	if len(modem.payloads[0]) != 300 {
		t.Errorf("chunk size = %d, want 300", len(modem.payloads[0]))
	}
}

func TestParseSBDIX(t *testing.T) {
	cases := []struct {
		lines []string
		mo    int
		ok    bool
	}{
		{[]string{"+SBDIX: 0, 5, 0, 0, 0, 0", "OK"}, 0, true},
		{[]string{"+SBDIX: 4,12,2,0,0,0", "OK"}, 4, true},
		{[]string{"+SBDIX: 32, 0, 2, 0, 0, 0", "OK"}, 32, true},
		{[]string{"OK"}, 0, false},
		{[]string{"+SBDIX: nope", "OK"}, 0, false},
	}
	for _, c := range cases {
		mo, ok := parseSBDIX(c.lines)
		if mo != c.mo || ok != c.ok {
			t.Errorf("parseSBDIX(%v) = %d,%v, want %d,%v", c.lines, mo, ok, c.mo, c.ok)
		}
	}
}
