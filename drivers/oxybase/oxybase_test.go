package oxybase

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

// fakePort records writes and replays canned replies.
type fakePort struct {
	wrote bytes.Buffer
	reply io.Reader
}

func (p *fakePort) Write(b []byte) (int, error) { return p.wrote.Write(b) }
func (p *fakePort) Read(b []byte) (int, error)  { return p.reply.Read(b) }

func newDevice(reply string) (*Device, *fakePort, *[]bool) {
	p := &fakePort{reply: strings.NewReader(reply)}
	var powers []bool
	d := New(p, func(on bool) error {
		powers = append(powers, on)
		return nil
	})
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return d, p, &powers
}

func TestStartPowersAndEnables(t *testing.T) {
	d, p, powers := newDevice("")
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(*powers) != 1 || !(*powers)[0] {
		t.Errorf("power calls = %v, want [true]", *powers)
	}
	if got := p.wrote.String(); got != cmdModeOn {
		t.Errorf("wrote %q, want %q", got, cmdModeOn)
	}
}

func TestStartCancelledDuringWarmup(t *testing.T) {
	d, p, powers := newDevice("")
	d.sleep = waitCtx
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.Start(ctx); err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := p.wrote.String(); got != "" {
		t.Errorf("wrote %q before warmup finished", got)
	}
	// The rail was raised and must come back down on abort.
	if len(*powers) != 2 || !(*powers)[0] || (*powers)[1] {
		t.Errorf("power calls = %v, want [true false]", *powers)
	}
}

func TestSampleReturnsTrimmedLine(t *testing.T) {
	d, p, _ := newDevice("O2V 23.91 100.2\r")
	got, err := d.Sample()
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if got != "O2V 23.91 100.2" {
		t.Errorf("sample = %q", got)
	}
	if p.wrote.String() != cmdData {
		t.Errorf("wrote %q, want data request", p.wrote.String())
	}
}

func TestSampleErrorOnEOF(t *testing.T) {
	d, _, _ := newDevice("")
	if _, err := d.Sample(); err == nil {
		t.Fatal("expected error on EOF")
	}
}

func TestShutdownStopsAndPowersOff(t *testing.T) {
	d, p, powers := newDevice("")
	if err := d.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if p.wrote.String() != cmdModeOff {
		t.Errorf("wrote %q, want %q", p.wrote.String(), cmdModeOff)
	}
	if len(*powers) != 1 || (*powers)[0] {
		t.Errorf("power calls = %v, want [false]", *powers)
	}
}
