package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"minion-go/drivers/kellerld"
	"minion-go/drivers/ms5837"
	"minion-go/drivers/oxybase"
	"minion-go/drivers/tsys01"
	"minion-go/errcode"
	"minion-go/services/camera"
	"minion-go/services/deployment"
	"minion-go/services/recovery"
	"minion-go/services/sampler"
)

const oxybasePort = "/dev/serial0"

func runCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one wake cycle of the mission",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			u, err := openUnit(*opts)
			if err != nil {
				return err
			}
			defer u.close()

			cfg, err := u.loadMission()
			if err != nil {
				return err
			}

			deps, shutdown, err := buildDeps(ctx, u, cfg)
			if err != nil {
				return err
			}
			defer shutdown()

			h := deployment.NewHandler(cfg, deps, u.bus.NewConnection("deployment"), u.log)
			return h.Run(ctx)
		},
	}
}

// buildDeps wires the instruments the mission file enables. The returned
// shutdown releases whatever was powered up.
func buildDeps(ctx context.Context, u *unit, cfg deployment.MissionConfig) (deployment.Deps, func(), error) {
	i2c := u.hw.I2C()
	shutdown := func() {}

	var readPT sampler.ReadPT
	switch {
	case cfg.Scripts.P30:
		dev := ms5837.New(i2c)
		if err := dev.Init(); err != nil {
			u.log.Warn("ms5837 init failed", zap.Error(err))
		}
		readPT = dev.Read
	case cfg.Scripts.P100:
		dev := kellerld.New(i2c)
		if err := dev.Init(); err != nil {
			u.log.Warn("kellerld init failed", zap.Error(err))
		}
		readPT = func() (float64, float64, error) {
			bar, t, err := dev.Read()
			return bar * 1000, t, err
		}
	default:
		readPT = func() (float64, float64, error) { return 0, 0, errcode.SensorNotReady }
	}

	var readT sampler.ReadT
	if cfg.Scripts.Temperature {
		dev := tsys01.New(i2c)
		if err := dev.Init(); err != nil {
			u.log.Warn("tsys01 init failed", zap.Error(err))
		}
		readT = dev.Read
	} else {
		readT = func() (float64, error) { return 0, errcode.SensorNotReady }
	}

	tpFile := u.dataFile(cfg.MinionID + "_tp.csv")
	deps := deployment.Deps{
		Tools: u.tools,
		TP: sampler.NewTP(readPT, readT, tpFile,
			u.bus.NewConnection("sampler-tp"), u.log),
		Rec:      recovery.NewSession(u.hat, u.sat, u.log),
		LEDs:     ledPanel{hw: u.hw, hat: u.hat},
		TPFile:   tpFile,
		BookPath: u.dataFile("samples.json"),
	}

	if cfg.Scripts.Image {
		deps.Cam = camera.New(u.ring, u.opts.dataDir, u.log)
	}

	if cfg.Scripts.Oxybase {
		port, err := serial.Open(oxybasePort, &serial.Mode{BaudRate: 19200})
		if err != nil {
			return deps, shutdown, err
		}
		_ = port.SetReadTimeout(2 * time.Second)
		optode := oxybase.New(port, func(on bool) error {
			return u.hw.OxybaseEnable.Out(level(on))
		})
		if err := optode.Start(ctx); err != nil {
			u.log.Warn("oxybase start failed", zap.Error(err))
		}
		deps.O2 = sampler.NewO2(optode.Sample, u.dataFile(cfg.MinionID+"_o2.csv"),
			u.bus.NewConnection("sampler-o2"), u.log)
		shutdown = func() {
			if err := optode.Shutdown(); err != nil {
				u.log.Warn("oxybase shutdown failed", zap.Error(err))
			}
			_ = port.Close()
		}
	}

	return deps, shutdown, nil
}
