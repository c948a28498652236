package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"minion-go/drivers/kellerld"
	"minion-go/drivers/ms5837"
	"minion-go/drivers/tsys01"
	"minion-go/errcode"
)

func selftestCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Probe every fitted device and report",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := openUnit(*opts)
			if err != nil {
				return err
			}
			defer u.close()

			cfg, err := u.loadMission()
			if err != nil {
				return err
			}
			i2c := u.hw.I2C()
			failed := 0
			report := func(name string, err error) {
				if err != nil {
					failed++
					fmt.Printf("FAIL  %-12s [%s] %v\n", name, errcode.Of(err), err)
					return
				}
				fmt.Printf("ok    %s\n", name)
			}

			_, rtcErr := u.rtc.ReadTime()
			report("rtc", rtcErr)

			// The hat already answered once during open; exercise a load.
			report("hat", u.hat.LEDBlue(false))

			if cfg.Scripts.P30 {
				dev := ms5837.New(i2c)
				err := dev.Init()
				if err == nil {
					_, _, err = dev.Read()
				}
				report("ms5837", err)
			}
			if cfg.Scripts.P100 {
				dev := kellerld.New(i2c)
				err := dev.Init()
				if err == nil {
					_, _, err = dev.Read()
				}
				report("kellerld", err)
			}
			if cfg.Scripts.Temperature {
				dev := tsys01.New(i2c)
				err := dev.Init()
				if err == nil {
					_, err = dev.Read()
				}
				report("tsys01", err)
			}

			if failed > 0 {
				return fmt.Errorf("%d device(s) failed", failed)
			}
			fmt.Println("all devices ok")
			return nil
		},
	}
}
