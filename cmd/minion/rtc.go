package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"minion-go/toolbox"
)

func rtcCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rtc",
		Short: "Inspect and set the hardware clock",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the RTC time",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := openUnit(*opts)
			if err != nil {
				return err
			}
			defer u.close()

			now, err := u.rtc.ReadTime()
			if err != nil {
				return err
			}
			fmt.Println(now.Format(toolbox.TimestampLayout))
			return nil
		},
	}

	var fromArg string
	set := &cobra.Command{
		Use:   "set",
		Short: "Set the RTC from the system clock, or from --time",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := openUnit(*opts)
			if err != nil {
				return err
			}
			defer u.close()

			now := time.Now().UTC()
			if fromArg != "" {
				now, err = time.Parse(toolbox.TimestampLayout, fromArg)
				if err != nil {
					return err
				}
			}
			if err := u.rtc.SetTime(now); err != nil {
				return err
			}
			fmt.Println("rtc set to", now.Format(toolbox.TimestampLayout))
			return nil
		},
	}
	set.Flags().StringVar(&fromArg, "time", "", "explicit time (2006-01-02_15-04-05, UTC)")

	alarm := &cobra.Command{
		Use:   "alarm <minutes>",
		Short: "Arm the wake alarm n minutes from now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("minutes must be a positive integer")
			}
			u, err := openUnit(*opts)
			if err != nil {
				return err
			}
			defer u.close()

			if err := u.rtc.SetAlarmInMinutes(n); err != nil {
				return err
			}
			fmt.Printf("alarm armed for %d minutes\n", n)
			return nil
		},
	}

	cmd.AddCommand(show, set, alarm)
	return cmd
}
