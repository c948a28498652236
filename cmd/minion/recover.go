package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"minion-go/services/recovery"
)

func recoverCmd(opts *options) *cobra.Command {
	var burn bool
	var sendFile string

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Run the recovery sequence now",
		Long: "Starts a recovery session immediately: position report over SBD,\n" +
			"optionally energising the burn wire and transmitting a data file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			u, err := openUnit(*opts)
			if err != nil {
				return err
			}
			defer u.close()

			sess := recovery.NewSession(u.hat, u.sat, u.log)
			defer sess.Cleanup()

			if burn {
				if err := sess.Release(); err != nil {
					return err
				}
			}
			if _, err := sess.AcquireAndSendPosition(ctx); err != nil {
				return err
			}
			if sendFile != "" {
				return sess.TransmitFile(ctx, sendFile)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&burn, "burn", false, "energise the burn wire")
	cmd.Flags().StringVar(&sendFile, "file", "", "data file to transmit after the position report")
	return cmd
}
