// Command minion is the deployment firmware for the Minion benthic lander:
// it sequences the mission phases, samples the sensor suite, and runs the
// recovery beacon at end of mission.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"minion-go/services/deployment"
)

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:           "minion",
		Short:         "Minion benthic lander firmware",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", deployment.DefaultConfigPath, "mission config file")
	pf.StringVar(&opts.dataDir, "data", "/data/minion", "data directory")
	pf.StringVar(&opts.logPath, "log", "/data/minion/minion.log", "log file")
	pf.BoolVar(&opts.debug, "debug", false, "verbose logging")

	root.AddCommand(
		runCmd(opts),
		rtcCmd(opts),
		recoverCmd(opts),
		selftestCmd(opts),
		consoleCmd(opts),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
