package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mjl-/cablehs"
)

var (
	debug bool
	log   = logrus.New()
)

// Execute runs the cable command with the arguments of the process.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "cable",
		Short:        "Make and accept PSK-bound cablehs connections",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log.SetOutput(cmd.ErrOrStderr())
			log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
			if debug {
				log.SetLevel(logrus.DebugLevel)
			} else {
				log.SetLevel(logrus.InfoLevel)
			}
			return nil
		},
	}

	root.PersistentFlags().BoolVar(&debug, "debug", false, "log handshake and transport details")

	root.AddCommand(
		initCmd(),
		privkeyCmd(),
		pubkeyCmd(),
		genpskCmd(),
		genkeysCmd(),
		listenCmd(),
		dialCmd(),
		remotestaticCmd(),
		httpgetCmd(),
	)
	return root
}

// newConfig returns a config logging to the command logger. With known, remote
// static keys are checked against .cable/known_peers.
func newConfig(known bool) *cablehs.Config {
	config := &cablehs.Config{Log: log}
	if known {
		config.CheckPeerStatic = cablehs.CheckKnownPeers
	}
	return config
}
