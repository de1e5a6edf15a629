package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/swbio/pipet/pkg/daemon"
	"github.com/swbio/pipet/pkg/version"
)

var (
	// simulate swaps the serial line for a loopback so protocols can be
	// dry-run without hardware attached.
	simulate = false
)

func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "daemon",
		Short:   "Run pipet daemon in the foreground",
		GroupID: gAdvanced,
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("pipet daemon starting")
			return daemon.Run(configPath, unixSocketPath, simulate)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&simulate, "simulate", false,
		"Acknowledge commands internally instead of sending them to the serial device.")

	return cmd
}
