package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewJogCommand() *cobra.Command {
	var dx, dy, dz, du float64
	cmd := &cobra.Command{
		Use:     "jog",
		Short:   "Move the head by a relative offset",
		GroupID: gAdvanced,
		Long: `Move the head by a relative offset, in millimetres.

Intended for deck calibration and manual positioning. The robot must be homed first, and the resulting position must stay inside the travel limits. Refused while a run is in progress.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			if dx == 0 && dy == 0 && dz == 0 && du == 0 {
				return fmt.Errorf("nothing to do: all offsets are zero")
			}

			pos, err := apiClient.Jog(dx, dy, dz, du)
			if err != nil {
				return fmt.Errorf("failed to jog: %v", err)
			}
			logrus.Infof("head at %s", pos.String())
			return nil
		},
	}

	f := cmd.Flags()
	f.Float64VarP(&dx, "dx", "x", 0, "X offset in mm")
	f.Float64VarP(&dy, "dy", "y", 0, "Y offset in mm")
	f.Float64VarP(&dz, "dz", "z", 0, "Z offset in mm")
	f.Float64VarP(&du, "du", "u", 0, "plunger offset in mm")

	return cmd
}

func NewSyncPositionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "sync-position",
		Short:   "Re-read the head position from the device",
		GroupID: gAdvanced,
		Long: `Ask the controller for its position report and adopt it as the tracked position. Useful after a firmware-side move or a recovered fault.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			pos, err := apiClient.SyncPosition()
			if err != nil {
				return fmt.Errorf("failed to sync position: %v", err)
			}
			logrus.Infof("head at %s", pos.String())
			return nil
		},
	}
}
