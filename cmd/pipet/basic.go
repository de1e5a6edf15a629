package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/swbio/pipet/pkg/config"
	"github.com/swbio/pipet/pkg/executor"
	"github.com/swbio/pipet/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewRunCommand() *cobra.Command {
	wait := false
	cmd := &cobra.Command{
		Use:     "run [protocol file]",
		Short:   "Run a protocol file",
		GroupID: gBasic,
		Long: `Run a protocol file.

The protocol is a JSON list of steps (home, moveTo, aspirate, dispense, pickTip, dropTip). The daemon validates the whole document before any motion starts; a single invalid step rejects the run.`,
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("invalid number of arguments")
			}

			doc, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read protocol file: %v", err)
			}

			st, err := apiClient.Run(doc)
			if err != nil {
				return fmt.Errorf("failed to start run: %v", err)
			}
			logrus.Infof("run accepted with %d steps", st.StepCount)

			if !wait {
				return nil
			}
			return waitForRun()
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "block until the run finishes and report the outcome")

	return cmd
}

// waitForRun polls the daemon until the executor leaves the busy states.
func waitForRun() error {
	for {
		time.Sleep(500 * time.Millisecond)

		st, err := apiClient.GetStatus()
		if err != nil {
			return fmt.Errorf("failed to poll status: %v", err)
		}
		switch st.State {
		case executor.Executing, executor.Homing:
			logrus.Debugf("step %d/%d", st.StepIndex+1, st.StepCount)
		case executor.Aborted:
			return fmt.Errorf("run aborted: %s", st.LastError)
		default:
			logrus.Infof("run %s", st.State)
			return nil
		}
	}
}

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of the robot",
		Long:    `Get executor state, head position, and volume bookkeeping.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetStatus()
			if err != nil {
				return fmt.Errorf("failed to get status: %v", err)
			}

			cmd.Println(bold("Executor:"))
			cmd.Printf("  State: %s\n", stateText(st.State))
			if st.State == executor.Executing {
				cmd.Printf("  Step: %d of %d\n", st.StepIndex+1, st.StepCount)
			}
			if st.LastError != "" {
				cmd.Printf("  Last error: %s\n", color.RedString(st.LastError))
			}

			cmd.Println()
			cmd.Println(bold("Robot:"))
			cmd.Println("  Homed: " + bool2Text(st.Robot.Homed))
			cmd.Println("  Tip attached: " + bool2Text(st.Robot.TipAttached))
			cmd.Printf("  Position: %s\n", st.Robot.Position.String())
			cmd.Printf("  Aspirated: %s\n", bold("%.1f µL", st.Robot.AspiratedUL))

			return nil
		},
	}
}

func NewAbortCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "abort",
		Short:   "Stop the current run at the next step boundary",
		GroupID: gBasic,
		Long: `Stop the current run at the next step boundary.

The step in flight always finishes, so the head is never left mid-motion. After an abort the robot must be homed before the next run.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.Abort()
			if err != nil {
				return fmt.Errorf("failed to abort: %v", err)
			}
			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}
			return nil
		},
	}
}

func NewHomeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "home",
		Short:   "Home all axes",
		GroupID: gBasic,
		RunE: func(_ *cobra.Command, _ []string) error {
			st, err := apiClient.Home()
			if err != nil {
				return fmt.Errorf("failed to home: %v", err)
			}
			logrus.Infof("homed, executor is %s", st.State)
			return nil
		},
	}
}

func NewInitConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "init-config",
		Short:   "Write a default config file",
		GroupID: gAdvanced,
		Long: `Write the stock platform configuration to the config path.

Edit the result to describe your deck: slot origins, labware geometry, and the syringe calibration.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("refusing to overwrite existing config %s", configPath)
			}
			if err := config.Default().Save(configPath); err != nil {
				return fmt.Errorf("failed to write config: %v", err)
			}
			logrus.Infof("wrote default config to %s", configPath)
			return nil
		},
	}
}

func stateText(s executor.RunState) string {
	switch s {
	case executor.Executing, executor.Homing:
		return color.YellowString(string(s))
	case executor.Aborted:
		return color.RedString(string(s))
	case executor.Ready, executor.Completed:
		return color.GreenString(string(s))
	}
	return string(s)
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
