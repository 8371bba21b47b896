package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ckcm0210/watchdog/cmd/watchdog/internal/baselinecmd"
	"github.com/ckcm0210/watchdog/cmd/watchdog/internal/monitorcmd"
	"github.com/ckcm0210/watchdog/cmd/watchdog/internal/version"
)

func NewWatchdogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "watchdog",
		Short:   "Excel change watchdog - semantic change monitoring for workbooks",
		Example: "watchdog monitor --config watchdog.json",
	}

	cmd.AddCommand(
		monitorcmd.NewMonitorCommand(),
		baselinecmd.NewBaselineCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewWatchdogCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
