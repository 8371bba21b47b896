package baselinecmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ckcm0210/watchdog/cmd/watchdog/internal/wiring"
	"github.com/ckcm0210/watchdog/pkg/baseline"
	"github.com/ckcm0210/watchdog/pkg/monitor"
)

func NewBaselineCommand() *cobra.Command {
	var (
		configPath string
		debug      bool
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "baseline [files...]",
		Short: "Batch build or refresh baselines",
		Long: `Builds baselines for the given files. When none are given it uses
every supported file under the configured watch directories in
scan_all_mode, otherwise the configured manual_targets. An
interrupted build can be resumed from its progress record.`,
		RunE: func(_ *cobra.Command, args []string) error {
			return baselineCmd(configPath, debug, yes, args)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "watchdog.json", "Config file path")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Resume without prompting")

	return cmd
}

func baselineCmd(configPath string, debug, yes bool, args []string) error {
	p, err := wiring.Load(configPath, debug)
	if err != nil {
		return err
	}

	targets := args
	if len(targets) == 0 {
		targets, err = monitor.CollectTargets(p.Config)
		if err != nil {
			return err
		}
	}
	if len(targets) == 0 {
		return fmt.Errorf("no target files: pass paths or configure watch_dirs with scan_all_mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
		<-sigCh
		os.Exit(1)
	}()

	prompt := promptResume
	if yes {
		prompt = nil
	}

	builder := baseline.NewBuilder(p.Engine, p.Store, p.BuilderOptions(prompt))
	totals, err := builder.Run(ctx, targets)
	if err != nil {
		return err
	}

	fmt.Printf("done: %d ok, %d skipped, %d errors\n", totals.OK, totals.Skip, totals.Errors)
	return nil
}

func promptResume(p baseline.Progress) bool {
	fmt.Printf("Previous build stopped at %d/%d (%s). Resume? [Y/n] ",
		p.Completed, p.Total, p.Timestamp)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return true
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "" || answer == "y" || answer == "yes"
}
