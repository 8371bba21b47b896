package monitorcmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ckcm0210/watchdog/cmd/watchdog/internal/wiring"
	"github.com/ckcm0210/watchdog/pkg/baseline"
	"github.com/ckcm0210/watchdog/pkg/logger"
	"github.com/ckcm0210/watchdog/pkg/monitor"
)

func NewMonitorCommand() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Build baselines and watch for workbook changes",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return monitorCmd(configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "watchdog.json", "Config file path")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func monitorCmd(configPath string, debug bool) error {
	p, err := wiring.Load(configPath, debug)
	if err != nil {
		return err
	}
	if err := p.Config.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal asks for graceful stop; a second escalates.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.InfoCF("monitor", "Stop requested, finishing up", nil)
		cancel()
		<-sigCh
		logger.WarnCF("monitor", "Second signal, hard exit", nil)
		os.Exit(1)
	}()

	// Startup baseline pass before watching.
	targets, err := monitor.CollectTargets(p.Config)
	if err != nil {
		return err
	}
	if len(targets) > 0 {
		builder := baseline.NewBuilder(p.Engine, p.Store, p.BuilderOptions(nil))
		if _, err := builder.Run(ctx, targets); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}

	poller := monitor.NewPoller(
		time.Duration(p.Config.PollIntervalSeconds)*time.Second,
		time.Duration(p.Config.PollWindowSeconds)*time.Second,
		func(ctx context.Context, path string) (bool, error) {
			result, err := p.Differ.Compare(ctx, path, true)
			if err != nil {
				return false, err
			}
			return result.Changed, nil
		},
	)

	m := monitor.New(p.Config, p.Differ, poller)
	return m.Run(ctx)
}
