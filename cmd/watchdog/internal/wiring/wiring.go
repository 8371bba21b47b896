// Package wiring assembles the compare pipeline shared by the monitor
// and baseline commands.
package wiring

import (
	"fmt"
	"time"

	"github.com/ckcm0210/watchdog/pkg/audit"
	"github.com/ckcm0210/watchdog/pkg/baseline"
	"github.com/ckcm0210/watchdog/pkg/config"
	"github.com/ckcm0210/watchdog/pkg/diffcells"
	"github.com/ckcm0210/watchdog/pkg/logger"
	"github.com/ckcm0210/watchdog/pkg/notify"
	"github.com/ckcm0210/watchdog/pkg/snapshot"
)

// Pipeline is the assembled core shared by both commands.
type Pipeline struct {
	Config *config.Config
	Engine *snapshot.Engine
	Store  *baseline.Store
	Audit  *audit.Log
	Differ *diffcells.Differ
}

// Load reads the config and builds the pipeline.
func Load(configPath string, debug bool) (*Pipeline, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Debug || debug)

	engine := snapshot.NewEngine(snapshot.Options{
		UseLocalCache: cfg.UseLocalCache,
		CacheDir:      cfg.CacheDir,
	})

	store, err := baseline.NewStore(cfg.BaselineDir)
	if err != nil {
		return nil, fmt.Errorf("init baseline store: %w", err)
	}

	auditLog, err := audit.NewLog(cfg.BaselineDir)
	if err != nil {
		return nil, fmt.Errorf("init audit log: %w", err)
	}

	var notifier diffcells.Notifier = notify.Console{}
	if slackSink := notify.NewSlack(cfg.SlackToken, cfg.SlackChannel); slackSink != nil {
		notifier = slackSink
	}

	return &Pipeline{
		Config: cfg,
		Engine: engine,
		Store:  store,
		Audit:  auditLog,
		Differ: diffcells.NewDiffer(engine, store, auditLog, notifier),
	}, nil
}

// BuilderOptions derives the batch-build options from the config.
func (p *Pipeline) BuilderOptions(promptResume func(baseline.Progress) bool) baseline.BuilderOptions {
	return baseline.BuilderOptions{
		EnableResume:        p.Config.EnableResume,
		ResumeLog:           p.Config.ResumeLog,
		EnableTimeout:       p.Config.EnableTimeout,
		Timeout:             time.Duration(p.Config.TimeoutSeconds) * time.Second,
		EnableMemoryMonitor: p.Config.EnableMemoryMonitor,
		MemoryLimitMB:       p.Config.MemoryLimitMB,
		ForcePatterns:       p.Config.ForceBaselinePatterns,
		Parallel:            p.Config.ParallelBuild,
		PromptResume:        promptResume,
	}
}
