// Package monitor is the control plane: filesystem event intake,
// per-path debounce, dispatch into the compare pipeline, and the
// settling poller that decides when a bursty stream of modifications
// has ended.
package monitor

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/ckcm0210/watchdog/pkg/config"
	"github.com/ckcm0210/watchdog/pkg/diffcells"
	"github.com/ckcm0210/watchdog/pkg/logger"
)

// lockFilePrefix marks the host application's lock files, which shadow
// every open workbook and must never be snapshotted.
const lockFilePrefix = "~$"

// ErrNoWatchRoots is returned when no configured root could be watched.
var ErrNoWatchRoots = errors.New("monitor: no watch roots could be subscribed")

// Monitor owns the in-flight guard and the event counter and drives the
// event loop.
type Monitor struct {
	cfg    *config.Config
	differ *diffcells.Differ
	poller *Poller

	// mu guards inFlight and eventSeq. Snapshot-compare work runs
	// outside it.
	mu       sync.Mutex
	inFlight map[string]bool
	eventSeq int64
}

// New returns a monitor over the given pipeline.
func New(cfg *config.Config, differ *diffcells.Differ, poller *Poller) *Monitor {
	return &Monitor{
		cfg:      cfg,
		differ:   differ,
		poller:   poller,
		inFlight: make(map[string]bool),
	}
}

// EventCount returns the number of committed change events.
func (m *Monitor) EventCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eventSeq
}

// Run subscribes to the configured roots and processes modify events
// until the context is cancelled. Teardown stops the poller and closes
// the subscription.
func (m *Monitor) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	defer m.poller.Stop()

	subscribed := 0
	for _, root := range m.cfg.WatchDirs {
		if err := addRecursive(watcher, root); err != nil {
			logger.ErrorCF("monitor", "Watch subscription failed, skipping root", map[string]any{
				"root":  root,
				"error": err.Error(),
			})
			continue
		}
		logger.InfoCF("monitor", "Watching", map[string]any{"root": root})
		subscribed++
	}
	if subscribed == 0 {
		return ErrNoWatchRoots
	}

	for {
		select {
		case <-ctx.Done():
			logger.InfoCF("monitor", "Shutting down", nil)
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			m.handleEvent(ctx, watcher, ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WarnCF("monitor", "Watcher error", map[string]any{"error": err.Error()})
		}
	}
}

func (m *Monitor) handleEvent(ctx context.Context, watcher *fsnotify.Watcher, ev fsnotify.Event) {
	// New directories join the recursive subscription.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := addRecursive(watcher, ev.Name); err != nil {
				logger.WarnCF("monitor", "Could not watch new directory", map[string]any{
					"dir":   ev.Name,
					"error": err.Error(),
				})
			}
			return
		}
	}

	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
		return
	}
	if !m.accepts(ev.Name) {
		return
	}

	if !m.tryAcquire(ev.Name) {
		// A compare is already running for this path. Dropping is safe:
		// the settling poller covers the follow-up shortly.
		logger.DebugCF("monitor", "Event dropped, compare in flight", map[string]any{
			"path": ev.Name,
		})
		return
	}

	go func(path string) {
		defer m.release(path)
		m.dispatch(ctx, path)
	}(ev.Name)
}

// accepts applies the intake filter: supported extension, not a
// directory, not a lock file.
func (m *Monitor) accepts(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, lockFilePrefix) {
		return false
	}
	if !m.cfg.SupportsExtension(path) {
		return false
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return false
	}
	return true
}

func (m *Monitor) tryAcquire(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[path] {
		return false
	}
	m.inFlight[path] = true
	return true
}

func (m *Monitor) release(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, path)
}

// dispatch runs one snapshot-compare. The event number is committed only
// when a semantic change is confirmed.
func (m *Monitor) dispatch(ctx context.Context, path string) {
	result, err := m.differ.Compare(ctx, path, false)
	if err != nil {
		logger.ErrorCF("monitor", "Compare failed", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
		return
	}

	if !result.Changed {
		return
	}

	m.mu.Lock()
	m.eventSeq++
	eventNo := m.eventSeq
	m.mu.Unlock()

	logger.InfoCF("monitor", "Change event committed", map[string]any{
		"event":   eventNo,
		"path":    path,
		"changes": len(result.Changes),
	})
	m.poller.StartPolling(path)
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return watcher.Add(path)
	})
}

// CollectTargets lists the documents to baseline at startup: every
// supported file under the watch roots in scan-all mode, otherwise the
// configured manual targets that exist on disk.
func CollectTargets(cfg *config.Config) ([]string, error) {
	if !cfg.ScanAllMode {
		var targets []string
		for _, t := range cfg.ManualTargets {
			if info, err := os.Stat(t); err == nil && !info.IsDir() {
				targets = append(targets, t)
			} else {
				logger.WarnCF("monitor", "Manual target missing, skipping", map[string]any{
					"path": t,
				})
			}
		}
		return targets, nil
	}

	var targets []string
	for _, root := range cfg.WatchDirs {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			base := filepath.Base(path)
			if strings.HasPrefix(base, lockFilePrefix) {
				return nil
			}
			if cfg.SupportsExtension(path) {
				targets = append(targets, path)
			}
			return nil
		})
		if err != nil {
			logger.WarnCF("monitor", "Scan failed for root", map[string]any{
				"root":  root,
				"error": err.Error(),
			})
		}
	}
	return targets, nil
}
