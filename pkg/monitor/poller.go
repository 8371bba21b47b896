package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/ckcm0210/watchdog/pkg/logger"
)

// CheckFunc rechecks a path and reports whether a semantic change was
// found. The poller always calls it in silent mode semantics: the
// implementation should suppress per-change console output.
type CheckFunc func(ctx context.Context, path string) (changed bool, err error)

type pollTask struct {
	timer     *time.Timer
	remaining time.Duration
}

// Poller rechecks recently-changed files at a fixed cadence until they
// have been quiet for a full window. Autosave storms, network copies and
// application write buffering all collapse into one settled conclusion.
type Poller struct {
	interval time.Duration
	window   time.Duration
	check    CheckFunc

	mu      sync.Mutex
	tasks   map[string]*pollTask
	stopped bool
}

// NewPoller returns a poller with the given cadence. interval is the
// gap between rechecks; window is how long a path must stay quiet
// before it is considered settled.
func NewPoller(interval, window time.Duration, check CheckFunc) *Poller {
	return &Poller{
		interval: interval,
		window:   window,
		check:    check,
		tasks:    make(map[string]*pollTask),
	}
}

// StartPolling begins or restarts settling checks for path: any pending
// timer is cancelled and the quiet window starts over.
func (p *Poller) StartPolling(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}

	if task, ok := p.tasks[path]; ok {
		task.timer.Stop()
	}

	task := &pollTask{remaining: p.window}
	task.timer = time.AfterFunc(p.interval, func() { p.tick(path, task) })
	p.tasks[path] = task

	logger.InfoCF("poller", "Settling poll started", map[string]any{
		"path":     path,
		"interval": p.interval.String(),
		"window":   p.window.String(),
	})
}

// tick runs one recheck. The check executes outside the lock; a task
// replaced or removed while the check ran is abandoned.
func (p *Poller) tick(path string, task *pollTask) {
	p.mu.Lock()
	if p.stopped || p.tasks[path] != task {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	changed, err := p.check(context.Background(), path)
	if err != nil {
		logger.WarnCF("poller", "Settling recheck failed", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.tasks[path] != task {
		return
	}

	if changed {
		task.remaining = p.window
	} else {
		task.remaining -= p.interval
	}

	if task.remaining > 0 {
		task.timer = time.AfterFunc(p.interval, func() { p.tick(path, task) })
		return
	}

	delete(p.tasks, path)
	logger.InfoCF("poller", "File settled", map[string]any{"path": path})
}

// Tracked returns the number of paths currently being polled.
func (p *Poller) Tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

// Stop cancels all outstanding timers and clears the tracker. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	for path, task := range p.tasks {
		task.timer.Stop()
		delete(p.tasks, path)
	}
}
