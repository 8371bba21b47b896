package baseline

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ckcm0210/watchdog/pkg/cellmodel"
	"github.com/ckcm0210/watchdog/pkg/logger"
	"github.com/ckcm0210/watchdog/pkg/snapshot"
)

// Status is the per-file outcome of a baseline build.
type Status string

const (
	StatusOK        Status = "ok"
	StatusSkip      Status = "skip"
	StatusReadError Status = "read-error"
	StatusSaveError Status = "save-error"
	StatusTimeout   Status = "timeout"
)

// Totals accumulates build outcomes.
type Totals struct {
	OK     int
	Skip   int
	Errors int
}

func (t *Totals) add(s Status) {
	switch s {
	case StatusOK:
		t.OK++
	case StatusSkip:
		t.Skip++
	default:
		t.Errors++
	}
}

// BuilderOptions configures a batch build.
type BuilderOptions struct {
	EnableResume bool
	ResumeLog    string

	EnableTimeout bool
	Timeout       time.Duration

	EnableMemoryMonitor bool
	MemoryLimitMB       int64

	// ForcePatterns are substrings forcing a rebuild even when the
	// stored fingerprint matches.
	ForcePatterns []string

	// Parallel enables a bounded worker pool. The per-file timeout
	// supervisor only runs in sequential mode, where a single in-flight
	// tuple is meaningful.
	Parallel bool

	// PromptResume decides whether to continue from a prior progress
	// record. Nil means always resume.
	PromptResume func(p Progress) bool
}

// Builder batch-builds or refreshes baselines for a list of documents.
type Builder struct {
	engine *snapshot.Engine
	store  *Store
	opts   BuilderOptions

	mu          sync.Mutex
	currentPath string
	startedAt   time.Time
}

// NewBuilder returns a builder over the given engine and store.
func NewBuilder(engine *snapshot.Engine, store *Store, opts BuilderOptions) *Builder {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &Builder{engine: engine, store: store, opts: opts}
}

// Run processes paths in order, honouring resume, memory pressure, the
// advisory per-file timeout and cooperative cancellation. It returns the
// totals even when the build stops early.
func (b *Builder) Run(ctx context.Context, paths []string) (Totals, error) {
	start := b.resumeIndex(len(paths))

	if b.opts.Parallel {
		return b.runParallel(ctx, paths, start)
	}
	return b.runSequential(ctx, paths, start)
}

func (b *Builder) resumeIndex(total int) int {
	if !b.opts.EnableResume || b.opts.ResumeLog == "" {
		return 0
	}

	p, err := LoadProgress(b.opts.ResumeLog)
	if err != nil {
		logger.WarnCF("baseline", "Resume record unreadable, starting over", map[string]any{
			"error": err.Error(),
		})
		return 0
	}
	if p == nil || p.Total != total || p.Completed <= 0 || p.Completed >= total {
		return 0
	}

	if b.opts.PromptResume != nil && !b.opts.PromptResume(*p) {
		return 0
	}

	logger.InfoCF("baseline", "Resuming baseline build", map[string]any{
		"completed": p.Completed,
		"total":     p.Total,
	})
	return p.Completed
}

func (b *Builder) runSequential(ctx context.Context, paths []string, start int) (Totals, error) {
	var totals Totals

	supervisorDone := make(chan struct{})
	if b.opts.EnableTimeout {
		go b.superviseTimeout(supervisorDone)
	}
	defer close(supervisorDone)

	var mem *memoryMonitor
	if b.opts.EnableMemoryMonitor {
		mem = newMemoryMonitor(b.opts.MemoryLimitMB)
	}

	completedAll := true
	for i := start; i < len(paths); i++ {
		if ctx.Err() != nil {
			b.persistProgress(i, len(paths))
			completedAll = false
			break
		}
		if mem != nil && mem.overBudget() {
			b.persistProgress(i, len(paths))
			completedAll = false
			break
		}

		status := b.processSupervised(ctx, paths[i])
		totals.add(status)
		b.persistProgress(i+1, len(paths))
	}

	if completedAll {
		b.clearProgress()
	}
	b.logTotals(totals)
	return totals, nil
}

func (b *Builder) runParallel(ctx context.Context, paths []string, start int) (Totals, error) {
	var (
		totals    Totals
		totalsMu  sync.Mutex
		completed int
	)

	limit := 2 * runtime.NumCPU()
	if limit > 16 {
		limit = 16
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i := start; i < len(paths); i++ {
		path := paths[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			status := b.processOne(gctx, path)

			totalsMu.Lock()
			totals.add(status)
			completed++
			b.persistProgress(start+completed, len(paths))
			totalsMu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	switch {
	case err == nil:
		b.clearProgress()
	case errors.Is(err, context.Canceled):
		// Cooperative stop: progress stays persisted for resume.
		err = nil
	}
	b.logTotals(totals)
	return totals, err
}

// processSupervised runs one file under the in-flight tuple watched by
// the timeout supervisor. The supervisor never interrupts the worker; it
// clears the tuple, and the worker reports StatusTimeout when it finds
// its tuple gone.
func (b *Builder) processSupervised(ctx context.Context, path string) Status {
	b.mu.Lock()
	b.currentPath = path
	b.startedAt = time.Now()
	b.mu.Unlock()

	status := b.processOne(ctx, path)

	b.mu.Lock()
	timedOut := b.currentPath == ""
	b.currentPath = ""
	b.mu.Unlock()

	if timedOut {
		return StatusTimeout
	}
	return status
}

func (b *Builder) superviseTimeout(done <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			b.mu.Lock()
			if b.currentPath != "" && time.Since(b.startedAt) > b.opts.Timeout {
				logger.WarnCF("baseline", "File exceeded timeout, abandoning", map[string]any{
					"path":    b.currentPath,
					"elapsed": time.Since(b.startedAt).String(),
				})
				b.currentPath = ""
			}
			b.mu.Unlock()
		}
	}
}

func (b *Builder) processOne(ctx context.Context, path string) Status {
	begin := time.Now()
	key := KeyFor(path)

	stored, err := b.store.Load(key)
	if err != nil {
		logger.WarnCF("baseline", "Stored baseline unreadable, rebuilding", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
	}

	model, err := b.engine.Snapshot(ctx, path)
	if err != nil {
		logger.ErrorCF("baseline", "Snapshot failed", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
		return StatusReadError
	}

	hash := cellmodel.Fingerprint(model)
	if stored != nil && stored.ContentHash == hash && !b.forced(path) {
		logger.DebugCF("baseline", "Baseline up to date", map[string]any{"path": path})
		return StatusSkip
	}

	author, err := b.engine.Author(path)
	if err != nil {
		logger.DebugCF("baseline", "Author unavailable", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
	}

	if err := b.store.Save(key, &Baseline{
		LastAuthor:  author,
		ContentHash: hash,
		Cells:       model,
	}); err != nil {
		logger.ErrorCF("baseline", "Baseline save failed", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
		return StatusSaveError
	}

	info := b.engine.Stat(path, model)
	logger.InfoCF("baseline", "Baseline written", map[string]any{
		"path":    path,
		"sheets":  info.SheetCount,
		"bytes":   info.SizeBytes,
		"cells":   model.CellCount(),
		"elapsed": time.Since(begin).String(),
	})
	return StatusOK
}

func (b *Builder) forced(path string) bool {
	for _, pattern := range b.opts.ForcePatterns {
		if pattern != "" && strings.Contains(path, pattern) {
			return true
		}
	}
	return false
}

func (b *Builder) persistProgress(completed, total int) {
	if !b.opts.EnableResume || b.opts.ResumeLog == "" {
		return
	}
	if err := WriteProgress(b.opts.ResumeLog, completed, total); err != nil {
		logger.WarnCF("baseline", "Progress write failed", map[string]any{
			"error": err.Error(),
		})
	}
}

func (b *Builder) clearProgress() {
	if !b.opts.EnableResume || b.opts.ResumeLog == "" {
		return
	}
	if err := RemoveProgress(b.opts.ResumeLog); err != nil {
		logger.WarnCF("baseline", "Progress remove failed", map[string]any{
			"error": err.Error(),
		})
	}
}

func (b *Builder) logTotals(t Totals) {
	logger.InfoCF("baseline", "Baseline build finished", map[string]any{
		"ok":     t.OK,
		"skip":   t.Skip,
		"errors": t.Errors,
	})
}
