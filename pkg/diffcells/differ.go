package diffcells

import (
	"context"
	"time"

	"github.com/ckcm0210/watchdog/pkg/audit"
	"github.com/ckcm0210/watchdog/pkg/baseline"
	"github.com/ckcm0210/watchdog/pkg/cellmodel"
	"github.com/ckcm0210/watchdog/pkg/logger"
	"github.com/ckcm0210/watchdog/pkg/snapshot"
)

// Notifier receives confirmed change reports. Implementations must not
// block the compare path for long and must swallow their own failures.
type Notifier interface {
	ChangesDetected(path, author string, changes []Change)
}

// Result is the outcome of one snapshot-compare cycle.
type Result struct {
	// Changed is true when a semantic change was confirmed and the
	// baseline rotated forward.
	Changed bool
	// FirstSeen is true when no baseline existed and one was created.
	FirstSeen bool
	Changes   []Change
}

// Differ runs the full compare pipeline for one document: snapshot,
// baseline load, fingerprint fast path, cell diff, audit append,
// notification, and baseline rotation.
type Differ struct {
	engine   *snapshot.Engine
	store    *baseline.Store
	log      *audit.Log
	notifier Notifier
}

// NewDiffer wires the pipeline. notifier may be nil.
func NewDiffer(engine *snapshot.Engine, store *baseline.Store, log *audit.Log, notifier Notifier) *Differ {
	return &Differ{engine: engine, store: store, log: log, notifier: notifier}
}

// Compare re-reads the document at path and reconciles it against the
// stored baseline. In silent mode (the settling poller's rechecks)
// per-change logging is suppressed; auditing and baseline rotation still
// happen. Component-local failures inside the pipeline degrade to
// warnings; only snapshot failure aborts.
func (d *Differ) Compare(ctx context.Context, path string, silent bool) (*Result, error) {
	current, err := d.engine.Snapshot(ctx, path)
	if err != nil {
		return nil, err
	}
	hash := cellmodel.Fingerprint(current)

	key := baseline.KeyFor(path)
	stored, err := d.store.Load(key)
	if err != nil {
		logger.WarnCF("differ", "Baseline unreadable, treating as first sight", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
		stored = nil
	}

	if stored == nil {
		author := d.author(path)
		if err := d.store.Save(key, &baseline.Baseline{
			LastAuthor:  author,
			ContentHash: hash,
			Cells:       current,
		}); err != nil {
			logger.ErrorCF("differ", "First baseline save failed", map[string]any{
				"path":  path,
				"error": err.Error(),
			})
			return &Result{}, nil
		}
		logger.InfoCF("differ", "First baseline created", map[string]any{
			"path":  path,
			"cells": current.CellCount(),
		})
		return &Result{FirstSeen: true}, nil
	}

	if stored.ContentHash == hash {
		return &Result{}, nil
	}

	author := d.author(path)

	changes := Diff(stored, current)
	if len(changes) == 0 {
		// Every fingerprint-visible difference was suppressed as noise;
		// rotate the baseline so the next read takes the fast path.
		d.rotate(path, key, author, hash, current)
		return &Result{}, nil
	}

	refs, err := d.engine.ExternalRefs(path)
	if err != nil {
		logger.WarnCF("differ", "External reference table unavailable", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
	}
	reported := EnrichExternalRefs(changes, refs)

	if !silent {
		for _, c := range reported {
			logger.InfoCF("differ", "Cell changed", map[string]any{
				"path":        path,
				"worksheet":   c.Worksheet,
				"cell":        c.Coordinate,
				"old_formula": c.OldFormula,
				"old_value":   c.OldValue,
				"new_formula": c.NewFormula,
				"new_value":   c.NewValue,
			})
		}
	}

	if err := d.log.Append(auditRecords(path, author, reported)); err != nil {
		logger.ErrorCF("differ", "Audit append failed", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
	}

	if d.notifier != nil {
		d.notifier.ChangesDetected(path, author, reported)
	}

	d.rotate(path, key, author, hash, current)
	return &Result{Changed: true, Changes: reported}, nil
}

func (d *Differ) author(path string) string {
	author, err := d.engine.Author(path)
	if err != nil {
		logger.DebugCF("differ", "Author unavailable", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
		return ""
	}
	return author
}

// rotate replaces the stored baseline. On save failure the prior
// baseline stays in place and the next event retries.
func (d *Differ) rotate(path, key, author, hash string, current *cellmodel.Model) {
	if err := d.store.Save(key, &baseline.Baseline{
		LastAuthor:  author,
		ContentHash: hash,
		Cells:       current,
	}); err != nil {
		logger.ErrorCF("differ", "Baseline rotation failed", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
	}
}

func auditRecords(path, author string, changes []Change) []audit.Record {
	now := time.Now()
	records := make([]audit.Record, len(changes))
	for i, c := range changes {
		records[i] = audit.Record{
			Timestamp:  now,
			FilePath:   path,
			Author:     author,
			Worksheet:  c.Worksheet,
			Cell:       c.Coordinate,
			OldFormula: c.OldFormula,
			OldValue:   c.OldValue,
			NewFormula: c.NewFormula,
			NewValue:   c.NewValue,
		}
	}
	return records
}
