// Package snapshot extracts a normalised cell model from a packaged
// workbook: formula text is preserved instead of computed values, array
// formulas are reduced to their shared text, and cross-workbook
// references are resolved from the container's metadata parts.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/ckcm0210/watchdog/pkg/cellmodel"
	"github.com/ckcm0210/watchdog/pkg/logger"
)

// Options configures the engine.
type Options struct {
	// UseLocalCache copies each source workbook into CacheDir before
	// reading, so a slow or flaky network share is read once per change
	// of the source file.
	UseLocalCache bool
	CacheDir      string
}

// Engine produces cell models from workbook paths.
type Engine struct {
	opts Options
}

// NewEngine returns an engine with the given options.
func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Info reports a document's on-disk size and worksheet count for logging.
type Info struct {
	SizeBytes  int64
	SheetCount int
}

// Stat returns the document info for a snapshotted model.
func (e *Engine) Stat(path string, m *cellmodel.Model) Info {
	info := Info{SheetCount: len(m.SheetNames())}
	if fi, err := os.Stat(path); err == nil {
		info.SizeBytes = fi.Size()
	}
	return info
}

// Snapshot reads the workbook at path and returns its cell model.
// For each non-empty cell: if the storage type is formula, the formula
// text is recorded and the cached value ignored; otherwise the stored
// scalar is recorded. Empty cells are omitted. The context is checked
// between worksheets so a cancelled build stops at the next boundary.
func (e *Engine) Snapshot(ctx context.Context, path string) (*cellmodel.Model, error) {
	readPath := e.cachedCopy(path)

	f, err := excelize.OpenFile(readPath)
	if err != nil {
		return nil, &Error{Kind: KindArchive, Path: path, Err: err}
	}
	defer f.Close()

	// 1904-epoch workbooks shift every date serial.
	date1904 := false
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		date1904 = *props.Date1904
	}

	model := cellmodel.NewModel()
	for _, sheetName := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, &Error{Kind: KindRead, Path: path, Err: err}
		}

		sheet, err := readSheet(f, sheetName, date1904)
		if err != nil {
			return nil, &Error{Kind: KindRead, Path: path, Err: err}
		}
		model.AddSheet(sheetName, sheet)
	}

	return model, nil
}

func readSheet(f *excelize.File, sheetName string, date1904 bool) (cellmodel.Sheet, error) {
	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
	}

	sheet := make(cellmodel.Sheet)
	for ri, row := range rows {
		for ci, raw := range row {
			coord, err := excelize.CoordinatesToCellName(ci+1, ri+1)
			if err != nil {
				return nil, fmt.Errorf("sheet %s row %d col %d: %w", sheetName, ri+1, ci+1, err)
			}

			// The storage type decides formula-vs-value exclusively:
			// a text cell that merely looks like a formula stays a value.
			formula, err := f.GetCellFormula(sheetName, coord)
			if err != nil {
				return nil, fmt.Errorf("sheet %s cell %s: %w", sheetName, coord, err)
			}

			var entry cellmodel.Entry
			if formula != "" {
				// Array formulas arrive here as their shared text, which
				// keeps two reads of an unchanged range comparing equal.
				entry = cellmodel.Entry{Formula: "=" + formula}
			} else if raw != "" {
				value, err := coerceCell(f, sheetName, coord, raw, date1904)
				if err != nil {
					return nil, fmt.Errorf("sheet %s cell %s: %w", sheetName, coord, err)
				}
				entry = cellmodel.Entry{Value: value}
			}

			if !entry.Empty() {
				sheet[coord] = entry
			}
		}
	}
	return sheet, nil
}

// Author returns the document's embedded last-modified-by field.
func (e *Engine) Author(path string) (string, error) {
	f, err := excelize.OpenFile(e.cachedCopy(path))
	if err != nil {
		return "", &Error{Kind: KindArchive, Path: path, Err: err}
	}
	defer f.Close()

	props, err := f.GetDocProps()
	if err != nil {
		return "", &Error{Kind: KindRead, Path: path, Err: err}
	}
	return props.LastModifiedBy, nil
}

// cachedCopy returns the path the engine should read from. When the
// cache is enabled the source is copied to
// <cache_dir>/<16-hex-of-path-digest>_<basename>, skipping the copy when
// the cached file is no older than the source. Every cache failure falls
// back to the source path with a warning.
func (e *Engine) cachedCopy(path string) string {
	if !e.opts.UseLocalCache || e.opts.CacheDir == "" {
		return path
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	sum := sha256.Sum256([]byte(abs))
	name := hex.EncodeToString(sum[:])[:16] + "_" + filepath.Base(path)
	cachePath := filepath.Join(e.opts.CacheDir, name)

	srcInfo, err := os.Stat(path)
	if err != nil {
		e.warnCache(path, err)
		return path
	}
	if cacheInfo, err := os.Stat(cachePath); err == nil {
		if !cacheInfo.ModTime().Before(srcInfo.ModTime()) {
			return cachePath
		}
	}

	if err := copyFile(path, cachePath); err != nil {
		e.warnCache(path, err)
		return path
	}
	return cachePath
}

func (e *Engine) warnCache(path string, err error) {
	cacheErr := &Error{Kind: KindCache, Path: path, Err: err}
	logger.WarnCF("snapshot", "Cache copy failed, reading source directly", map[string]any{
		"path":  path,
		"error": cacheErr.Error(),
	})
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
