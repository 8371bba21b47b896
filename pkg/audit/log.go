// Package audit appends change records to a compressed, append-only
// tabular log, one file per calendar day.
package audit

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

var header = []string{
	"Timestamp", "File Path", "Author", "Worksheet", "Cell",
	"Old Formula", "Old Value", "New Formula", "New Value",
}

// Record is one audit row.
type Record struct {
	Timestamp  time.Time
	FilePath   string
	Author     string
	Worksheet  string
	Cell       string
	OldFormula string
	OldValue   string
	NewFormula string
	NewValue   string
}

func (r Record) row() []string {
	return []string{
		r.Timestamp.Format("2006-01-02 15:04:05"),
		r.FilePath,
		r.Author,
		r.Worksheet,
		r.Cell,
		r.OldFormula,
		r.OldValue,
		r.NewFormula,
		r.NewValue,
	}
}

// Log writes daily gzip CSV files into a directory. Appends from
// concurrent compare paths are serialised so gzip members never
// interleave.
type Log struct {
	mu  sync.Mutex
	dir string
}

// NewLog creates the audit directory if needed.
func NewLog(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir %s: %w", dir, err)
	}
	return &Log{dir: dir}, nil
}

// PathFor returns the log file path for a given day.
func (l *Log) PathFor(day time.Time) string {
	return filepath.Join(l.dir, "excel_change_log_"+day.Format("20060102")+".csv.gz")
}

// Append adds records to today's log. Each append is written as its own
// gzip member, which concatenates into a single valid stream. The header
// row is written exactly once, when the file is first created. No fsync:
// best-effort durability is acceptable here.
func (l *Log) Append(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	return l.appendAt(time.Now(), records)
}

func (l *Log) appendAt(day time.Time, records []Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.PathFor(day)

	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	// The whole gzip member is assembled in memory and appended with a
	// single write, so each append lands in the file as one unit.
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	cw := csv.NewWriter(zw)

	if fresh {
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("write audit header: %w", err)
		}
	}
	for _, r := range records {
		if err := cw.Write(r.row()); err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush audit records: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close audit gzip member: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append audit log %s: %w", path, err)
	}
	return nil
}
