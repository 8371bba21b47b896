package monitor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ckcm0210/watchdog/pkg/audit"
	"github.com/ckcm0210/watchdog/pkg/baseline"
	"github.com/ckcm0210/watchdog/pkg/config"
	"github.com/ckcm0210/watchdog/pkg/diffcells"
	"github.com/ckcm0210/watchdog/pkg/snapshot"
)

func testConfig(t *testing.T, watchDir string) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.WatchDirs = []string{watchDir}
	return cfg
}

func newTestMonitor(t *testing.T, watchDir string) *Monitor {
	t.Helper()

	store, err := baseline.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	log, err := audit.NewLog(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	engine := snapshot.NewEngine(snapshot.Options{})
	differ := diffcells.NewDiffer(engine, store, log, nil)
	poller := NewPoller(10*time.Millisecond, 20*time.Millisecond, func(context.Context, string) (bool, error) {
		return false, nil
	})
	t.Cleanup(poller.Stop)

	return New(testConfig(t, watchDir), differ, poller)
}

func saveWorkbook(t *testing.T, path, a1 string) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetCellValue("Sheet1", "A1", a1); err != nil {
		t.Fatal(err)
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
}

func TestMonitor_InFlightGuardAdmitsOne(t *testing.T) {
	m := newTestMonitor(t, t.TempDir())
	path := "/watch/book.xlsx"

	const burst = 50
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < burst; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.tryAcquire(path) {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Fatalf("admitted = %d, want exactly 1 while held", admitted)
	}

	// After release the next event is admitted again.
	m.release(path)
	if !m.tryAcquire(path) {
		t.Fatal("guard not released")
	}
}

func TestMonitor_AcceptsFilter(t *testing.T) {
	dir := t.TempDir()
	book := filepath.Join(dir, "book.xlsx")
	saveWorkbook(t, book, "x")

	lock := filepath.Join(dir, "~$book.xlsx")
	if err := os.WriteFile(lock, []byte{}, 0o644); err != nil {
		t.Fatal(err)
	}
	text := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(text, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "nested.xlsx")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	m := newTestMonitor(t, dir)

	cases := []struct {
		path string
		want bool
	}{
		{book, true},
		{lock, false},
		{text, false},
		{sub, false}, // a directory, even with a workbook extension
		{filepath.Join(dir, "missing.xlsx"), false},
	}
	for _, tc := range cases {
		if got := m.accepts(tc.path); got != tc.want {
			t.Fatalf("accepts(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestMonitor_EventNumberCommittedOnlyOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.xlsx")
	saveWorkbook(t, path, "hello")

	m := newTestMonitor(t, dir)
	ctx := context.Background()

	// First sight builds a baseline; no change event is committed.
	m.dispatch(ctx, path)
	if got := m.EventCount(); got != 0 {
		t.Fatalf("EventCount = %d after first sight", got)
	}

	// Unchanged re-dispatch: fast path, still no event.
	m.dispatch(ctx, path)
	if got := m.EventCount(); got != 0 {
		t.Fatalf("EventCount = %d after quiet dispatch", got)
	}

	saveWorkbook(t, path, "world")
	m.dispatch(ctx, path)
	if got := m.EventCount(); got != 1 {
		t.Fatalf("EventCount = %d after semantic change", got)
	}
}

func TestMonitor_ChangeStartsSettlingPoll(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.xlsx")
	saveWorkbook(t, path, "hello")

	m := newTestMonitor(t, dir)
	ctx := context.Background()

	m.dispatch(ctx, path)
	if m.poller.Tracked() != 0 {
		t.Fatal("poll started without a change")
	}

	saveWorkbook(t, path, "world")
	m.dispatch(ctx, path)
	if m.poller.Tracked() != 1 {
		t.Fatal("settling poll not started after change")
	}
}

func TestCollectTargets_ScanAll(t *testing.T) {
	dir := t.TempDir()
	saveWorkbook(t, filepath.Join(dir, "a.xlsx"), "1")
	sub := filepath.Join(dir, "deep")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	saveWorkbook(t, filepath.Join(sub, "b.xlsm"), "2")
	if err := os.WriteFile(filepath.Join(dir, "~$a.xlsx"), []byte{}, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "skip.txt"), []byte{}, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(t, dir)
	cfg.ScanAllMode = true

	targets, err := CollectTargets(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 2 {
		t.Fatalf("targets = %v", targets)
	}
}

func TestCollectTargets_ManualTargets(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "a.xlsx")
	saveWorkbook(t, existing, "1")

	cfg := testConfig(t, dir)
	cfg.ScanAllMode = false
	cfg.ManualTargets = []string{existing, filepath.Join(dir, "missing.xlsx")}

	targets, err := CollectTargets(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 1 || targets[0] != existing {
		t.Fatalf("targets = %v", targets)
	}
}
