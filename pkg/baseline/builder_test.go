package baseline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/ckcm0210/watchdog/pkg/snapshot"
)

func writeWorkbook(t *testing.T, dir, name, a1 string) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetCellValue("Sheet1", "A1", a1); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestBuilder(t *testing.T, opts BuilderOptions) (*Builder, *Store) {
	t.Helper()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	engine := snapshot.NewEngine(snapshot.Options{})
	return NewBuilder(engine, store, opts), store
}

func TestBuilder_BuildThenSkip(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeWorkbook(t, dir, "a.xlsx", "1"),
		writeWorkbook(t, dir, "b.xlsx", "2"),
		writeWorkbook(t, dir, "c.xlsx", "3"),
	}

	builder, store := newTestBuilder(t, BuilderOptions{})

	totals, err := builder.Run(context.Background(), paths)
	if err != nil {
		t.Fatal(err)
	}
	if totals.OK != 3 || totals.Skip != 0 || totals.Errors != 0 {
		t.Fatalf("first run totals = %+v", totals)
	}

	for _, p := range paths {
		b, err := store.Load(KeyFor(p))
		if err != nil || b == nil {
			t.Fatalf("baseline for %s: %v, %v", p, b, err)
		}
	}

	// Unchanged tree: the fingerprint fast path skips every file.
	totals, err = builder.Run(context.Background(), paths)
	if err != nil {
		t.Fatal(err)
	}
	if totals.OK != 0 || totals.Skip != 3 {
		t.Fatalf("second run totals = %+v", totals)
	}
}

func TestBuilder_ForcePatterns(t *testing.T) {
	dir := t.TempDir()
	forced := writeWorkbook(t, dir, "force_me.xlsx", "1")
	normal := writeWorkbook(t, dir, "normal.xlsx", "2")

	builder, _ := newTestBuilder(t, BuilderOptions{ForcePatterns: []string{"force_me"}})

	if _, err := builder.Run(context.Background(), []string{forced, normal}); err != nil {
		t.Fatal(err)
	}

	totals, err := builder.Run(context.Background(), []string{forced, normal})
	if err != nil {
		t.Fatal(err)
	}
	if totals.OK != 1 || totals.Skip != 1 {
		t.Fatalf("totals = %+v, want forced rebuild plus one skip", totals)
	}
}

func TestBuilder_ReadError(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.xlsx")
	if err := os.WriteFile(broken, []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}

	builder, _ := newTestBuilder(t, BuilderOptions{})
	totals, err := builder.Run(context.Background(), []string{broken})
	if err != nil {
		t.Fatal(err)
	}
	if totals.Errors != 1 {
		t.Fatalf("totals = %+v, want one error", totals)
	}
}

func TestBuilder_ResumeSkipsCompleted(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		filepath.Join(dir, "gone1.xlsx"), // never written to disk
		filepath.Join(dir, "gone2.xlsx"),
		writeWorkbook(t, dir, "c.xlsx", "3"),
	}

	resumeLog := filepath.Join(t.TempDir(), "resume.json")
	if err := WriteProgress(resumeLog, 2, 3); err != nil {
		t.Fatal(err)
	}

	prompted := false
	builder, _ := newTestBuilder(t, BuilderOptions{
		EnableResume: true,
		ResumeLog:    resumeLog,
		PromptResume: func(p Progress) bool {
			prompted = true
			if p.Completed != 2 || p.Total != 3 {
				t.Fatalf("prompt progress = %+v", p)
			}
			return true
		},
	})

	totals, err := builder.Run(context.Background(), paths)
	if err != nil {
		t.Fatal(err)
	}
	if !prompted {
		t.Fatal("resume prompt not offered")
	}
	// Files before the resume index do not exist; zero errors proves
	// they were never re-snapshotted.
	if totals.OK != 1 || totals.Errors != 0 {
		t.Fatalf("totals = %+v", totals)
	}

	// Clean completion removes the progress record.
	if _, err := os.Stat(resumeLog); !os.IsNotExist(err) {
		t.Fatalf("progress record still present: %v", err)
	}
}

func TestBuilder_ResumeDeclined(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeWorkbook(t, dir, "a.xlsx", "1"),
		writeWorkbook(t, dir, "b.xlsx", "2"),
	}

	resumeLog := filepath.Join(t.TempDir(), "resume.json")
	if err := WriteProgress(resumeLog, 1, 2); err != nil {
		t.Fatal(err)
	}

	builder, _ := newTestBuilder(t, BuilderOptions{
		EnableResume: true,
		ResumeLog:    resumeLog,
		PromptResume: func(Progress) bool { return false },
	})

	totals, err := builder.Run(context.Background(), paths)
	if err != nil {
		t.Fatal(err)
	}
	if totals.OK != 2 {
		t.Fatalf("totals = %+v, want full rebuild after declined resume", totals)
	}
}

func TestBuilder_CooperativeStopPersistsProgress(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeWorkbook(t, dir, "a.xlsx", "1"),
		writeWorkbook(t, dir, "b.xlsx", "2"),
	}

	resumeLog := filepath.Join(t.TempDir(), "resume.json")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	builder, _ := newTestBuilder(t, BuilderOptions{
		EnableResume: true,
		ResumeLog:    resumeLog,
	})

	if _, err := builder.Run(ctx, paths); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProgress(resumeLog)
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.Total != 2 {
		t.Fatalf("progress = %+v, want persisted record", p)
	}
}

func TestBuilder_Parallel(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a.xlsx", "b.xlsx", "c.xlsx", "d.xlsx"} {
		paths = append(paths, writeWorkbook(t, dir, name, name))
	}

	builder, store := newTestBuilder(t, BuilderOptions{Parallel: true})
	totals, err := builder.Run(context.Background(), paths)
	if err != nil {
		t.Fatal(err)
	}
	if totals.OK != 4 {
		t.Fatalf("totals = %+v", totals)
	}
	for _, p := range paths {
		if b, err := store.Load(KeyFor(p)); err != nil || b == nil {
			t.Fatalf("baseline missing for %s", p)
		}
	}
}
