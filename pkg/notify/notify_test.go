package notify

import (
	"strings"
	"testing"

	"github.com/ckcm0210/watchdog/pkg/diffcells"
)

func TestSummary(t *testing.T) {
	changes := []diffcells.Change{
		{Worksheet: "Sheet1", Coordinate: "A1", OldValue: "hello", NewValue: "world"},
		{Worksheet: "Sheet1", Coordinate: "B2", NewFormula: "=SUM(A1:A3)"},
	}

	got := summary("/watch/A.xlsx", "alice", changes)
	for _, want := range []string{
		"/watch/A.xlsx", "2 cell change(s)", "by alice",
		"Sheet1!A1: hello → world",
		"Sheet1!B2: (empty) → =SUM(A1:A3)",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("summary = %q, missing %q", got, want)
		}
	}
}

func TestSummary_CapsDetailLines(t *testing.T) {
	changes := make([]diffcells.Change, maxDetailLines+5)
	for i := range changes {
		changes[i] = diffcells.Change{Worksheet: "S", Coordinate: "A1", NewValue: "x"}
	}

	got := summary("/watch/A.xlsx", "", changes)
	if !strings.Contains(got, "… and 5 more") {
		t.Fatalf("summary = %q, want truncation marker", got)
	}
	if lines := strings.Count(got, "\n"); lines != maxDetailLines+1 {
		t.Fatalf("detail lines = %d", lines)
	}
}

func TestNewSlack_Unconfigured(t *testing.T) {
	if NewSlack("", "") != nil {
		t.Fatal("unconfigured Slack notifier should be nil")
	}
	if NewSlack("token", "") != nil {
		t.Fatal("missing channel should disable the notifier")
	}
}
