package main

import (
	"strings"
	"testing"
)

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"Stage", "Failed"}, [][]string{{"batching", "2"}, {"ordering"}}, []columnAlignment{alignLeft, alignRight})
	// Headers use the table style's default upper-case format.
	for _, want := range []string{"STAGE", "FAILED", "batching", "ordering"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in table:\n%s", want, out)
		}
	}
	if got := strings.Count(out, "\n") + 1; got != 6 {
		t.Fatalf("expected 6 table lines, got %d:\n%s", got, out)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected empty output without headers")
	}
}
