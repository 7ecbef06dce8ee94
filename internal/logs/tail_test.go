package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dvetransfer/internal/logs"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := logs.Path(t.TempDir())
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func appendLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("append log: %v", err)
	}
}

func TestLastLines(t *testing.T) {
	path := writeLog(t, "a\nb\nc\n")

	lines, offset, err := logs.Last(path, 2)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(lines) != 2 || lines[0] != "b" || lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", lines)
	}
	if offset != 6 {
		t.Fatalf("expected offset 6, got %d", offset)
	}

	lines, _, err = logs.Last(path, 10)
	if err != nil || len(lines) != 3 {
		t.Fatalf("expected all 3 lines, got %#v (%v)", lines, err)
	}

	lines, offset, err = logs.Last(path, 0)
	if err != nil || len(lines) != 0 || offset != 6 {
		t.Fatalf("expected end offset only, got %#v %d (%v)", lines, offset, err)
	}
}

func TestLastMissingFile(t *testing.T) {
	lines, offset, err := logs.Last(filepath.Join(t.TempDir(), "absent.log"), 5)
	if err != nil || lines != nil || offset != 0 {
		t.Fatalf("expected empty result, got %#v %d %v", lines, offset, err)
	}
}

func TestFromKeepsPartialLine(t *testing.T) {
	path := writeLog(t, "one\ntw")
	lines, offset, err := logs.From(path, 0)
	if err != nil {
		t.Fatalf("From: %v", err)
	}
	if len(lines) != 1 || lines[0] != "one" || offset != 4 {
		t.Fatalf("unexpected result: %#v %d", lines, offset)
	}

	appendLog(t, path, "o\n")
	lines, offset, err = logs.From(path, offset)
	if err != nil {
		t.Fatalf("From: %v", err)
	}
	if len(lines) != 1 || lines[0] != "two" || offset != 8 {
		t.Fatalf("unexpected continuation: %#v %d", lines, offset)
	}
}

func TestFromRestartsAfterTruncation(t *testing.T) {
	path := writeLog(t, "old line\n")
	if err := os.WriteFile(path, []byte("new\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	lines, _, err := logs.From(path, 9)
	if err != nil {
		t.Fatalf("From: %v", err)
	}
	if len(lines) != 1 || lines[0] != "new" {
		t.Fatalf("expected rotated content, got %#v", lines)
	}
}

func TestFollowEmitsAppendedLines(t *testing.T) {
	path := writeLog(t, "start\n")
	_, offset, err := logs.Last(path, 1)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var mu sync.Mutex
	var got []string
	done := make(chan error, 1)
	go func() {
		done <- logs.Follow(ctx, path, offset, 10*time.Millisecond, func(line string) {
			mu.Lock()
			got = append(got, line)
			mu.Unlock()
		})
	}()

	appendLog(t, path, "later\n")
	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("follow did not emit the appended line")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Follow: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if got[0] != "later" {
		t.Fatalf("unexpected lines: %#v", got)
	}
}

func TestMatchStage(t *testing.T) {
	cases := []struct {
		line  string
		stage string
		want  bool
	}{
		{line: "2026-01-01T00:00:00Z INFO item processed stage=batching item=a.zip", stage: "batching", want: true},
		{line: `{"msg":"item processed","stage":"ordering"}`, stage: "ordering", want: true},
		{line: "2026-01-01T00:00:00Z INFO item processed stage=ordering", stage: "batching", want: false},
		{line: "anything", stage: "", want: true},
	}
	for _, tc := range cases {
		if got := logs.MatchStage(tc.line, tc.stage); got != tc.want {
			t.Fatalf("MatchStage(%q, %q) = %v, want %v", tc.line, tc.stage, got, tc.want)
		}
	}
}
