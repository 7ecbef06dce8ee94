package stage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dvetransfer/internal/inbox"
)

func TestCheckDirectoriesHealthy(t *testing.T) {
	dir := t.TempDir()
	health := CheckDirectories("extraction", dir, "")
	if !health.Ready || health.Name != "extraction" {
		t.Fatalf("expected healthy, got %+v", health)
	}
}

func TestCheckDirectoriesReportsEveryProblem(t *testing.T) {
	base := t.TempDir()
	file := filepath.Join(base, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	health := CheckDirectories("ordering", filepath.Join(base, "missing"), file)
	if health.Ready {
		t.Fatal("expected unhealthy")
	}
	if !strings.Contains(health.Detail, "does not exist") || !strings.Contains(health.Detail, "is not a directory") {
		t.Fatalf("detail should list both problems: %q", health.Detail)
	}
}

func TestOptionsApply(t *testing.T) {
	gate := make(chan struct{})
	var cfg inbox.Config
	Options{StartGate: gate}.Apply(&cfg)
	if cfg.StartGate == nil {
		t.Fatal("start gate not applied")
	}
}
