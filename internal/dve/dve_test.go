package dve_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dvetransfer/internal/dve"
	"dvetransfer/internal/testsupport"
)

func TestVersionNaming(t *testing.T) {
	cases := []struct {
		name    string
		version int
		renamed string
	}{
		{"bag.zip", 0, "bag-ttv3.zip"},
		{"bag-ttv2.zip", 2, "bag-ttv3.zip"},
		{"bag-ttv12.ZIP", 12, "bag-ttv3.ZIP"},
		{"bagdir-ttv7", 7, "bagdir-ttv3"},
		{"bag-ttvx.zip", 0, "bag-ttvx-ttv3.zip"},
	}
	for _, tc := range cases {
		if got := dve.ObjectVersion(tc.name); got != tc.version {
			t.Fatalf("ObjectVersion(%q) = %d want %d", tc.name, got, tc.version)
		}
		if got := dve.VersionedName(tc.name, 3); got != tc.renamed {
			t.Fatalf("VersionedName(%q) = %q want %q", tc.name, got, tc.renamed)
		}
	}
}

func TestMoveUniqueKeepsVersionOnCollision(t *testing.T) {
	dir := t.TempDir()
	outbox := filepath.Join(dir, "failed")
	if err := os.MkdirAll(outbox, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outbox, "export-ttv2.zip"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(dir, "export-ttv2.zip")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 10, 14, 18, 42, 40, 265_000_000, time.UTC)

	target, err := dve.MoveUnique(src, outbox, "export-ttv2.zip", now)
	if err != nil {
		t.Fatalf("MoveUnique: %v", err)
	}
	name := filepath.Base(target)
	if name != "export-20261014T184240.265Z-ttv2.zip" {
		t.Fatalf("unexpected collision name %q", name)
	}
	if got := dve.ObjectVersion(name); got != 2 {
		t.Fatalf("ObjectVersion(%q) = %d want 2", name, got)
	}
}

func TestSplitVersion(t *testing.T) {
	cases := map[string][2]string{
		"bag-ttv2.zip":   {"bag", "-ttv2.zip"},
		"bagdir-ttv7":    {"bagdir", "-ttv7"},
		"bag.zip":        {"bag", ".zip"},
		"123.properties": {"123", ".properties"},
	}
	for in, want := range cases {
		stem, tail := dve.SplitVersion(in)
		if stem != want[0] || tail != want[1] {
			t.Fatalf("SplitVersion(%q) = %q,%q want %q,%q", in, stem, tail, want[0], want[1])
		}
	}
}

func TestOpenZipFindsBaseFolder(t *testing.T) {
	dir := t.TempDir()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	path := testsupport.WriteZipDVE(t, dir, "export.zip", testsupport.Bag{Base: "my-bag"}, created)

	d, err := dve.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !d.Created.Equal(created) {
		t.Fatalf("expected created %v, got %v", created, d.Created)
	}
	bag, err := d.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer bag.Close()
	if bag.Base != "my-bag" {
		t.Fatalf("unexpected base %q", bag.Base)
	}
	if _, err := bag.ReadFile(dve.ProvenancePath); err != nil {
		t.Fatalf("read provenance: %v", err)
	}

	target := filepath.Join(t.TempDir(), "out")
	n, err := bag.ExtractTo(target)
	if err != nil {
		t.Fatalf("ExtractTo: %v", err)
	}
	if n == 0 {
		t.Fatal("expected bytes extracted")
	}
	content, err := os.ReadFile(filepath.Join(target, "data", "readme.txt"))
	if err != nil || string(content) != "hello" {
		t.Fatalf("unexpected payload %q (%v)", content, err)
	}
}

func TestOpenDirectoryBag(t *testing.T) {
	dir := t.TempDir()
	path := testsupport.WriteDirDVE(t, dir, "dir-bag", testsupport.Bag{}, time.Now())
	d, err := dve.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	bag, err := d.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer bag.Close()
	if bag.Base != "dir-bag" {
		t.Fatalf("expected directory name as base, got %q", bag.Base)
	}
	if _, err := bag.ReadFile("manifest-sha1.txt"); err != nil {
		t.Fatalf("read manifest: %v", err)
	}
}

func TestStatRejectsOtherFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := dve.Stat(path); err == nil {
		t.Fatal("expected error for non-zip file")
	}
}

func TestOpenZipWithoutBag(t *testing.T) {
	dir := t.TempDir()
	path := testsupport.WriteZipDVE(t, dir, "loose.zip", testsupport.Bag{Base: "a", OmitProvenance: true}, time.Now())
	// A single top-level folder is still accepted as the bag.
	d, err := dve.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	bag, err := d.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer bag.Close()
	if _, err := bag.ReadFile(dve.ProvenancePath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected missing provenance, got %v", err)
	}
}
