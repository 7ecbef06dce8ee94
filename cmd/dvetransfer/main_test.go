package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dvetransfer/internal/catalog"
	"dvetransfer/internal/inbox"
	"dvetransfer/internal/logs"
	"dvetransfer/internal/metadata"
	"dvetransfer/internal/testsupport"
)

func TestStatusAgainstRunningDaemon(t *testing.T) {
	env := setupCLITestEnv(t, true)
	waitFor(t, 5*time.Second, func() bool {
		for _, st := range env.daemon.Status().Stages {
			if st.Cycles == 0 {
				return false
			}
		}
		return true
	})

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Running (pid")
	for _, name := range []string{"registration", "batching", "ordering", "extraction"} {
		requireContains(t, out, name)
	}
	requireContains(t, out, "No open batch")

	out, _, err = runCLI(t, []string{"status", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var snap statusSnapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("decode status json: %v\n%s", err, out)
	}
	if !snap.Status.Running || len(snap.Status.Stages) != 4 {
		t.Fatalf("unexpected status: %+v", snap.Status)
	}
}

func TestFlushAgainstRunningDaemon(t *testing.T) {
	env := setupCLITestEnv(t, true)
	out, _, err := runCLI(t, []string{"flush"}, env.configPath)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	requireContains(t, out, "flush")
}

func TestStatusDaemonNotRunning(t *testing.T) {
	env := setupCLITestEnv(t, false)
	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "not running")

	if _, _, err := runCLI(t, []string{"flush"}, env.configPath); err == nil || !strings.Contains(err.Error(), "not running") {
		t.Fatalf("expected not running error from flush, got %v", err)
	}
}

func TestReplayMovesFailedItemsBack(t *testing.T) {
	env := setupCLITestEnv(t, false)
	failed := filepath.Join(env.cfg.Batch.Failed, "export-ttv1.zip")
	if err := os.WriteFile(failed, []byte("zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := inbox.WriteErrorSidecar(failed, inbox.NewErrorSidecar("batching", "export-ttv1.zip", errors.New("import failed"), time.Now())); err != nil {
		t.Fatal(err)
	}
	orderFailed := filepath.Join(env.cfg.Order.Failed, "other-ttv1.zip")
	if err := os.WriteFile(orderFailed, []byte("zip"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"replay", "batching"}, env.configPath)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	requireContains(t, out, "Replayed 1 item(s)")
	if !testsupport.Exists(filepath.Join(env.cfg.Batch.Inbox, "export-ttv1.zip")) {
		t.Fatal("expected item back in the batch inbox")
	}
	if testsupport.Exists(failed + ".error.json") {
		t.Fatal("expected error sidecar to be removed")
	}
	if !testsupport.Exists(orderFailed) {
		t.Fatal("replay of one stage must not touch other stages")
	}

	out, _, err = runCLI(t, []string{"replay"}, env.configPath)
	if err != nil {
		t.Fatalf("replay all: %v", err)
	}
	requireContains(t, out, "other-ttv1.zip")

	out, _, err = runCLI(t, []string{"replay"}, env.configPath)
	if err != nil {
		t.Fatalf("replay empty: %v", err)
	}
	requireContains(t, out, "Nothing to replay")

	if _, _, err := runCLI(t, []string{"replay", "archive"}, env.configPath); err == nil {
		t.Fatal("expected unknown stage to be rejected")
	}
}

func TestExtractPrintsRecord(t *testing.T) {
	path := testsupport.WriteZipDVE(t, t.TempDir(), "export-ttv1.zip", testsupport.Bag{}, time.Now())

	out, _, err := runCLI(t, []string{"extract", path}, "")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	var rec metadata.Record
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("decode record: %v\n%s", err, out)
	}
	if rec.NBN != "urn:nbn:nl:ui:13-test-0001" || rec.ObjectVersion != 1 {
		t.Fatalf("unexpected record: nbn=%q version=%d", rec.NBN, rec.ObjectVersion)
	}

	out, _, err = runCLI(t, []string{"extract", "--summary", path}, "")
	if err != nil {
		t.Fatalf("extract --summary: %v", err)
	}
	requireContains(t, out, "Bag id")
	requireContains(t, out, "urn:nbn:nl:ui:13-test-0001")

	broken := testsupport.WriteZipDVE(t, t.TempDir(), "broken.zip", testsupport.Bag{OmitProvenance: true}, time.Now())
	if _, _, err := runCLI(t, []string{"extract", broken}, ""); err == nil {
		t.Fatal("expected extract to fail without a provenance document")
	}
}

func TestCatalogListAndShow(t *testing.T) {
	env := setupCLITestEnv(t, false)
	store, err := catalog.OpenStore(env.cfg.CatalogDatabasePath())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	err = store.CreateDataset(context.Background(), catalog.Dataset{
		NBN:         "urn:nbn:nl:ui:13-cli",
		Datastation: "archaeology",
		DatasetPID:  "doi:10.5072/CLI",
		Versions: []catalog.VersionExport{
			{ObjectVersion: 1, BagID: "urn:uuid:bag-1", DatasetVersion: "1.0"},
			{ObjectVersion: 2, BagID: "urn:uuid:bag-2", DatasetVersion: "2.0"},
		},
	})
	if cerr := store.Close(); cerr != nil {
		t.Fatalf("close store: %v", cerr)
	}
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}

	out, _, err := runCLI(t, []string{"catalog", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("catalog list: %v", err)
	}
	requireContains(t, out, "urn:nbn:nl:ui:13-cli")

	out, _, err = runCLI(t, []string{"catalog", "show", "urn:nbn:nl:ui:13-cli"}, env.configPath)
	if err != nil {
		t.Fatalf("catalog show: %v", err)
	}
	requireContains(t, out, "archaeology")
	requireContains(t, out, "urn:uuid:bag-2")

	out, _, err = runCLI(t, []string{"catalog", "show", "--json", "urn:nbn:nl:ui:13-cli"}, env.configPath)
	if err != nil {
		t.Fatalf("catalog show --json: %v", err)
	}
	var ds catalog.Dataset
	if err := json.Unmarshal([]byte(out), &ds); err != nil {
		t.Fatalf("decode dataset: %v", err)
	}
	if len(ds.Versions) != 2 {
		t.Fatalf("expected 2 versions, got %+v", ds.Versions)
	}

	if _, _, err := runCLI(t, []string{"catalog", "show", "urn:nbn:missing"}, env.configPath); err == nil || !strings.Contains(err.Error(), "not in the catalog") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestCheckReportsUnreachableServices(t *testing.T) {
	env := setupCLITestEnv(t, false)
	out, _, err := runCLI(t, []string{"check"}, env.configPath)
	if err == nil {
		t.Fatal("expected failing checks to return an error")
	}
	requireContains(t, out, "Archive")
	requireContains(t, out, "[ERROR]")
}

func TestLogsFiltersByStage(t *testing.T) {
	env := setupCLITestEnv(t, false)
	content := "2026-01-01T00:00:00Z INFO item processed stage=batching item=a.zip\n" +
		"2026-01-01T00:00:01Z INFO item processed stage=ordering item=b.zip\n"
	if err := os.WriteFile(logs.Path(env.cfg.Paths.LogDir), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"logs", "--stage", "ordering"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "b.zip")
	if strings.Contains(out, "a.zip") {
		t.Fatalf("expected batching line to be filtered out, got %q", out)
	}

	out, _, err = runCLI(t, []string{"logs", "-n", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("logs -n 1: %v", err)
	}
	if strings.Count(strings.TrimSpace(out), "\n") != 0 || !strings.Contains(out, "b.zip") {
		t.Fatalf("expected only the last line, got %q", out)
	}
}
