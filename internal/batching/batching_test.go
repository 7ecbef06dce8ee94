package batching_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"dvetransfer/internal/batching"
	"dvetransfer/internal/config"
	"dvetransfer/internal/logging"
	"dvetransfer/internal/stage"
	"dvetransfer/internal/testsupport"
)

const datasetDir = "urn_nbn_nl_ui_13-test-0001"

type archiveStub struct {
	mu        sync.Mutex
	calls     []string
	imported  []string
	topLayer  int64
	importErr error
}

func (a *archiveStub) Import(_ context.Context, batchPath string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "import")
	if a.importErr != nil {
		return a.importErr
	}
	a.imported = append(a.imported, batchPath)
	return nil
}

func (a *archiveStub) CreateLayer(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "layer")
	return nil
}

func (a *archiveStub) TopLayerSize(context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, "top")
	return a.topLayer, nil
}

func (a *archiveStub) snapshot() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

type observerStub struct {
	flushed []error
	layers  int
}

func (o *observerStub) BatchFlushed(_ int, _ int64, err error) { o.flushed = append(o.flushed, err) }
func (o *observerStub) LayerCreated()                          { o.layers++ }

func newAssembler(t *testing.T, cfg *config.Config, svc *archiveStub, observer batching.Observer) *batching.Assembler {
	t.Helper()
	a, err := batching.New(cfg, svc, observer, logging.NewNop(), stage.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func bagSize(bag testsupport.Bag) int64 {
	var total int64
	for _, content := range bag.Contents() {
		total += int64(len(content))
	}
	return total
}

func writeVersions(t *testing.T, dir string, versions ...string) {
	t.Helper()
	created := time.Now().Add(-time.Hour)
	for i, name := range versions {
		testsupport.WriteZipDVE(t, dir, name, testsupport.Bag{}, created.Add(time.Duration(i)*time.Minute))
	}
}

func TestFlushesWhenItemLimitReached(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBatchLimits(3, 0, 1<<40))
	svc := &archiveStub{}
	a := newAssembler(t, cfg, svc, nil)
	writeVersions(t, cfg.Batch.Inbox, "export-ttv1.zip", "export-ttv2.zip", "export-ttv3.zip")

	a.PollOnce(context.Background())

	if len(svc.imported) != 1 {
		t.Fatalf("expected one import, got calls %v", svc.snapshot())
	}
	batchPath := svc.imported[0]
	if filepath.Dir(batchPath) != cfg.Archive.BatchRoot {
		t.Fatalf("batch submitted outside batch root: %s", batchPath)
	}
	for _, v := range []string{"v1", "v2", "v3"} {
		if !testsupport.Exists(filepath.Join(batchPath, datasetDir, v, "metadata", "oai-ore.jsonld")) {
			t.Fatalf("expected %s content in submitted batch", v)
		}
	}
	for _, name := range []string{"export-ttv1.zip", "export-ttv2.zip", "export-ttv3.zip"} {
		if !testsupport.Exists(filepath.Join(cfg.Batch.Processed, name)) {
			t.Fatalf("expected %s in processed outbox", name)
		}
	}
	if status := a.BatchStatus(); status.Items != 0 || status.Bytes != 0 || status.Batch != "" {
		t.Fatalf("expected empty batch after flush, got %+v", status)
	}
}

func TestFlushesWhenByteLimitReached(t *testing.T) {
	size := bagSize(testsupport.Bag{})
	cfg := testsupport.NewConfig(t, testsupport.WithBatchLimits(0, 2*size, 1<<40))
	svc := &archiveStub{}
	a := newAssembler(t, cfg, svc, nil)
	writeVersions(t, cfg.Batch.Inbox, "export-ttv1.zip")

	a.PollOnce(context.Background())
	if len(svc.imported) != 0 {
		t.Fatalf("one DVE must not reach the byte limit, got calls %v", svc.snapshot())
	}
	if status := a.BatchStatus(); status.Items != 1 || status.Bytes != size {
		t.Fatalf("unexpected batch status %+v (size %d)", status, size)
	}

	writeVersions(t, cfg.Batch.Inbox, "export-ttv2.zip")
	a.PollOnce(context.Background())
	if len(svc.imported) != 1 {
		t.Fatalf("expected import at byte limit, got calls %v", svc.snapshot())
	}
}

func TestCreatesLayerBeforeThresholdOverflow(t *testing.T) {
	size := bagSize(testsupport.Bag{})
	cfg := testsupport.NewConfig(t, testsupport.WithBatchLimits(1, 0, size+size/2))
	svc := &archiveStub{}
	observer := &observerStub{}
	a := newAssembler(t, cfg, svc, observer)
	writeVersions(t, cfg.Batch.Inbox, "export-ttv1.zip", "export-ttv2.zip")

	a.PollOnce(context.Background())

	want := []string{"top", "import", "layer", "import"}
	if got := svc.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected archive calls %v, want %v", got, want)
	}
	if observer.layers != 1 || len(observer.flushed) != 2 {
		t.Fatalf("unexpected observer events: layers=%d flushes=%d", observer.layers, len(observer.flushed))
	}
	if status := a.BatchStatus(); status.TopLayerBytes != size {
		t.Fatalf("expected top layer %d after rollover, got %d", size, status.TopLayerBytes)
	}
}

func TestOversizedBatchFillsEmptyTopLayer(t *testing.T) {
	size := bagSize(testsupport.Bag{})
	cfg := testsupport.NewConfig(t, testsupport.WithBatchLimits(1, 0, size/2))
	svc := &archiveStub{}
	observer := &observerStub{}
	a := newAssembler(t, cfg, svc, observer)
	writeVersions(t, cfg.Batch.Inbox, "export-ttv1.zip")

	a.PollOnce(context.Background())

	want := []string{"top", "import"}
	if got := svc.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected archive calls %v, want %v", got, want)
	}
	if observer.layers != 0 {
		t.Fatalf("expected no new layer, got %d", observer.layers)
	}
}

func TestImportFailureFailsHeldDVEs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBatchLimits(2, 0, 1<<40))
	svc := &archiveStub{importErr: errors.New("archive down")}
	observer := &observerStub{}
	a := newAssembler(t, cfg, svc, observer)
	writeVersions(t, cfg.Batch.Inbox, "export-ttv1.zip", "export-ttv2.zip")

	a.PollOnce(context.Background())

	for _, name := range []string{"export-ttv1.zip", "export-ttv2.zip"} {
		failed := filepath.Join(cfg.Batch.Failed, name)
		if !testsupport.Exists(failed) {
			t.Fatalf("expected %s in failed outbox", name)
		}
		if !testsupport.Exists(failed + ".error.json") {
			t.Fatalf("expected error sidecar for %s", name)
		}
	}
	entries, err := os.ReadDir(cfg.Archive.BatchRoot)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("read batch root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("failed batch must be removed from the batch root, found %d entries", len(entries))
	}
	batches, err := os.ReadDir(filepath.Join(cfg.Batch.WorkDir, "batches"))
	if err != nil {
		t.Fatalf("read work batches: %v", err)
	}
	if len(batches) != 0 {
		t.Fatalf("failed batch must be removed from the work directory, found %d entries", len(batches))
	}
	if len(observer.flushed) != 1 || observer.flushed[0] == nil {
		t.Fatalf("expected one failed flush event, got %v", observer.flushed)
	}

	// The layer size is re-read after a failure.
	svc.mu.Lock()
	svc.importErr = nil
	svc.mu.Unlock()
	writeVersions(t, cfg.Batch.Inbox, "again-ttv1.zip", "again-ttv2.zip")
	a.PollOnce(context.Background())
	want := []string{"top", "import", "top", "import"}
	if got := svc.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected archive calls %v, want %v", got, want)
	}
}

func TestArrivalFailureAffectsOnlyThatDVE(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBatchLimits(5, 0, 1<<40))
	svc := &archiveStub{}
	a := newAssembler(t, cfg, svc, nil)
	writeVersions(t, cfg.Batch.Inbox, "unversioned.zip", "export-ttv1.zip")

	a.PollOnce(context.Background())

	if !testsupport.Exists(filepath.Join(cfg.Batch.Failed, "unversioned.zip")) {
		t.Fatal("expected DVE without version in failed outbox")
	}
	if status := a.BatchStatus(); status.Items != 1 {
		t.Fatalf("expected remaining DVE in batch, got %+v", status)
	}
	if len(svc.snapshot()) != 0 {
		t.Fatalf("no archive calls expected, got %v", svc.snapshot())
	}
}

func TestDuplicateVersionInBatchFails(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBatchLimits(5, 0, 1<<40))
	a := newAssembler(t, cfg, &archiveStub{}, nil)
	writeVersions(t, cfg.Batch.Inbox, "first-ttv1.zip", "second-ttv1.zip")

	a.PollOnce(context.Background())

	if !testsupport.Exists(filepath.Join(cfg.Batch.Failed, "second-ttv1.zip")) {
		t.Fatal("expected duplicate version in failed outbox")
	}
	if status := a.BatchStatus(); status.Items != 1 {
		t.Fatalf("expected one item in batch, got %+v", status)
	}
}

func TestRequestFlush(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBatchLimits(10, 0, 1<<40))
	svc := &archiveStub{}
	a := newAssembler(t, cfg, svc, nil)

	if !a.RequestFlush() {
		t.Fatal("first request should be queued")
	}
	if a.RequestFlush() {
		t.Fatal("second request should coalesce")
	}
	a.PollOnce(context.Background())
	if len(svc.snapshot()) != 0 {
		t.Fatalf("flushing an empty batch must not call the archive, got %v", svc.snapshot())
	}
	if a.BatchStatus().FlushPending {
		t.Fatal("flush request should be consumed")
	}

	writeVersions(t, cfg.Batch.Inbox, "export-ttv1.zip")
	a.PollOnce(context.Background())
	a.RequestFlush()
	a.PollOnce(context.Background())
	if len(svc.imported) != 1 {
		t.Fatalf("expected requested flush to import, got calls %v", svc.snapshot())
	}
}

func TestRestoresBatchOnRestart(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBatchLimits(10, 0, 1<<40))
	svc := &archiveStub{}
	first := newAssembler(t, cfg, svc, nil)
	writeVersions(t, cfg.Batch.Inbox, "export-ttv1.zip", "export-ttv2.zip")
	first.PollOnce(context.Background())
	before := first.BatchStatus()

	second := newAssembler(t, cfg, svc, nil)
	after := second.BatchStatus()
	if after.Batch != before.Batch || after.Items != 2 || after.Bytes != before.Bytes {
		t.Fatalf("batch not restored: before %+v after %+v", before, after)
	}

	second.RequestFlush()
	second.PollOnce(context.Background())
	if len(svc.imported) != 1 {
		t.Fatalf("expected restored batch to import, got calls %v", svc.snapshot())
	}
	for _, name := range []string{"export-ttv1.zip", "export-ttv2.zip"} {
		if !testsupport.Exists(filepath.Join(cfg.Batch.Processed, name)) {
			t.Fatalf("expected %s in processed outbox", name)
		}
	}
}

func TestRestartFailsDVEsOfInterruptedFlush(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBatchLimits(10, 0, 1<<40))
	held := filepath.Join(cfg.Batch.WorkDir, "held", "batch-20260101T000000-interrupted")
	testsupport.WriteZipDVE(t, held, "export-ttv1.zip", testsupport.Bag{}, time.Now())

	a := newAssembler(t, cfg, &archiveStub{}, nil)

	failed := filepath.Join(cfg.Batch.Failed, "export-ttv1.zip")
	if !testsupport.Exists(failed) || !testsupport.Exists(failed+".error.json") {
		t.Fatal("expected interrupted DVE in failed outbox with sidecar")
	}
	if testsupport.Exists(held) {
		t.Fatal("expected held directory to be removed")
	}
	if status := a.BatchStatus(); status.Items != 0 {
		t.Fatalf("expected empty batch, got %+v", status)
	}
}

func TestHealthCheck(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.MkdirAll(cfg.Archive.BatchRoot, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	a := newAssembler(t, cfg, &archiveStub{}, nil)
	if health := a.HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("expected healthy stage, got %+v", health)
	}
}
