package catalog_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dvetransfer/internal/catalog"
	"dvetransfer/internal/logging"
	"dvetransfer/internal/metadata"
	"dvetransfer/internal/services"
)

func record(nbn, pid, bagID string) *metadata.Record {
	return &metadata.Record{
		DVEName:    bagID + ".zip",
		Created:    time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		BagID:      bagID,
		NBN:        nbn,
		DatasetPID: pid,
		Title:      "Title of " + bagID,
		Exporter:   "Dataverse",
		BagBase:    "bag",
		Files: []metadata.FileMeta{
			{Path: "bag/data/readme.txt", Size: 5, SHA1: "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"},
		},
		Provenance: []byte(`{"@id":"` + bagID + `"}`),
	}
}

func TestRegisterVersionLineage(t *testing.T) {
	store := openStore(t)
	rec := catalog.NewReconciler(store, logging.NewNop())
	ctx := context.Background()

	v, err := rec.RegisterVersion(ctx, "ssh", record("urn:nbn:x", "doi:X", "bag-1"))
	if err != nil || v != 1 {
		t.Fatalf("new dataset: got version %d err %v, want 1", v, err)
	}
	v, err = rec.RegisterVersion(ctx, "ssh", record("urn:nbn:x", "doi:X", "bag-2"))
	if err != nil || v != 2 {
		t.Fatalf("second version: got %d err %v, want 2", v, err)
	}

	// A dataset whose only export is a skeleton at version 1.
	skel := export(1, "placeholder", true)
	if err := store.CreateDataset(ctx, catalog.Dataset{NBN: "urn:nbn:y", DatasetPID: "doi:Y", Versions: []catalog.VersionExport{skel}}); err != nil {
		t.Fatalf("seed skeleton: %v", err)
	}
	v, err = rec.RegisterVersion(ctx, "ssh", record("urn:nbn:y", "doi:Y", "bag-y1"))
	if err != nil || v != 1 {
		t.Fatalf("skeleton completion: got %d err %v, want 1", v, err)
	}
	ds, err := store.GetDataset(ctx, "urn:nbn:y")
	if err != nil {
		t.Fatalf("GetDataset: %v", err)
	}
	if len(ds.Versions) != 1 || ds.Versions[0].Skeleton || ds.Versions[0].BagID != "bag-y1" {
		t.Fatalf("skeleton not completed: %+v", ds.Versions)
	}
	if ds.Versions[0].Files[0].Path != "data/readme.txt" {
		t.Fatalf("bag base not stripped: %q", ds.Versions[0].Files[0].Path)
	}

	v, err = rec.RegisterVersion(ctx, "ssh", record("urn:nbn:y", "doi:Y", "bag-y2"))
	if err != nil || v != 2 {
		t.Fatalf("append after completion: got %d err %v, want 2", v, err)
	}
}

func TestRegisterVersionKnownVersionIsIdempotent(t *testing.T) {
	store := openStore(t)
	rec := catalog.NewReconciler(store, logging.NewNop())
	ctx := context.Background()

	r := record("urn:nbn:k", "doi:K", "bag-k")
	r.ObjectVersion = 4
	for i := 0; i < 2; i++ {
		v, err := rec.RegisterVersion(ctx, "ssh", r)
		if err != nil || v != 4 {
			t.Fatalf("call %d: got %d err %v, want 4", i, v, err)
		}
	}
	if _, err := store.GetDataset(ctx, "urn:nbn:k"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("known version must not touch the catalog, got %v", err)
	}
}

func TestRegisterVersionReplaysSameBag(t *testing.T) {
	store := openStore(t)
	rec := catalog.NewReconciler(store, logging.NewNop())
	ctx := context.Background()

	for _, bag := range []string{"bag-1", "bag-2", "bag-1"} {
		if _, err := rec.RegisterVersion(ctx, "ssh", record("urn:nbn:r", "doi:R", bag)); err != nil {
			t.Fatalf("RegisterVersion(%s): %v", bag, err)
		}
	}
	v, err := rec.RegisterVersion(ctx, "ssh", record("urn:nbn:r", "doi:R", "bag-1"))
	if err != nil || v != 1 {
		t.Fatalf("replay: got %d err %v, want 1", v, err)
	}
	ds, _ := store.GetDataset(ctx, "urn:nbn:r")
	if len(ds.Versions) != 2 {
		t.Fatalf("replay created exports: %d", len(ds.Versions))
	}
}

func TestRegisterVersionPIDMismatch(t *testing.T) {
	store := openStore(t)
	rec := catalog.NewReconciler(store, logging.NewNop())
	ctx := context.Background()

	if _, err := rec.RegisterVersion(ctx, "ssh", record("urn:nbn:p", "doi:P", "bag-1")); err != nil {
		t.Fatalf("RegisterVersion: %v", err)
	}
	_, err := rec.RegisterVersion(ctx, "ssh", record("urn:nbn:p", "doi:OTHER", "bag-2"))
	var consistency *catalog.ConsistencyError
	if !errors.As(err, &consistency) {
		t.Fatalf("expected ConsistencyError, got %v", err)
	}
	if consistency.NBN != "urn:nbn:p" || consistency.BagID != "bag-2" {
		t.Fatalf("consistency error lacks identifiers: %+v", consistency)
	}
	if services.Classify(err) != services.KindConsistency {
		t.Fatalf("expected consistency kind, got %s", services.Classify(err))
	}
}

// serviceStub serves a fixed dataset and records writes.
type serviceStub struct {
	mu       sync.Mutex
	dataset  *catalog.Dataset
	getErr   error
	setErr   error
	setCalls []catalog.VersionExport
}

func (s *serviceStub) GetDataset(context.Context, string) (*catalog.Dataset, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.dataset, nil
}

func (s *serviceStub) CreateDataset(context.Context, catalog.Dataset) error { return nil }

func (s *serviceStub) SetVersionExport(_ context.Context, _ string, export catalog.VersionExport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCalls = append(s.setCalls, export)
	return s.setErr
}

func TestRegisterVersionSkeletonNotLatest(t *testing.T) {
	stub := &serviceStub{dataset: &catalog.Dataset{
		NBN:        "urn:nbn:s",
		DatasetPID: "doi:S",
		Versions:   []catalog.VersionExport{export(1, "a", true), export(2, "b", false)},
	}}
	rec := catalog.NewReconciler(stub, logging.NewNop())
	_, err := rec.RegisterVersion(context.Background(), "ssh", record("urn:nbn:s", "doi:S", "c"))
	var consistency *catalog.ConsistencyError
	if !errors.As(err, &consistency) || consistency.Version != 1 {
		t.Fatalf("expected ConsistencyError at version 1, got %v", err)
	}
	if len(stub.setCalls) != 0 {
		t.Fatalf("nothing should be written, got %d calls", len(stub.setCalls))
	}
}

func TestRegisterVersionSkeletonAlreadyCompleted(t *testing.T) {
	stub := &serviceStub{
		dataset: &catalog.Dataset{
			NBN:        "urn:nbn:s",
			DatasetPID: "doi:S",
			Versions:   []catalog.VersionExport{export(1, "a", true)},
		},
		setErr: catalog.ErrNotSkeleton,
	}
	rec := catalog.NewReconciler(stub, logging.NewNop())
	_, err := rec.RegisterVersion(context.Background(), "ssh", record("urn:nbn:s", "doi:S", "c"))
	var consistency *catalog.ConsistencyError
	if !errors.As(err, &consistency) {
		t.Fatalf("expected ConsistencyError, got %v", err)
	}
}

func TestRegisterVersionTransportErrorIsTransient(t *testing.T) {
	stub := &serviceStub{getErr: errors.New("connection refused")}
	rec := catalog.NewReconciler(stub, logging.NewNop())
	_, err := rec.RegisterVersion(context.Background(), "ssh", record("urn:nbn:t", "doi:T", "a"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if details := services.Details(err); details.Hint == "" {
		t.Fatalf("expected operator hint, got %+v", details)
	}
}

func TestRegisterVersionConcurrentSameDataset(t *testing.T) {
	store := openStore(t)
	rec := catalog.NewReconciler(store, logging.NewNop())
	ctx := context.Background()

	const n = 6
	var wg sync.WaitGroup
	versions := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			versions[i], errs[i] = rec.RegisterVersion(ctx, "ssh", record("urn:nbn:c", "doi:C", "bag-"+string(rune('a'+i))))
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		if seen[versions[i]] {
			t.Fatalf("version %d assigned twice", versions[i])
		}
		seen[versions[i]] = true
	}
	for v := 1; v <= n; v++ {
		if !seen[v] {
			t.Fatalf("version %d missing from %v", v, versions)
		}
	}
}
