package registration_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"dvetransfer/internal/descriptor"
	"dvetransfer/internal/logging"
	"dvetransfer/internal/registration"
	"dvetransfer/internal/stage"
	"dvetransfer/internal/testsupport"
)

type resolverStub struct {
	registered []string
	err        error
}

func (r *resolverStub) Register(_ context.Context, nbn string, locations ...string) error {
	if r.err != nil {
		return r.err
	}
	r.registered = append(r.registered, nbn+" "+locations[0])
	return nil
}

func writeDescriptor(t *testing.T, dir string, desc descriptor.Descriptor) string {
	t.Helper()
	path := filepath.Join(dir, desc.FileName())
	if err := os.WriteFile(path, desc.Marshal(), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	if err := os.Chtimes(path, desc.Created, desc.Created); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	return path
}

func TestRegistersDescriptorsInOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc := &resolverStub{}
	s, err := registration.New(cfg, svc, logging.NewNop(), stage.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	created := time.Now().Add(-time.Hour)
	first := writeDescriptor(t, cfg.Register.Inbox, descriptor.Descriptor{NBN: "urn:nbn:a", Location: "https://l/a", Created: created})
	second := writeDescriptor(t, cfg.Register.Inbox, descriptor.Descriptor{NBN: "urn:nbn:b", Location: "https://l/b", Created: created.Add(time.Second)})
	if err := os.WriteFile(filepath.Join(cfg.Register.Inbox, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s.PollOnce(context.Background())

	want := []string{"urn:nbn:a https://l/a", "urn:nbn:b https://l/b"}
	if !reflect.DeepEqual(svc.registered, want) {
		t.Fatalf("registered %v, want %v", svc.registered, want)
	}
	for _, path := range []string{first, second} {
		if !testsupport.Exists(filepath.Join(cfg.Register.Processed, filepath.Base(path))) {
			t.Fatalf("expected %s in processed outbox", filepath.Base(path))
		}
	}
	if !testsupport.Exists(filepath.Join(cfg.Register.Inbox, "notes.txt")) {
		t.Fatal("non-descriptor files must be left alone")
	}
}

func TestResolverFailureMovesDescriptorToFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	s, err := registration.New(cfg, &resolverStub{err: errors.New("connection refused")}, logging.NewNop(), stage.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	path := writeDescriptor(t, cfg.Register.Inbox, descriptor.Descriptor{NBN: "urn:nbn:a", Location: "https://l/a", Created: time.Now()})

	s.PollOnce(context.Background())

	failed := filepath.Join(cfg.Register.Failed, filepath.Base(path))
	if !testsupport.Exists(failed) {
		t.Fatal("expected descriptor in failed outbox")
	}
	data, err := os.ReadFile(failed + ".error.json")
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	var sidecar map[string]any
	if err := json.Unmarshal(data, &sidecar); err != nil {
		t.Fatalf("decode sidecar: %v", err)
	}
	if sidecar["stage"] != registration.Name {
		t.Fatalf("unexpected sidecar stage: %v", sidecar["stage"])
	}
	if status := s.Status(); status.Failed != 1 {
		t.Fatalf("expected one failure, got %+v", status)
	}
}

func TestInvalidDescriptorFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc := &resolverStub{}
	s, err := registration.New(cfg, svc, logging.NewNop(), stage.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Register.Inbox, "broken.properties"), []byte("location = https://l/a\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s.PollOnce(context.Background())

	if !testsupport.Exists(filepath.Join(cfg.Register.Failed, "broken.properties")) {
		t.Fatal("expected descriptor without nbn in failed outbox")
	}
	if len(svc.registered) != 0 {
		t.Fatalf("resolver must not be called, got %v", svc.registered)
	}
}
