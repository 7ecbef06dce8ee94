package services_test

import (
	"errors"
	"strings"
	"testing"

	"dvetransfer/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternal, "batch", "submit", "archive refused batch", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternal) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"batch", "submit", "archive refused batch", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want services.ErrorKind
	}{
		{services.Wrap(services.ErrValidation, "extract", "parse", "bad", nil), services.KindValidation},
		{services.Wrap(services.ErrConsistency, "extract", "register", "skeleton", nil), services.KindConsistency},
		{services.Wrap(services.ErrTransient, "batch", "move", "io", errors.New("io")), services.KindTransient},
		{errors.New("plain"), services.KindTransient},
	}
	for _, tc := range cases {
		if got := services.Classify(tc.err); got != tc.want {
			t.Fatalf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestDetailsPrefersMessage(t *testing.T) {
	err := services.WithHint(services.Wrap(services.ErrValidation, "extract", "parse", "ambiguous title", errors.New("x")), "fix the exporter")
	details := services.Details(err)
	if details.Kind != services.KindValidation {
		t.Fatalf("unexpected kind %s", details.Kind)
	}
	if details.Message != "ambiguous title" {
		t.Fatalf("unexpected message %q", details.Message)
	}
	if details.Hint != "fix the exporter" {
		t.Fatalf("unexpected hint %q", details.Hint)
	}
	if details.Stage != "extract" || details.Operation != "parse" {
		t.Fatalf("unexpected context %+v", details)
	}
}
