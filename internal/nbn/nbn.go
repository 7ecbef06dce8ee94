// Package nbn resolves the persistent identifier of a DVE for the ordering
// stage. The identifier comes either from the provenance metadata inside the
// export or from a "<dve>.nbn" sidecar file deposited next to it.
package nbn

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"dvetransfer/internal/dve"
	"dvetransfer/internal/metadata"
	"dvetransfer/internal/services"
)

// Source names.
const (
	SourceMetadata = "metadata"
	SourceSidecar  = "sidecar"
)

// SidecarSuffix is appended to the DVE path to find its sidecar.
const SidecarSuffix = ".nbn"

// Source yields the NBN of a DVE.
type Source interface {
	NBN(d dve.DVE) (string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(d dve.DVE) (string, error)

// NBN calls f.
func (f SourceFunc) NBN(d dve.DVE) (string, error) { return f(d) }

// New returns the source registered under kind.
func New(kind string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", SourceMetadata:
		return SourceFunc(FromMetadata), nil
	case SourceSidecar:
		return SourceFunc(FromSidecar), nil
	default:
		return nil, fmt.Errorf("unknown nbn source %q: %w", kind, services.ErrConfiguration)
	}
}

// FromMetadata extracts the NBN from the provenance document.
func FromMetadata(d dve.DVE) (string, error) {
	rec, err := metadata.Extract(d)
	if err != nil {
		return "", err
	}
	return rec.NBN, nil
}

// FromSidecar reads "<dve>.nbn". A DVE renamed with a version suffix also
// finds the sidecar deposited under its original name.
func FromSidecar(d dve.DVE) (string, error) {
	candidates := []string{SidecarPath(d)}
	if d.ObjectVersion() > 0 {
		original := filepath.Join(filepath.Dir(d.Path), dve.UnversionedName(d.Name))
		candidates = append(candidates, original+SidecarSuffix)
	}
	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read nbn sidecar: %w", err)
		}
		value := strings.TrimSpace(string(data))
		if value == "" {
			return "", fmt.Errorf("nbn sidecar %s is empty: %w", candidate, services.ErrValidation)
		}
		return value, nil
	}
	return "", fmt.Errorf("no nbn sidecar for %s: %w", d.Name, services.ErrValidation)
}

// SidecarPath returns the primary sidecar location of d.
func SidecarPath(d dve.DVE) string {
	return d.Path + SidecarSuffix
}

// Sanitize maps an NBN onto a file-name-safe token.
func Sanitize(nbn string) string {
	var b strings.Builder
	b.Grow(len(nbn))
	for _, r := range strings.TrimSpace(nbn) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
