// Package dve gives read access to Dataset Version Exports, either zip files
// or bag directories, and implements the object-version naming convention.
package dve

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"dvetransfer/internal/fileutil"
)

// ProvenancePath is the bag-relative location of the OAI-ORE document.
const ProvenancePath = "metadata/oai-ore.jsonld"

var versionSuffix = regexp.MustCompile(`-ttv(\d+)$`)

// ErrNoBag reports an export without a recognizable bag root.
var ErrNoBag = errors.New("no bag found")

// DVE is one export on disk. Created is the file modification time.
type DVE struct {
	Path    string
	Name    string
	IsDir   bool
	Size    int64
	Created time.Time
}

// Stat describes the export at p.
func Stat(p string) (DVE, error) {
	info, err := os.Stat(p)
	if err != nil {
		return DVE{}, err
	}
	d := DVE{
		Path:    p,
		Name:    filepath.Base(p),
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		Created: info.ModTime(),
	}
	if !d.IsDir && !strings.EqualFold(filepath.Ext(d.Name), ".zip") {
		return DVE{}, fmt.Errorf("%s: not a zip file or bag directory", p)
	}
	return d, nil
}

// ObjectVersion returns the version carried by the -ttv<N> suffix, or 0.
func (d DVE) ObjectVersion() int {
	return ObjectVersion(d.Name)
}

// ObjectVersion parses the -ttv<N> suffix of a DVE file name.
func ObjectVersion(name string) int {
	stem, _ := splitName(name)
	match := versionSuffix.FindStringSubmatch(stem)
	if match == nil {
		return 0
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	return n
}

// VersionedName returns name with its -ttv<N> suffix set to version.
func VersionedName(name string, version int) string {
	stem, ext := splitName(name)
	stem = versionSuffix.ReplaceAllString(stem, "")
	return fmt.Sprintf("%s-ttv%d%s", stem, version, ext)
}

// UnversionedName strips the -ttv<N> suffix from name.
func UnversionedName(name string) string {
	stem, ext := splitName(name)
	return versionSuffix.ReplaceAllString(stem, "") + ext
}

// SplitVersion splits name so that a -ttv<N> marker stays attached to the
// extension. Names without a marker split like fileutil.SplitExt.
func SplitVersion(name string) (string, string) {
	stem, ext := splitName(name)
	if loc := versionSuffix.FindStringIndex(stem); loc != nil {
		return stem[:loc[0]], stem[loc[0]:] + ext
	}
	return fileutil.SplitExt(name)
}

// UniquePath returns a collision-free target in dir that keeps the object
// version readable from the name.
func UniquePath(dir, name string, now time.Time) string {
	return fileutil.UniquePathSplit(dir, name, now, SplitVersion)
}

// MoveUnique moves src into dir under name without losing its version suffix.
func MoveUnique(src, dir, name string, now time.Time) (string, error) {
	return fileutil.MoveUnique(src, dir, name, now, SplitVersion)
}

func splitName(name string) (string, string) {
	if strings.EqualFold(filepath.Ext(name), ".zip") {
		ext := filepath.Ext(name)
		return strings.TrimSuffix(name, ext), ext
	}
	return name, ""
}

// Bag is an opened export, rooted at its bag folder.
type Bag struct {
	// Base is the bag folder inside the container, "" when the bag sits
	// at the container root.
	Base   string
	fsys   fs.FS
	closer io.Closer
}

// Open opens the export for reading.
func (d DVE) Open() (*Bag, error) {
	if d.IsDir {
		root := os.DirFS(d.Path)
		if _, err := fs.Stat(root, ProvenancePath); err == nil {
			return &Bag{Base: d.Name, fsys: root}, nil
		}
		base, err := findBase(root)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Name, err)
		}
		sub, err := fs.Sub(root, base)
		if err != nil {
			return nil, err
		}
		return &Bag{Base: base, fsys: sub}, nil
	}

	reader, err := zip.OpenReader(d.Path)
	if err != nil {
		return nil, fmt.Errorf("open zip %s: %w", d.Name, err)
	}
	base, err := findBase(reader)
	if err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("%s: %w", d.Name, err)
	}
	var root fs.FS = reader
	if base != "" {
		if root, err = fs.Sub(reader, base); err != nil {
			_ = reader.Close()
			return nil, err
		}
	}
	return &Bag{Base: base, fsys: root, closer: reader}, nil
}

// findBase locates the single top-level folder holding the provenance
// document. A document at the root yields "".
func findBase(root fs.FS) (string, error) {
	if _, err := fs.Stat(root, ProvenancePath); err == nil {
		return "", nil
	}
	entries, err := fs.ReadDir(root, ".")
	if err != nil {
		return "", err
	}
	var found []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := fs.Stat(root, path.Join(entry.Name(), ProvenancePath)); err == nil {
			found = append(found, entry.Name())
		}
	}
	switch len(found) {
	case 0:
		if len(entries) == 1 && entries[0].IsDir() {
			return entries[0].Name(), nil
		}
		return "", ErrNoBag
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("multiple bags (%s): %w", strings.Join(found, ", "), ErrNoBag)
	}
}

// FS exposes the bag content.
func (b *Bag) FS() fs.FS { return b.fsys }

// ReadFile reads a bag-relative file.
func (b *Bag) ReadFile(name string) ([]byte, error) {
	return fs.ReadFile(b.fsys, name)
}

// Close releases the underlying zip reader.
func (b *Bag) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// ExtractTo copies the bag content into dst and returns the bytes written.
func (b *Bag) ExtractTo(dst string) (int64, error) {
	var total int64
	err := fs.WalkDir(b.fsys, ".", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		target := filepath.Join(dst, filepath.FromSlash(p))
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		written, err := copyEntry(b.fsys, p, target)
		total += written
		return err
	})
	if err != nil {
		return total, fmt.Errorf("extract bag: %w", err)
	}
	return total, nil
}

func copyEntry(fsys fs.FS, name, target string) (int64, error) {
	in, err := fsys.Open(name)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}
	written, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return written, err
}
