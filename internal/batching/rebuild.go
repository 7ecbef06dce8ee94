package batching

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"dvetransfer/internal/dve"
	"dvetransfer/internal/fileutil"
	"dvetransfer/internal/logging"
	"dvetransfer/internal/metadata"
	"dvetransfer/internal/services"
)

// rebuild restores the current batch from the work directory. Held DVEs
// whose batch content is gone belong to a flush that was interrupted after
// the batch left the work directory; they are failed for operator review.
func (a *Assembler) rebuild(context.Context) error {
	for _, dir := range []string{filepath.Join(a.cfg.Batch.WorkDir, batchesDir), filepath.Join(a.cfg.Batch.WorkDir, heldDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	batches, err := listDirs(filepath.Join(a.cfg.Batch.WorkDir, batchesDir))
	if err != nil {
		return err
	}
	held, err := listDirs(filepath.Join(a.cfg.Batch.WorkDir, heldDir))
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Batch names sort by creation time; only the newest can be current.
	current := ""
	if len(batches) > 0 {
		current = batches[len(batches)-1]
	}
	for _, name := range batches {
		if name == current {
			continue
		}
		a.logger.Warn("discarding superseded batch",
			logging.String(logging.FieldEventType, "batch_superseded"),
			logging.String(logging.FieldBatch, name),
		)
		a.abandonLocked(name, "batch was superseded by a newer batch before it was submitted")
	}
	for _, name := range held {
		if name == current || slices.Contains(batches, name) {
			continue
		}
		a.logger.Warn("found held DVEs of an interrupted flush",
			logging.String(logging.FieldEventType, "batch_interrupted"),
			logging.String(logging.FieldBatch, name),
			logging.String(logging.FieldErrorHint, "verify the archive imported "+filepath.Join(a.cfg.Archive.BatchRoot, name)+" before replaying"),
		)
		a.abandonLocked(name, "flush was interrupted after the batch left the work directory; verify the archive import of "+filepath.Join(a.cfg.Archive.BatchRoot, name))
	}
	if current == "" {
		return nil
	}
	return a.restoreLocked(current)
}

func (a *Assembler) restoreLocked(name string) error {
	a.st.name = name
	a.st.items = make(map[string]item)
	a.st.bytes = 0

	heldPaths, err := listEntries(a.heldDir(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for _, path := range heldPaths {
		d, err := dve.Stat(path)
		if err != nil {
			a.failHeld(path, services.Wrap(services.ErrValidation, Name, "restore batch", "held entry is not a DVE", err))
			continue
		}
		rec, err := metadata.Extract(d)
		if err != nil {
			a.failHeld(path, err)
			continue
		}
		key := itemKey(rec.NBN, rec.ObjectVersion)
		content := filepath.Join(a.batchDir(name), filepath.FromSlash(key))
		size, err := fileutil.DirSize(content)
		if err != nil {
			a.failHeld(path, services.Wrap(services.ErrConsistency, Name, "restore batch", "held DVE has no content in the batch", err))
			continue
		}
		a.st.items[key] = item{held: path, content: content, bytes: size}
		a.st.bytes += size
	}
	a.pruneOrphanContentLocked(name)

	if len(a.st.items) == 0 {
		_ = os.RemoveAll(a.batchDir(name))
		removeIfEmpty(a.heldDir(name))
		a.resetLocked()
		return nil
	}
	a.logger.Info("batch restored",
		logging.String(logging.FieldEventType, "batch_restored"),
		logging.String(logging.FieldBatch, name),
		logging.Int("items", len(a.st.items)),
		logging.Int64("bytes", a.st.bytes),
	)
	return nil
}

// pruneOrphanContentLocked removes version directories left by arrivals
// that never reached the held directory.
func (a *Assembler) pruneOrphanContentLocked(name string) {
	known := make(map[string]struct{}, len(a.st.items))
	for _, it := range a.st.items {
		known[it.content] = struct{}{}
	}
	root := a.batchDir(name)
	datasets, err := listDirs(root)
	if err != nil {
		return
	}
	for _, ds := range datasets {
		versions, err := listDirs(filepath.Join(root, ds))
		if err != nil {
			continue
		}
		for _, v := range versions {
			path := filepath.Join(root, ds, v)
			if _, ok := known[path]; !ok {
				_ = os.RemoveAll(path)
			}
		}
		removeIfEmpty(filepath.Join(root, ds))
	}
}

func (a *Assembler) abandonLocked(name, reason string) {
	cause := services.Wrap(services.ErrConsistency, Name, "restore batch", reason, nil)
	_ = os.RemoveAll(a.batchDir(name))
	paths, _ := listEntries(a.heldDir(name))
	for _, path := range paths {
		a.failHeld(path, cause)
	}
	removeIfEmpty(a.heldDir(name))
}

func listDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func listEntries(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}
