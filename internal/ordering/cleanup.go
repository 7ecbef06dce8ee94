package ordering

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dvetransfer/internal/inbox"
	"dvetransfer/internal/logging"
	"dvetransfer/internal/nbn"
)

// companionSuffixes are checksum and identifier files that lose their
// meaning once the DVE they describe has moved on.
var companionSuffixes = []string{nbn.SidecarSuffix, ".md5", ".sha1"}

func (s *Stage) cleanup() error {
	cutoff := s.now().Add(-s.cfg.CleanupGrace())
	var errs []error
	if err := s.removeStraySidecars(s.cfg.Order.Inbox, cutoff); err != nil {
		errs = append(errs, err)
	}
	if err := s.removeStalePending(s.cfg.Register.Inbox, cutoff); err != nil {
		errs = append(errs, err)
	}
	for _, dir := range []string{s.cfg.Order.Inbox, s.cfg.Register.Inbox, s.cfg.Batch.Inbox} {
		if err := s.removeEmptyDirs(dir, cutoff); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Stage) removeStraySidecars(dir string, cutoff time.Time) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		owner, ok := strayOwner(entry.Name())
		if !ok {
			continue
		}
		if _, err := os.Lstat(filepath.Join(dir, owner)); err == nil {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove stray %s: %w", path, err))
			continue
		}
		s.logger.Debug("removed stray file",
			logging.String(logging.FieldEventType, "stray_file_removed"),
			logging.String("path", path),
		)
	}
	return errors.Join(errs...)
}

func strayOwner(name string) (string, bool) {
	if inbox.IsSidecar(name) {
		return inbox.SidecarOwner(name), true
	}
	lower := strings.ToLower(name)
	for _, suffix := range companionSuffixes {
		if strings.HasSuffix(lower, suffix) && len(name) > len(suffix) {
			return name[:len(name)-len(suffix)], true
		}
	}
	return "", false
}

// removeStalePending removes descriptors left unpublished by an interrupted
// poll. The DVE is still in the inbox and gets a fresh descriptor.
func (s *Stage) removeStalePending(dir string, cutoff time.Time) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}
	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, pendingSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove pending %s: %w", path, err))
			continue
		}
		s.logger.Debug("removed stale pending descriptor",
			logging.String(logging.FieldEventType, "pending_descriptor_removed"),
			logging.String("path", path),
		)
	}
	return errors.Join(errs...)
}

// removeEmptyDirs removes empty directories below root, deepest first.
// root itself is kept.
func (s *Stage) removeEmptyDirs(root string, cutoff time.Time) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("list %s: %w", root, err)
	}
	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := s.pruneDir(filepath.Join(root, entry.Name()), cutoff); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// pruneDir reports whether dir was removed.
func (s *Stage) pruneDir(dir string, cutoff time.Time) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("list %s: %w", dir, err)
	}
	remaining := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			remaining++
			continue
		}
		removed, err := s.pruneDir(filepath.Join(dir, entry.Name()), cutoff)
		if err != nil {
			return false, err
		}
		if !removed {
			remaining++
		}
	}
	if remaining > 0 {
		return false, nil
	}
	info, err := os.Stat(dir)
	if err != nil || info.ModTime().After(cutoff) {
		return false, nil
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("remove empty %s: %w", dir, err)
	}
	s.logger.Debug("removed empty directory",
		logging.String(logging.FieldEventType, "empty_dir_removed"),
		logging.String("path", dir),
	)
	return true, nil
}
