package batching

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"dvetransfer/internal/dve"
	"dvetransfer/internal/fileutil"
	"dvetransfer/internal/inbox"
	"dvetransfer/internal/logging"
	"dvetransfer/internal/services"
)

// flushLocked submits the current batch and starts a new one. On failure
// the batch content is discarded and its DVEs go to the failed outbox.
func (a *Assembler) flushLocked(ctx context.Context, trigger string) error {
	if len(a.st.items) == 0 {
		return nil
	}
	name := a.st.name
	items := len(a.st.items)
	bytes := a.st.bytes
	logger := a.logger.With(logging.String(logging.FieldBatch, name))

	err := a.submitLocked(ctx, name, bytes, logger)
	if a.observer != nil {
		a.observer.BatchFlushed(items, bytes, err)
	}
	if err != nil {
		a.st.topLayer = unknownLayerSize
		a.failBatchLocked(name, err)
		logger.Error("batch flush failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "batch_flush_failed"),
			logging.String("trigger", trigger),
			logging.Int("items", items),
			logging.Int64("bytes", bytes),
			logging.String(logging.FieldErrorHint, "check archive availability and replay the batch failed outbox"),
		)
		a.resetLocked()
		return err
	}

	a.st.topLayer += bytes
	a.releaseHeldLocked(name, logger)
	logger.Info("batch submitted",
		logging.String(logging.FieldEventType, "batch_submitted"),
		logging.String("trigger", trigger),
		logging.Int("items", items),
		logging.Int64("bytes", bytes),
		logging.Int64("top_layer_bytes", a.st.topLayer),
	)
	a.resetLocked()
	return nil
}

func (a *Assembler) submitLocked(ctx context.Context, name string, bytes int64, logger *slog.Logger) error {
	if a.archive == nil {
		return services.Wrap(services.ErrConfiguration, Name, "flush", "archive unavailable", errNoArchive)
	}
	if a.st.topLayer < 0 {
		size, err := a.archive.TopLayerSize(ctx)
		if err != nil {
			return services.Wrap(services.ErrTransient, Name, "read top layer", "archive layer size unavailable", err)
		}
		a.st.topLayer = size
	}
	// An empty top layer already takes an oversized batch.
	if a.st.topLayer > 0 && a.st.topLayer+bytes > a.cfg.Archive.LayerThresholdBytes {
		if err := a.archive.CreateLayer(ctx); err != nil {
			return services.Wrap(services.ErrTransient, Name, "create layer", "archive refused a new layer", err)
		}
		logger.Info("new archive layer created",
			logging.String(logging.FieldEventType, "layer_created"),
			logging.Int64("previous_layer_bytes", a.st.topLayer),
			logging.Int64("batch_bytes", bytes),
		)
		a.st.topLayer = 0
		if a.observer != nil {
			a.observer.LayerCreated()
		}
	}

	source := a.batchDir(name)
	target := filepath.Join(a.cfg.Archive.BatchRoot, name)
	if err := fileutil.Move(source, target); err != nil {
		return services.WithHint(
			services.Wrap(services.ErrConfiguration, Name, "move batch", "batch could not be moved into the archive batch root", err),
			"batch.work_dir and archive.batch_root must share one filesystem",
		)
	}
	if err := a.archive.Import(ctx, target); err != nil {
		if moveErr := fileutil.Move(target, source); moveErr != nil {
			_ = os.RemoveAll(target)
		}
		return services.Wrap(services.ErrTransient, Name, "import batch", "archive import failed", err)
	}
	return nil
}

func (a *Assembler) releaseHeldLocked(name string, logger *slog.Logger) {
	for _, key := range sortedItemKeys(a.st.items) {
		it := a.st.items[key]
		if _, err := dve.MoveUnique(it.held, a.cfg.Batch.Processed, filepath.Base(it.held), a.now()); err != nil {
			logger.Warn("submitted dve could not be moved to processed outbox",
				logging.Error(err),
				logging.String(logging.FieldEventType, "held_release_failed"),
				logging.String("path", it.held),
				logging.String(logging.FieldErrorHint, "move the file out of the work directory manually"),
			)
		}
	}
	removeIfEmpty(a.heldDir(name))
}

// failBatchLocked discards the batch content and fails every held DVE.
func (a *Assembler) failBatchLocked(name string, cause error) {
	_ = os.RemoveAll(a.batchDir(name))
	for _, key := range sortedItemKeys(a.st.items) {
		a.failHeld(a.st.items[key].held, cause)
	}
	removeIfEmpty(a.heldDir(name))
}

func (a *Assembler) failHeld(path string, cause error) {
	original := filepath.Base(path)
	target, err := dve.MoveUnique(path, a.cfg.Batch.Failed, original, a.now())
	if err != nil {
		logging.ErrorWithContext(a.logger, "held dve could not be moved to failed outbox", "held_fail_move_failed",
			logging.Error(err),
			logging.String("path", path),
			logging.String(logging.FieldErrorHint, "move the file out of the work directory manually"),
		)
		return
	}
	sidecar := inbox.NewErrorSidecar(Name, original, cause, a.now())
	if err := inbox.WriteErrorSidecar(target, sidecar); err != nil {
		logging.WarnWithContext(a.logger, "sidecar write failed", "sidecar_write_failed",
			logging.Error(err),
			logging.String("path", target),
			logging.String(logging.FieldImpact, "failure details are only available in the log"),
		)
	}
}

func sortedItemKeys(items map[string]item) []string {
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
