package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"dvetransfer/internal/dve"
	"dvetransfer/internal/fileutil"
	"dvetransfer/internal/logging"
	"dvetransfer/internal/services"
)

const (
	errorSidecarSuffix  = ".error.json"
	reasonSidecarSuffix = ".reason.json"
)

// ErrorSidecar is written next to a failed entry.
type ErrorSidecar struct {
	OriginalName string    `json:"originalName"`
	FailedAt     time.Time `json:"failedAt"`
	Stage        string    `json:"stage"`
	Kind         string    `json:"kind"`
	Operation    string    `json:"operation,omitempty"`
	Message      string    `json:"message"`
	Hint         string    `json:"hint,omitempty"`
	Error        string    `json:"error"`
}

// ReasonSidecar is written next to a rejected entry.
type ReasonSidecar struct {
	OriginalName string    `json:"originalName"`
	RejectedAt   time.Time `json:"rejectedAt"`
	Stage        string    `json:"stage"`
	Reason
}

func (in *Inbox) worker(ctx context.Context, jobs <-chan job) {
	defer in.workers.Done()
	for j := range jobs {
		if ctx.Err() != nil {
			in.release(j.entry.Name)
			j.done()
			continue
		}
		in.execute(ctx, j.entry)
		in.release(j.entry.Name)
		j.done()
	}
}

func (in *Inbox) execute(ctx context.Context, entry Entry) {
	// Running tasks are never interrupted by shutdown.
	taskCtx := context.WithoutCancel(ctx)
	taskCtx = services.WithStage(taskCtx, in.cfg.Name)
	taskCtx = services.WithItem(taskCtx, entry.Name)
	taskCtx = services.WithRequestID(taskCtx, uuid.NewString())
	logger := logging.WithContext(taskCtx, in.logger)

	started := in.now()
	outcome := in.runTask(taskCtx, logger, entry)
	kind := in.route(logger, entry, outcome)
	in.count(kind)

	logger.Debug("item finished",
		logging.String(logging.FieldEventType, "item_finished"),
		logging.String("outcome", kind.String()),
		logging.Duration("duration", in.now().Sub(started)),
	)
}

func (in *Inbox) runTask(ctx context.Context, logger *slog.Logger, entry Entry) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked",
				logging.String(logging.FieldEventType, "task_panic"),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
			out = Failed(fmt.Errorf("task panic: %v", r))
		}
	}()
	task := in.cfg.Factory(entry)
	if task == nil {
		return Failed(fmt.Errorf("no task for %s", entry.Name))
	}
	return task.Run(ctx)
}

// route moves entry according to out and returns the kind it was finally
// routed as.
func (in *Inbox) route(logger *slog.Logger, entry Entry, out Outcome) Kind {
	switch out.Kind {
	case KindClaimed:
		return KindClaimed
	case KindProcessed:
		if out.Target != "" {
			logger.Info("item processed",
				logging.String(logging.FieldEventType, "item_processed"),
				logging.String("target", out.Target),
			)
			return KindProcessed
		}
		if in.cfg.Outbox.Processed == "" {
			return in.route(logger, entry, Failed(fmt.Errorf("stage %s has no processed outbox", in.cfg.Name)))
		}
		name := entry.Name
		if rename := strings.TrimSpace(out.Rename); rename != "" {
			name = filepath.Base(rename)
		}
		target, err := dve.MoveUnique(entry.Path, in.cfg.Outbox.Processed, name, in.now())
		if err != nil {
			return in.route(logger, entry, Failed(in.outboxError(in.cfg.Outbox.Processed, err)))
		}
		logger.Info("item processed",
			logging.String(logging.FieldEventType, "item_processed"),
			logging.String("target", target),
		)
		return KindProcessed
	case KindRejected:
		if in.cfg.Outbox.Rejected == "" {
			err := out.Err
			if err == nil {
				err = fmt.Errorf("rejected: %s: %s", out.Reason.Code, out.Reason.Message)
			}
			return in.route(logger, entry, Failed(err))
		}
		target, err := dve.MoveUnique(entry.Path, in.cfg.Outbox.Rejected, entry.Name, in.now())
		if err != nil {
			return in.route(logger, entry, Failed(in.outboxError(in.cfg.Outbox.Rejected, err)))
		}
		sidecar := ReasonSidecar{
			OriginalName: entry.Name,
			RejectedAt:   in.now().UTC(),
			Stage:        in.cfg.Name,
			Reason:       out.Reason,
		}
		in.writeSidecar(logger, target+reasonSidecarSuffix, sidecar)
		logger.Warn("item rejected",
			logging.String(logging.FieldEventType, "item_rejected"),
			logging.String("target", target),
			logging.String("reason_code", out.Reason.Code),
			logging.String("reason", out.Reason.Message),
			logging.String(logging.FieldErrorHint, "fix the export and deposit it again"),
			logging.String(logging.FieldImpact, "item will not be retried automatically"),
		)
		return KindRejected
	default:
		err := out.Err
		if err == nil {
			err = errors.New("task failed without error detail")
		}
		details := services.Details(err)
		target, moveErr := dve.MoveUnique(entry.Path, in.cfg.Outbox.Failed, entry.Name, in.now())
		if moveErr != nil {
			in.moveFailed(logger, entry, in.cfg.Outbox.Failed, moveErr)
			return KindFailed
		}
		in.writeSidecar(logger, target+errorSidecarSuffix, NewErrorSidecar(in.cfg.Name, entry.Name, err, in.now()))
		in.recordError(err)
		hint := details.Hint
		if hint == "" {
			hint = "inspect the error sidecar and replay the failed outbox"
		}
		logger.Error("item failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "item_failed"),
			logging.String("error_kind", string(details.Kind)),
			logging.String("target", target),
			logging.String(logging.FieldErrorHint, hint),
		)
		return KindFailed
	}
}

// outboxError classifies a failed move into dir. The entry then takes the
// failed route.
func (in *Inbox) outboxError(dir string, err error) error {
	marker := services.ErrTransient
	hint := "check that " + dir + " is a writable directory"
	if errors.Is(err, fileutil.ErrCrossDevice) {
		marker = services.ErrConfiguration
		hint = "inbox and outboxes must share one filesystem; run dvetransfer check"
	}
	return services.WithHint(services.Wrap(marker, in.cfg.Name, "move to outbox", "could not move item to "+dir, err), hint)
}

// moveFailed records a failed move into the failed outbox itself. The item
// stays in the inbox.
func (in *Inbox) moveFailed(logger *slog.Logger, entry Entry, dir string, err error) {
	in.recordError(err)
	logger.Error("outbox move failed; item stays in inbox",
		logging.Error(err),
		logging.String(logging.FieldEventType, "outbox_move_failed"),
		logging.String("outbox", dir),
		logging.String("path", entry.Path),
		logging.String(logging.FieldErrorHint, "inbox and outboxes must share one filesystem; run dvetransfer check"),
	)
}

// NewErrorSidecar describes err for an entry that failed in stage.
func NewErrorSidecar(stage, originalName string, err error, now time.Time) ErrorSidecar {
	details := services.Details(err)
	return ErrorSidecar{
		OriginalName: originalName,
		FailedAt:     now.UTC(),
		Stage:        stage,
		Kind:         string(details.Kind),
		Operation:    details.Operation,
		Message:      details.Message,
		Hint:         details.Hint,
		Error:        err.Error(),
	}
}

// WriteErrorSidecar writes sidecar next to the failed entry at target.
func WriteErrorSidecar(target string, sidecar ErrorSidecar) error {
	return writeJSON(target+errorSidecarSuffix, sidecar)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, append(data, '\n'), 0o644)
}

func (in *Inbox) writeSidecar(logger *slog.Logger, path string, value any) {
	if err := writeJSON(path, value); err != nil {
		logging.WarnWithContext(logger, "sidecar write failed", "sidecar_write_failed",
			logging.Error(err),
			logging.String("path", path),
			logging.String(logging.FieldImpact, "failure details are only available in the log"),
		)
	}
}

// IsSidecar reports whether name is an engine-written sidecar file.
func IsSidecar(name string) bool {
	return strings.HasSuffix(name, errorSidecarSuffix) || strings.HasSuffix(name, reasonSidecarSuffix)
}

// SidecarOwner returns the entry name a sidecar belongs to.
func SidecarOwner(name string) string {
	for _, suffix := range []string{errorSidecarSuffix, reasonSidecarSuffix} {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}
