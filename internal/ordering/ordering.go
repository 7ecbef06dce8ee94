// Package ordering implements the single-worker stage that emits identifier
// registration descriptors in DVE creation order and forwards each DVE to the
// batch assembler. Before every poll it sweeps debris left behind by earlier
// moves.
package ordering

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dvetransfer/internal/config"
	"dvetransfer/internal/descriptor"
	"dvetransfer/internal/dve"
	"dvetransfer/internal/fileutil"
	"dvetransfer/internal/inbox"
	"dvetransfer/internal/logging"
	"dvetransfer/internal/nbn"
	"dvetransfer/internal/services"
	"dvetransfer/internal/stage"
)

// Name is the stage name used in logs, sidecars and metrics.
const Name = "ordering"

const pendingSuffix = ".pending"

// Stage is the ordering/cleanup stage.
type Stage struct {
	*inbox.Inbox

	cfg    *config.Config
	source nbn.Source
	logger *slog.Logger
	now    func() time.Time
}

var _ stage.Handler = (*Stage)(nil)

// New builds the stage over cfg.Order.Inbox. The stage always runs one worker.
func New(cfg *config.Config, source nbn.Source, logger *slog.Logger, opts stage.Options) (*Stage, error) {
	s := &Stage{
		cfg:    cfg,
		source: source,
		logger: logging.ForStage(logger, cfg, Name),
		now:    time.Now,
	}
	if cfg.Order.Workers > 1 {
		logging.WarnWithContext(s.logger, "ordering stage runs a single worker; workers setting ignored", "ordering_workers_ignored",
			logging.Int("configured_workers", cfg.Order.Workers),
			logging.String(logging.FieldErrorHint, "remove order.workers from the config"),
			logging.String(logging.FieldImpact, "none; descriptors stay in creation order"),
		)
	}
	inboxCfg := inbox.Config{
		Name:         Name,
		Dir:          cfg.Order.Inbox,
		Order:        inbox.ByCreation,
		Factory:      s.task,
		PollInterval: cfg.PollInterval(),
		Workers:      1,
		Outbox: inbox.Outbox{
			Processed: cfg.Batch.Inbox,
			Failed:    cfg.Order.Failed,
		},
		Handler: s,
	}
	opts.Apply(&inboxCfg)
	in, err := inbox.New(inboxCfg, s.logger)
	if err != nil {
		return nil, err
	}
	s.Inbox = in
	return s, nil
}

// HealthCheck verifies the stage directories.
func (s *Stage) HealthCheck(context.Context) stage.Health {
	return stage.CheckDirectories(Name, s.cfg.Order.Inbox, s.cfg.Order.Failed, s.cfg.Batch.Inbox, s.cfg.Register.Inbox)
}

// BeforePoll sweeps stray sidecars and empty directories.
func (s *Stage) BeforePoll(context.Context) error {
	return s.cleanup()
}

// AfterPoll is a no-op.
func (s *Stage) AfterPoll(context.Context) {}

func (s *Stage) task(entry inbox.Entry) inbox.Task {
	return inbox.TaskFunc(func(ctx context.Context) inbox.Outcome {
		return s.process(ctx, entry)
	})
}

func (s *Stage) process(ctx context.Context, entry inbox.Entry) inbox.Outcome {
	logger := logging.WithContext(ctx, s.logger)

	if entry.IsDir && isEmptyDir(entry.Path) {
		// Move debris; the cleanup sweep removes it once it is old enough.
		return inbox.Claimed()
	}

	d, err := dve.Stat(entry.Path)
	if err != nil {
		return inbox.Failed(services.Wrap(services.ErrTransient, Name, "stat dve", "DVE vanished or is unreadable", err))
	}
	id, err := s.source.NBN(d)
	if err != nil {
		return inbox.FromError(err)
	}

	desc := descriptor.Descriptor{
		NBN:      id,
		Location: strings.ReplaceAll(s.cfg.Order.LandingPageTemplate, "{nbn}", id),
		Created:  d.Created,
		DVE:      d.Name,
	}
	target := fileutil.UniquePath(s.cfg.Register.Inbox, desc.FileName(), s.now())
	pending := pendingPath(target)
	if err := fileutil.WriteFileAtomic(pending, desc.Marshal(), 0o644); err != nil {
		return inbox.Failed(services.WithHint(
			services.Wrap(services.ErrTransient, Name, "write descriptor", "registration descriptor not written", err),
			"check free space and permissions of the register inbox",
		))
	}

	// The descriptor stays hidden from the registrar until the DVE has left
	// this inbox, so a failed relocation never registers anything.
	moved, err := dve.MoveUnique(entry.Path, s.cfg.Batch.Inbox, d.Name, s.now())
	if err != nil {
		if rmErr := os.Remove(pending); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logging.WarnWithContext(logger, "pending descriptor not removed", "pending_descriptor_left",
				logging.Error(rmErr),
				logging.String("path", pending),
				logging.String(logging.FieldImpact, "removed by the cleanup sweep after the grace period"),
			)
		}
		return inbox.Failed(relocateError(err))
	}
	if err := os.Rename(pending, target); err != nil {
		logging.ErrorWithContext(logger, "descriptor could not be published", "descriptor_publish_failed",
			logging.Error(err),
			logging.String("pending", pending),
			logging.String("descriptor", target),
			logging.String(logging.FieldErrorHint, "rename the pending descriptor to "+filepath.Base(target)),
		)
		return inbox.Relocated(moved)
	}

	logger.Info("registration descriptor written",
		logging.String(logging.FieldEventType, "descriptor_written"),
		logging.String(logging.FieldNbn, id),
		logging.String("descriptor", target),
		logging.String("created", d.Created.UTC().Format(time.RFC3339Nano)),
	)
	return inbox.Relocated(moved)
}

func relocateError(err error) error {
	if errors.Is(err, fileutil.ErrCrossDevice) {
		return services.WithHint(
			services.Wrap(services.ErrConfiguration, Name, "relocate dve", "DVE could not be moved to the batch inbox", err),
			"order.inbox and batch.inbox must share one filesystem; run dvetransfer check",
		)
	}
	return services.WithHint(
		services.Wrap(services.ErrTransient, Name, "relocate dve", "DVE could not be moved to the batch inbox", err),
		"check that batch.inbox is a writable directory, then replay the failed outbox",
	)
}

// pendingPath is the hidden name a descriptor is written under before it is
// published at target.
func pendingPath(target string) string {
	return filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+pendingSuffix)
}

func isEmptyDir(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) == 0
}
