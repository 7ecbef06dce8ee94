// Package extraction implements the first pipeline stage: it reads the
// provenance metadata of each DVE, registers the version in the catalog and
// hands the export to the ordering stage renamed with its object version.
package extraction

import (
	"context"
	"log/slog"

	"dvetransfer/internal/config"
	"dvetransfer/internal/dve"
	"dvetransfer/internal/inbox"
	"dvetransfer/internal/logging"
	"dvetransfer/internal/metadata"
	"dvetransfer/internal/services"
	"dvetransfer/internal/stage"
)

// Name is the stage name used in logs, sidecars and metrics.
const Name = "extraction"

// Registrar assigns object versions.
type Registrar interface {
	RegisterVersion(ctx context.Context, datastation string, rec *metadata.Record) (int, error)
}

// Stage is the extraction stage.
type Stage struct {
	*inbox.Inbox

	cfg       *config.Config
	registrar Registrar
	logger    *slog.Logger
}

var _ stage.Handler = (*Stage)(nil)

// New builds the stage over cfg.Extract.Inbox.
func New(cfg *config.Config, registrar Registrar, logger *slog.Logger, opts stage.Options) (*Stage, error) {
	s := &Stage{
		cfg:       cfg,
		registrar: registrar,
		logger:    logging.ForStage(logger, cfg, Name),
	}
	if cfg.Extract.Workers > 1 {
		logging.WarnWithContext(s.logger, "parallel extraction may number versions of one dataset out of creation order", "extract_workers_parallel",
			logging.Int("configured_workers", cfg.Extract.Workers),
			logging.String(logging.FieldErrorHint, "set extract.workers = 1 when datasets receive several versions at once"),
			logging.String(logging.FieldImpact, "object versions follow completion order within a poll cycle"),
		)
	}
	inboxCfg := inbox.Config{
		Name:         Name,
		Dir:          cfg.Extract.Inbox,
		Factory:      s.task,
		PollInterval: cfg.PollInterval(),
		Workers:      cfg.Extract.Workers,
		Outbox: inbox.Outbox{
			Processed: cfg.Order.Inbox,
			Failed:    cfg.Extract.Failed,
			Rejected:  cfg.Extract.Rejected,
		},
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
	return stage.CheckDirectories(Name, s.cfg.Extract.Inbox, s.cfg.Extract.Failed, s.cfg.Extract.Rejected, s.cfg.Order.Inbox)
}

func (s *Stage) task(entry inbox.Entry) inbox.Task {
	return inbox.TaskFunc(func(ctx context.Context) inbox.Outcome {
		return s.process(ctx, entry)
	})
}

func (s *Stage) process(ctx context.Context, entry inbox.Entry) inbox.Outcome {
	logger := logging.WithContext(ctx, s.logger)

	d, err := dve.Stat(entry.Path)
	if err != nil {
		return inbox.Failed(services.Wrap(services.ErrTransient, Name, "stat dve", "DVE vanished or is unreadable", err))
	}
	rec, err := metadata.Extract(d)
	if err != nil {
		if services.Classify(err) == services.KindValidation {
			logger.Info("dve rejected",
				logging.String(logging.FieldEventType, "dve_rejected"),
				logging.Error(err),
			)
		}
		return inbox.FromError(err)
	}

	version, err := s.registrar.RegisterVersion(ctx, s.cfg.Extract.Datastation, rec)
	if err != nil {
		return inbox.Failed(err)
	}

	name := dve.VersionedName(d.Name, version)
	logger.Info("dve registered",
		logging.String(logging.FieldEventType, "dve_registered"),
		logging.String(logging.FieldNbn, rec.NBN),
		logging.String("bag_id", rec.BagID),
		logging.Int("object_version", version),
		logging.String("target_name", name),
	)
	return inbox.ProcessedAs(name)
}
