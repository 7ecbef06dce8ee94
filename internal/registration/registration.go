// Package registration implements the identifier registrar stage: it reads
// registration descriptors and registers each NBN's landing page with the
// resolver. Failures are not retried; an operator replays the failed outbox.
package registration

import (
	"context"
	"log/slog"
	"os"

	"dvetransfer/internal/config"
	"dvetransfer/internal/descriptor"
	"dvetransfer/internal/inbox"
	"dvetransfer/internal/logging"
	"dvetransfer/internal/resolver"
	"dvetransfer/internal/services"
	"dvetransfer/internal/stage"
)

// Name is the stage name used in logs, sidecars and metrics.
const Name = "registration"

// Stage is the identifier registrar.
type Stage struct {
	*inbox.Inbox

	cfg      *config.Config
	resolver resolver.Service
	logger   *slog.Logger
}

var _ stage.Handler = (*Stage)(nil)

// New builds the stage over cfg.Register.Inbox.
func New(cfg *config.Config, svc resolver.Service, logger *slog.Logger, opts stage.Options) (*Stage, error) {
	s := &Stage{
		cfg:      cfg,
		resolver: svc,
		logger:   logging.ForStage(logger, cfg, Name),
	}
	inboxCfg := inbox.Config{
		Name:         Name,
		Dir:          cfg.Register.Inbox,
		Filter:       inbox.MatchSuffix(descriptor.Suffix),
		Order:        inbox.ByCreation,
		Factory:      s.task,
		PollInterval: cfg.PollInterval(),
		Workers:      cfg.Register.Workers,
		Outbox: inbox.Outbox{
			Processed: cfg.Register.Processed,
			Failed:    cfg.Register.Failed,
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
	return stage.CheckDirectories(Name, s.cfg.Register.Inbox, s.cfg.Register.Processed, s.cfg.Register.Failed)
}

func (s *Stage) task(entry inbox.Entry) inbox.Task {
	return inbox.TaskFunc(func(ctx context.Context) inbox.Outcome {
		return s.process(ctx, entry)
	})
}

func (s *Stage) process(ctx context.Context, entry inbox.Entry) inbox.Outcome {
	logger := logging.WithContext(ctx, s.logger)

	f, err := os.Open(entry.Path)
	if err != nil {
		return inbox.Failed(services.Wrap(services.ErrTransient, Name, "open descriptor", "descriptor unreadable", err))
	}
	desc, err := descriptor.Parse(f)
	_ = f.Close()
	if err != nil {
		return inbox.Failed(err)
	}

	if err := s.resolver.Register(ctx, desc.NBN, desc.Location); err != nil {
		return inbox.Failed(services.WithHint(
			services.Wrap(services.ErrExternal, Name, "register nbn", "resolver registration failed for "+desc.NBN, err),
			"replay the descriptor from "+s.cfg.Register.Failed+" once the resolver is reachable",
		))
	}
	logger.Info("identifier registered",
		logging.String(logging.FieldEventType, "nbn_registered"),
		logging.String(logging.FieldNbn, desc.NBN),
		logging.String("location", desc.Location),
	)
	return inbox.Processed()
}
