package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"dvetransfer/internal/api"
	"dvetransfer/internal/archive"
	"dvetransfer/internal/batching"
	"dvetransfer/internal/catalog"
	"dvetransfer/internal/config"
	"dvetransfer/internal/extraction"
	"dvetransfer/internal/logging"
	"dvetransfer/internal/metrics"
	"dvetransfer/internal/nbn"
	"dvetransfer/internal/ordering"
	"dvetransfer/internal/preflight"
	"dvetransfer/internal/registration"
	"dvetransfer/internal/resolver"
	"dvetransfer/internal/stage"
)

// Services are the external collaborators of the pipeline. Nil fields are
// built from the configuration.
type Services struct {
	Catalog  catalog.Service
	Archive  archive.Service
	Resolver resolver.Service
}

// Daemon coordinates the pipeline stages and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	store   *catalog.Store
	catalog catalog.Service

	registrar  *registration.Stage
	assembler  *batching.Assembler
	ordering   *ordering.Stage
	extraction *extraction.Stage
	// stages in startup order
	stages []stage.Handler

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger, services Services) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		metrics:  metrics.New(),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	if err := d.buildServices(&services); err != nil {
		d.closeStore()
		return nil, err
	}
	d.catalog = services.Catalog
	if err := d.buildStages(logger, services); err != nil {
		d.closeStore()
		return nil, err
	}
	apiSrv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		d.closeStore()
		return nil, err
	}
	d.api = apiSrv
	return d, nil
}

func (d *Daemon) buildServices(services *Services) error {
	cfg := d.cfg
	if services.Catalog == nil {
		service, store, err := catalog.FromConfig(cfg)
		if err != nil {
			return err
		}
		d.store = store
		services.Catalog = service
	}
	if services.Archive == nil {
		client, err := archive.New(cfg.Archive.URL, archive.WithTimeout(seconds(cfg.Archive.TimeoutSeconds)))
		if err != nil {
			return fmt.Errorf("archive client: %w", err)
		}
		services.Archive = client
	}
	if services.Resolver == nil {
		client, err := resolver.New(cfg.Resolver.URL,
			resolver.WithBasicAuth(cfg.Resolver.Username, cfg.Resolver.Password),
			resolver.WithTimeout(seconds(cfg.Resolver.TimeoutSeconds)),
		)
		if err != nil {
			return fmt.Errorf("resolver client: %w", err)
		}
		services.Resolver = client
	}
	return nil
}

func (d *Daemon) buildStages(logger *slog.Logger, services Services) error {
	cfg := d.cfg
	source, err := nbn.New(cfg.Order.NbnSource)
	if err != nil {
		return err
	}

	d.registrar, err = registration.New(cfg, services.Resolver, logger, stage.Options{Observer: d.metrics})
	if err != nil {
		return fmt.Errorf("registration stage: %w", err)
	}
	d.assembler, err = batching.New(cfg, services.Archive, d.metrics, logger, stage.Options{
		Observer:  d.metrics,
		StartGate: d.registrar.FirstPoll(),
	})
	if err != nil {
		return fmt.Errorf("batching stage: %w", err)
	}
	d.ordering, err = ordering.New(cfg, source, logger, stage.Options{
		Observer:  d.metrics,
		StartGate: d.assembler.FirstPoll(),
	})
	if err != nil {
		return fmt.Errorf("ordering stage: %w", err)
	}
	reconciler := catalog.NewReconciler(services.Catalog, logger)
	d.extraction, err = extraction.New(cfg, reconciler, logger, stage.Options{
		Observer:  d.metrics,
		StartGate: d.ordering.FirstPoll(),
	})
	if err != nil {
		return fmt.Errorf("extraction stage: %w", err)
	}
	d.stages = []stage.Handler{d.registrar, d.assembler, d.ordering, d.extraction}
	return nil
}

// Start acquires the daemon lock, starts every stage and the control API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another dvetransfer daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	for i, st := range d.stages {
		if err := st.Start(runCtx); err != nil {
			for j := i - 1; j >= 0; j-- {
				d.stages[j].Stop()
			}
			cancel()
			_ = d.lock.Unlock()
			return fmt.Errorf("start %s stage: %w", st.Name(), err)
		}
	}
	if err := d.api.start(runCtx); err != nil {
		for j := len(d.stages) - 1; j >= 0; j-- {
			d.stages[j].Stop()
		}
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("dvetransfer daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("catalog", d.catalogLabel()),
	)
	return nil
}

// Stop stops the stages upstream first and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	for i := len(d.stages) - 1; i >= 0; i-- {
		d.stages[i].Stop()
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("dvetransfer daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.closeStore()
}

func (d *Daemon) closeStore() error {
	if d.store == nil {
		return nil
	}
	err := d.store.Close()
	d.store = nil
	return err
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddress returns the listening address of the control API, or "".
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Metrics returns the daemon metrics collectors.
func (d *Daemon) Metrics() *metrics.Metrics {
	return d.metrics
}

// Stages returns the pipeline stages in startup order.
func (d *Daemon) Stages() []stage.Handler {
	return d.stages
}

// RequestFlush queues a flush of the current batch.
func (d *Daemon) RequestFlush() bool {
	return d.assembler.RequestFlush()
}

// Status returns the current daemon status.
func (d *Daemon) Status() api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		Catalog:      d.catalogLabel(),
		Batch:        api.FromBatchStatus(d.assembler.BatchStatus()),
	}
	for _, st := range d.stages {
		status.Stages = append(status.Stages, api.FromInboxStatus(st.Status()))
	}
	return status
}

// Health reports stage readiness and the local directory checks.
func (d *Daemon) Health(ctx context.Context) api.HealthResponse {
	health := make([]stage.Health, 0, len(d.stages))
	for _, st := range d.stages {
		health = append(health, st.HealthCheck(ctx))
	}
	checks := preflight.CheckMoveChains(d.cfg)
	return api.FromHealth(health, checks)
}

func (d *Daemon) catalogLabel() string {
	if d.store != nil {
		return d.store.Path()
	}
	if !d.cfg.UsesEmbeddedCatalog() {
		return d.cfg.Catalog.URL
	}
	return "in-process"
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}
