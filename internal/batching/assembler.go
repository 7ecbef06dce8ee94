package batching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"dvetransfer/internal/archive"
	"dvetransfer/internal/config"
	"dvetransfer/internal/dve"
	"dvetransfer/internal/fileutil"
	"dvetransfer/internal/inbox"
	"dvetransfer/internal/logging"
	"dvetransfer/internal/metadata"
	"dvetransfer/internal/nbn"
	"dvetransfer/internal/services"
	"dvetransfer/internal/stage"
)

// Name is the stage name used in logs, sidecars and metrics.
const Name = "batching"

const (
	batchesDir = "batches"
	heldDir    = "held"
)

// unknownLayerSize marks the cached top-layer size as stale.
const unknownLayerSize int64 = -1

// Observer receives batch lifecycle events, typically for metrics.
type Observer interface {
	BatchFlushed(items int, bytes int64, err error)
	LayerCreated()
}

// Status is a point-in-time view of the current batch.
type Status struct {
	Batch         string `json:"batch,omitempty"`
	Items         int    `json:"items"`
	Bytes         int64  `json:"bytes"`
	TopLayerBytes int64  `json:"topLayerBytes"`
	FlushPending  bool   `json:"flushPending"`
}

// item is one DVE in the current batch.
type item struct {
	held    string // path under <work>/held/<batch>/
	content string // path under <work>/batches/<batch>/
	bytes   int64
}

type state struct {
	name     string
	items    map[string]item // keyed by <sanitized nbn>/v<N>
	bytes    int64
	topLayer int64
}

// Assembler is the batch/layer assembler stage.
type Assembler struct {
	*inbox.Inbox

	cfg      *config.Config
	archive  archive.Service
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	mu sync.Mutex
	st state

	flushRequests chan struct{}
}

var _ stage.Handler = (*Assembler)(nil)

// New builds the assembler over cfg.Batch.Inbox and rebuilds its state from
// cfg.Batch.WorkDir. observer may be nil.
func New(cfg *config.Config, svc archive.Service, observer Observer, logger *slog.Logger, opts stage.Options) (*Assembler, error) {
	a := &Assembler{
		cfg:           cfg,
		archive:       svc,
		observer:      observer,
		logger:        logging.ForStage(logger, cfg, Name),
		now:           time.Now,
		flushRequests: make(chan struct{}, 1),
		st:            state{items: make(map[string]item), topLayer: unknownLayerSize},
	}
	inboxCfg := inbox.Config{
		Name:         Name,
		Dir:          cfg.Batch.Inbox,
		Factory:      a.task,
		PollInterval: cfg.PollInterval(),
		Workers:      cfg.Batch.Workers,
		Outbox: inbox.Outbox{
			Processed: cfg.Batch.Processed,
			Failed:    cfg.Batch.Failed,
		},
		Handler: a,
	}
	opts.Apply(&inboxCfg)
	in, err := inbox.New(inboxCfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.Inbox = in
	if err := a.rebuild(context.Background()); err != nil {
		return nil, fmt.Errorf("rebuild batch state: %w", err)
	}
	return a, nil
}

// HealthCheck verifies the stage directories and the archive batch root.
func (a *Assembler) HealthCheck(context.Context) stage.Health {
	return stage.CheckDirectories(Name, a.cfg.Batch.Inbox, a.cfg.Batch.WorkDir, a.cfg.Batch.Processed, a.cfg.Batch.Failed, a.cfg.Archive.BatchRoot)
}

// RequestFlush queues a flush of the current batch for the next poll cycle.
// Requests coalesce; it reports false when one was already pending.
func (a *Assembler) RequestFlush() bool {
	select {
	case a.flushRequests <- struct{}{}:
		return true
	default:
		return false
	}
}

// BatchStatus reports the current batch.
func (a *Assembler) BatchStatus() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		Batch:         a.st.name,
		Items:         len(a.st.items),
		Bytes:         a.st.bytes,
		TopLayerBytes: a.st.topLayer,
		FlushPending:  len(a.flushRequests) > 0,
	}
}

// BeforePoll is a no-op.
func (a *Assembler) BeforePoll(context.Context) error { return nil }

// AfterPoll executes a pending flush request.
func (a *Assembler) AfterPoll(ctx context.Context) {
	select {
	case <-a.flushRequests:
	default:
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.st.items) == 0 {
		a.logger.Debug("flush requested for empty batch",
			logging.String(logging.FieldEventType, "batch_flush_skipped"),
		)
		return
	}
	_ = a.flushLocked(context.WithoutCancel(ctx), "requested")
}

func (a *Assembler) task(entry inbox.Entry) inbox.Task {
	return inbox.TaskFunc(func(ctx context.Context) inbox.Outcome {
		return a.arrive(ctx, entry)
	})
}

func (a *Assembler) arrive(ctx context.Context, entry inbox.Entry) inbox.Outcome {
	logger := logging.WithContext(ctx, a.logger)

	d, err := dve.Stat(entry.Path)
	if err != nil {
		return inbox.Failed(services.Wrap(services.ErrTransient, Name, "stat dve", "DVE vanished or is unreadable", err))
	}
	rec, err := metadata.Extract(d)
	if err != nil {
		return inbox.Failed(err)
	}
	if rec.ObjectVersion <= 0 {
		return inbox.Failed(services.Wrap(services.ErrValidation, Name, "read version", "DVE name carries no object version; it bypassed extraction", nil))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.ensureBatchLocked()
	key := itemKey(rec.NBN, rec.ObjectVersion)
	if existing, ok := a.st.items[key]; ok {
		return inbox.Failed(services.Wrap(services.ErrConsistency, Name, "add to batch",
			fmt.Sprintf("%s v%d is already in batch %s as %s", rec.NBN, rec.ObjectVersion, a.st.name, filepath.Base(existing.held)), nil))
	}

	contentDir := filepath.Join(a.batchDir(a.st.name), filepath.FromSlash(key))
	// Content without a held DVE is left over from an interrupted arrival.
	if err := os.RemoveAll(contentDir); err != nil {
		return inbox.Failed(services.Wrap(services.ErrTransient, Name, "add to batch", "stale batch content could not be removed", err))
	}
	bag, err := d.Open()
	if err != nil {
		return inbox.Failed(services.Wrap(services.ErrTransient, Name, "open dve", "DVE could not be opened", err))
	}
	size, err := bag.ExtractTo(contentDir)
	_ = bag.Close()
	if err != nil {
		_ = os.RemoveAll(contentDir)
		return inbox.Failed(services.Wrap(services.ErrTransient, Name, "extract dve", "DVE content could not be copied into the batch", err))
	}

	held := filepath.Join(a.heldDir(a.st.name), d.Name)
	if err := fileutil.Move(entry.Path, held); err != nil {
		_ = os.RemoveAll(contentDir)
		return inbox.Failed(services.Wrap(services.ErrTransient, Name, "hold dve", "DVE could not be moved into the work directory", err))
	}

	a.st.items[key] = item{held: held, content: contentDir, bytes: size}
	a.st.bytes += size
	logger.Info("dve added to batch",
		logging.String(logging.FieldEventType, "batch_item_added"),
		logging.String(logging.FieldNbn, rec.NBN),
		logging.String(logging.FieldBatch, a.st.name),
		logging.Int("object_version", rec.ObjectVersion),
		logging.Int64("bytes", size),
		logging.Int("batch_items", len(a.st.items)),
		logging.Int64("batch_bytes", a.st.bytes),
	)

	if a.thresholdReachedLocked() {
		_ = a.flushLocked(context.WithoutCancel(ctx), "threshold")
	}
	return inbox.Claimed()
}

func (a *Assembler) thresholdReachedLocked() bool {
	if max := a.cfg.Batch.MaxItems; max > 0 && len(a.st.items) >= max {
		return true
	}
	if max := a.cfg.Batch.MaxBytes; max > 0 && a.st.bytes >= max {
		return true
	}
	return false
}

func (a *Assembler) ensureBatchLocked() {
	if a.st.name != "" {
		return
	}
	a.st.name = newBatchName(a.now())
	a.st.items = make(map[string]item)
	a.st.bytes = 0
}

func (a *Assembler) resetLocked() {
	a.st.name = ""
	a.st.items = make(map[string]item)
	a.st.bytes = 0
}

func (a *Assembler) batchDir(name string) string {
	return filepath.Join(a.cfg.Batch.WorkDir, batchesDir, name)
}

func (a *Assembler) heldDir(name string) string {
	return filepath.Join(a.cfg.Batch.WorkDir, heldDir, name)
}

func newBatchName(now time.Time) string {
	return "batch-" + now.UTC().Format("20060102T150405") + "-" + uuid.NewString()
}

func itemKey(id string, version int) string {
	return nbn.Sanitize(id) + "/v" + strconv.Itoa(version)
}

func removeIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) == 0 {
		_ = os.Remove(dir)
	}
}

var errNoArchive = errors.New("no archive client configured")
