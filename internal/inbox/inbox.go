package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"dvetransfer/internal/logging"
)

const defaultPollInterval = time.Second

// Outbox names the terminal directories of one stage. Rejected is optional;
// rejections fall back to Failed when it is empty.
type Outbox struct {
	Processed string
	Failed    string
	Rejected  string
}

// Config describes one stage instance.
type Config struct {
	Name         string
	Dir          string
	Filter       func(os.DirEntry) bool
	Order        func(a, b Entry) int
	Factory      func(Entry) Task
	PollInterval time.Duration
	Workers      int
	Outbox       Outbox
	Handler      Handler
	Observer     Observer
	// StartGate delays the first poll until it is closed.
	StartGate <-chan struct{}
}

// Status is a point-in-time view of an Inbox.
type Status struct {
	Name        string    `json:"name"`
	Dir         string    `json:"dir"`
	Running     bool      `json:"running"`
	Cycles      int64     `json:"cycles"`
	InFlight    int       `json:"inFlight"`
	Processed   int64     `json:"processed"`
	Failed      int64     `json:"failed"`
	Rejected    int64     `json:"rejected"`
	Claimed     int64     `json:"claimed"`
	PollErrors  int64     `json:"pollErrors"`
	LastError   string    `json:"lastError,omitempty"`
	LastErrorAt time.Time `json:"lastErrorAt,omitzero"`
	LastPollAt  time.Time `json:"lastPollAt,omitzero"`
}

// Inbox is a running poll loop over one directory.
type Inbox struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	workers  sync.WaitGroup
	jobs     chan job
	inFlight map[string]struct{}
	status   Status

	firstPoll     chan struct{}
	firstPollOnce sync.Once
}

type job struct {
	entry Entry
	done  func()
}

// New validates cfg and builds an Inbox.
func New(cfg Config, logger *slog.Logger) (*Inbox, error) {
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		return nil, errors.New("inbox: name is required")
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("inbox %s: directory is required", cfg.Name)
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("inbox %s: task factory is required", cfg.Name)
	}
	if strings.TrimSpace(cfg.Outbox.Failed) == "" {
		return nil, fmt.Errorf("inbox %s: failed outbox is required", cfg.Name)
	}
	if cfg.Filter == nil {
		cfg.Filter = MatchDVE
	}
	if cfg.Order == nil {
		cfg.Order = ByCreation
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Inbox{
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		inFlight:  make(map[string]struct{}),
		status:    Status{Name: cfg.Name, Dir: cfg.Dir},
		firstPoll: make(chan struct{}),
	}, nil
}

// Name returns the stage name.
func (in *Inbox) Name() string { return in.cfg.Name }

// FirstPoll is closed once the first poll cycle has completed.
func (in *Inbox) FirstPoll() <-chan struct{} { return in.firstPoll }

// Start launches the poll loop and its workers.
func (in *Inbox) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.running {
		return fmt.Errorf("inbox %s already running", in.cfg.Name)
	}
	runCtx, cancel := context.WithCancel(ctx)
	in.cancel = cancel
	in.running = true
	in.status.Running = true
	in.done = make(chan struct{})
	in.jobs = make(chan job)

	in.workers.Add(in.cfg.Workers)
	for i := 0; i < in.cfg.Workers; i++ {
		go in.worker(runCtx, in.jobs)
	}
	go in.run(runCtx, in.done, in.jobs)

	in.logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("dir", in.cfg.Dir),
		logging.Int("workers", in.cfg.Workers),
		logging.Duration("poll_interval", in.cfg.PollInterval),
	)
	return nil
}

// Stop ends the poll loop, lets running tasks finish and waits for them.
// Entries not yet started stay in the inbox.
func (in *Inbox) Stop() {
	in.mu.Lock()
	if !in.running {
		in.mu.Unlock()
		return
	}
	cancel := in.cancel
	done := in.done
	in.running = false
	in.cancel = nil
	in.mu.Unlock()

	cancel()
	<-done
	in.workers.Wait()

	in.mu.Lock()
	in.status.Running = false
	in.mu.Unlock()
	in.logger.Info("stage stopped", logging.String(logging.FieldEventType, "stage_stop"))
}

// Status returns a snapshot of the loop counters.
func (in *Inbox) Status() Status {
	in.mu.Lock()
	defer in.mu.Unlock()
	status := in.status
	status.InFlight = len(in.inFlight)
	return status
}

// PollOnce runs a single cycle synchronously with one worker. It is meant for
// one-shot CLI runs and tests; it must not be used on a started Inbox.
func (in *Inbox) PollOnce(ctx context.Context) {
	jobs := make(chan job)
	in.workers.Add(1)
	go in.worker(ctx, jobs)
	in.cycle(ctx, jobs)
	close(jobs)
	in.workers.Wait()
}

func (in *Inbox) run(ctx context.Context, done chan struct{}, jobs chan job) {
	defer close(done)
	defer close(jobs)

	if gate := in.cfg.StartGate; gate != nil {
		in.logger.Debug("waiting for downstream stage", logging.String(logging.FieldEventType, "stage_gate_wait"))
		select {
		case <-ctx.Done():
			return
		case <-gate:
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}
		in.cycle(ctx, jobs)
		select {
		case <-ctx.Done():
			return
		case <-time.After(in.cfg.PollInterval):
		}
	}
}

func (in *Inbox) cycle(ctx context.Context, jobs chan<- job) {
	defer in.firstPollOnce.Do(func() { close(in.firstPoll) })

	if h := in.cfg.Handler; h != nil {
		if err := h.BeforePoll(ctx); err != nil {
			logging.WarnWithContext(in.logger, "pre-poll handler failed; continuing with poll", "stage_before_poll_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "cleanup for this cycle may be incomplete"),
			)
		}
	}

	entries, err := in.list()
	if err != nil {
		in.recordPollError(err)
	} else {
		in.dispatch(ctx, jobs, entries)
	}

	in.mu.Lock()
	in.status.Cycles++
	in.status.LastPollAt = in.now()
	in.mu.Unlock()

	if h := in.cfg.Handler; h != nil && ctx.Err() == nil {
		h.AfterPoll(ctx)
	}
}

func (in *Inbox) list() ([]Entry, error) {
	dirEntries, err := os.ReadDir(in.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("list inbox %s: %w", in.cfg.Dir, err)
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, d := range dirEntries {
		if !in.cfg.Filter(d) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			// Entry vanished between listing and stat.
			continue
		}
		entries = append(entries, Entry{
			Name:    d.Name(),
			Path:    filepath.Join(in.cfg.Dir, d.Name()),
			IsDir:   d.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	slices.SortStableFunc(entries, in.cfg.Order)
	return entries, nil
}

func (in *Inbox) dispatch(ctx context.Context, jobs chan<- job, entries []Entry) {
	var wg sync.WaitGroup
	for _, entry := range entries {
		if !in.claim(entry.Name) {
			continue
		}
		wg.Add(1)
		j := job{entry: entry, done: wg.Done}
		select {
		case jobs <- j:
		case <-ctx.Done():
			in.release(entry.Name)
			wg.Done()
			wg.Wait()
			return
		}
	}
	wg.Wait()
}

func (in *Inbox) claim(name string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, busy := in.inFlight[name]; busy {
		return false
	}
	in.inFlight[name] = struct{}{}
	return true
}

func (in *Inbox) release(name string) {
	in.mu.Lock()
	delete(in.inFlight, name)
	in.mu.Unlock()
}

func (in *Inbox) recordPollError(err error) {
	in.mu.Lock()
	in.status.PollErrors++
	in.status.LastError = err.Error()
	in.status.LastErrorAt = in.now()
	in.mu.Unlock()
	if in.cfg.Observer != nil {
		in.cfg.Observer.PollFailed(in.cfg.Name)
	}
	in.logger.Error("inbox poll failed; retrying next cycle",
		logging.Error(err),
		logging.String(logging.FieldEventType, "stage_poll_failed"),
		logging.String(logging.FieldErrorHint, "check that the inbox directory exists and is readable"),
	)
}

func (in *Inbox) recordError(err error) {
	in.mu.Lock()
	in.status.LastError = err.Error()
	in.status.LastErrorAt = in.now()
	in.mu.Unlock()
}

func (in *Inbox) count(kind Kind) {
	in.mu.Lock()
	switch kind {
	case KindProcessed:
		in.status.Processed++
	case KindRejected:
		in.status.Rejected++
	case KindFailed:
		in.status.Failed++
	case KindClaimed:
		in.status.Claimed++
	}
	in.mu.Unlock()
	if in.cfg.Observer != nil {
		in.cfg.Observer.ItemCompleted(in.cfg.Name, kind)
	}
}
