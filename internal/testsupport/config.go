package testsupport

import (
	"path/filepath"
	"testing"

	"dvetransfer/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config whose every stage directory lives under one
// unique temp directory. Directories are created before it returns.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	join := func(parts ...string) string { return filepath.Join(append([]string{base}, parts...)...) }

	cfgVal.Paths.StateDir = join("state")
	cfgVal.Paths.LogDir = join("logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Workflow.PollIntervalMillis = 10
	cfgVal.Extract.Inbox = join("extract", "inbox")
	cfgVal.Extract.Failed = join("extract", "failed")
	cfgVal.Extract.Rejected = join("extract", "rejected")
	cfgVal.Order.Inbox = join("order", "inbox")
	cfgVal.Order.Failed = join("order", "failed")
	cfgVal.Order.CleanupGraceSeconds = 0
	cfgVal.Batch.Inbox = join("batch", "inbox")
	cfgVal.Batch.WorkDir = join("batch", "work")
	cfgVal.Batch.Processed = join("batch", "processed")
	cfgVal.Batch.Failed = join("batch", "failed")
	cfgVal.Register.Inbox = join("register", "inbox")
	cfgVal.Register.Processed = join("register", "processed")
	cfgVal.Register.Failed = join("register", "failed")
	cfgVal.Archive.BatchRoot = join("archive", "batches")
	cfgVal.Archive.URL = "http://127.0.0.1:1"
	cfgVal.Resolver.URL = "http://127.0.0.1:1"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithBatchLimits sets the batch flush thresholds and the layer threshold.
func WithBatchLimits(maxItems int, maxBytes, layerThreshold int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Batch.MaxItems = maxItems
		b.cfg.Batch.MaxBytes = maxBytes
		b.cfg.Archive.LayerThresholdBytes = layerThreshold
	}
}

// WithNbnSource selects where the ordering stage reads identifiers from.
func WithNbnSource(source string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Order.NbnSource = source
	}
}

// WithServiceURLs points the remote clients at test servers.
func WithServiceURLs(archiveURL, resolverURL, catalogURL string) ConfigOption {
	return func(b *configBuilder) {
		if archiveURL != "" {
			b.cfg.Archive.URL = archiveURL
		}
		if resolverURL != "" {
			b.cfg.Resolver.URL = resolverURL
		}
		b.cfg.Catalog.URL = catalogURL
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
