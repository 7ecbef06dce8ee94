package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"dvetransfer/internal/config"
)

func TestLoadDefaultConfigExpandsPathsAndReadsEnvSecrets(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("DVETRANSFER_CATALOG_TOKEN", "catalog-token")
	t.Setenv("DVETRANSFER_RESOLVER_PASSWORD", "secret")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantInbox := filepath.Join(tempHome, ".local", "share", "dvetransfer", "extract", "inbox")
	if cfg.Extract.Inbox != wantInbox {
		t.Fatalf("unexpected extract inbox: got %q want %q", cfg.Extract.Inbox, wantInbox)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7488" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Extract.Workers != 1 {
		t.Fatalf("expected one extract worker by default, got %d", cfg.Extract.Workers)
	}
	if cfg.Catalog.Token != "catalog-token" {
		t.Fatalf("expected catalog token from env, got %q", cfg.Catalog.Token)
	}
	if cfg.Resolver.Password != "secret" {
		t.Fatalf("expected resolver password from env, got %q", cfg.Resolver.Password)
	}
	if !cfg.UsesEmbeddedCatalog() {
		t.Fatal("expected embedded catalog when catalog.url is empty")
	}
	if cfg.CatalogDatabasePath() != filepath.Join(cfg.Paths.StateDir, "catalog.db") {
		t.Fatalf("unexpected catalog database path %q", cfg.CatalogDatabasePath())
	}
	if cfg.PollInterval().Milliseconds() != 1000 {
		t.Fatalf("unexpected poll interval %s", cfg.PollInterval())
	}
	if cfg.Order.NbnSource != "metadata" {
		t.Fatalf("unexpected nbn source %q", cfg.Order.NbnSource)
	}
}

func TestLoadCustomConfigOverrides(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
state_dir = "~/state"

[order]
nbn_source = "SIDECAR"
landing_page_template = "https://example.org/ds/{nbn}"

[batch]
max_items = 0
max_bytes = 2048

[archive]
url = "http://archive.local/"

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if cfg.Paths.StateDir != filepath.Join(tempHome, "state") {
		t.Fatalf("unexpected state dir %q", cfg.Paths.StateDir)
	}
	if cfg.Order.NbnSource != "sidecar" {
		t.Fatalf("expected nbn source to be lower-cased, got %q", cfg.Order.NbnSource)
	}
	if cfg.Batch.MaxItems != 0 || cfg.Batch.MaxBytes != 2048 {
		t.Fatalf("unexpected batch thresholds: %+v", cfg.Batch)
	}
	if cfg.Archive.URL != "http://archive.local" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Archive.URL)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[extract]\nunknown_key = 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidateRejectsInvalidValues(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero workers", func(c *config.Config) { c.Extract.Workers = 0 }, "extract.workers"},
		{"unknown nbn source", func(c *config.Config) { c.Order.NbnSource = "dns" }, "order.nbn_source"},
		{"template without placeholder", func(c *config.Config) { c.Order.LandingPageTemplate = "https://x/" }, "{nbn}"},
		{"no batch criterion", func(c *config.Config) { c.Batch.MaxItems = 0; c.Batch.MaxBytes = 0 }, "must not both be 0"},
		{"negative max bytes", func(c *config.Config) { c.Batch.MaxBytes = -1 }, "batch.max_bytes"},
		{"zero layer threshold", func(c *config.Config) { c.Archive.LayerThresholdBytes = 0 }, "layer_threshold_bytes"},
		{"shared directory", func(c *config.Config) { c.Order.Failed = c.Extract.Failed }, "same directory"},
		{"username without password", func(c *config.Config) { c.Resolver.Username = "admin" }, "resolver.password"},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestSampleConfigParsesAndValidates(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("sample config is not valid TOML: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if cfg.Archive.URL == "" {
		t.Fatal("expected sample to configure an archive url")
	}
}

func TestMoveChainsIncludeNextStageInbox(t *testing.T) {
	cfg := config.Default()
	chains := cfg.MoveChains()
	extract := chains["extract"]
	if extract[len(extract)-1] != cfg.Order.Inbox {
		t.Fatalf("extract chain should end with the order inbox: %v", extract)
	}
	found := false
	for _, dir := range chains["batch"] {
		if dir == cfg.Archive.BatchRoot {
			found = true
		}
	}
	if !found {
		t.Fatalf("batch chain should include the archive batch root: %v", chains["batch"])
	}
}

func TestEnsureDirectoriesCreatesPipeline(t *testing.T) {
	base := t.TempDir()
	t.Setenv("HOME", base)
	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range cfg.PipelineDirectories() {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
	}
}
