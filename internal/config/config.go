package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains state directories and the bind address of the control API.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	// APIToken, when set, is required as a bearer token on the control API.
	APIToken string `toml:"api_token"`
}

// Workflow contains stage engine timing.
type Workflow struct {
	PollIntervalMillis int `toml:"poll_interval_ms"`
}

// Extract configures the metadata extraction stage.
type Extract struct {
	Inbox       string `toml:"inbox"`
	Failed      string `toml:"failed"`
	Rejected    string `toml:"rejected"`
	Workers     int    `toml:"workers"`
	Datastation string `toml:"datastation"`
}

// Order configures the single-worker ordering and cleanup stage.
type Order struct {
	Inbox               string `toml:"inbox"`
	Failed              string `toml:"failed"`
	Workers             int    `toml:"workers"`
	NbnSource           string `toml:"nbn_source"`
	LandingPageTemplate string `toml:"landing_page_template"`
	CleanupGraceSeconds int    `toml:"cleanup_grace_seconds"`
}

// Batch configures the batch/layer assembler.
type Batch struct {
	Inbox     string `toml:"inbox"`
	WorkDir   string `toml:"work_dir"`
	Processed string `toml:"processed"`
	Failed    string `toml:"failed"`
	Workers   int    `toml:"workers"`
	MaxItems  int    `toml:"max_items"`
	MaxBytes  int64  `toml:"max_bytes"`
}

// Register configures the identifier registrar.
type Register struct {
	Inbox     string `toml:"inbox"`
	Processed string `toml:"processed"`
	Failed    string `toml:"failed"`
	Workers   int    `toml:"workers"`
}

// Catalog contains configuration for the version catalog. An empty URL
// selects the embedded SQLite catalog stored under paths.state_dir.
type Catalog struct {
	URL            string `toml:"url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Archive contains configuration for the archival storage service.
type Archive struct {
	URL                 string `toml:"url"`
	BatchRoot           string `toml:"batch_root"`
	LayerThresholdBytes int64  `toml:"layer_threshold_bytes"`
	TimeoutSeconds      int    `toml:"timeout_seconds"`
}

// Resolver contains configuration for the persistent identifier resolver.
type Resolver struct {
	URL            string `toml:"url"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format         string            `toml:"format"`
	Level          string            `toml:"level"`
	StageOverrides map[string]string `toml:"stage_overrides"`
}

// Metrics toggles the Prometheus endpoint on the control API.
type Metrics struct {
	Enabled bool `toml:"enabled"`
}

// Config encapsulates all configuration values for dvetransfer.
//
// Configuration sections by subsystem:
//   - Paths: state/log directories and API bind address
//   - Workflow: stage engine poll interval
//   - Extract, Order, Batch, Register: inbox/outbox chain per stage
//   - Catalog, Archive, Resolver: remote service endpoints
//   - Logging: log format and level
//   - Metrics: Prometheus endpoint toggle
type Config struct {
	Paths    Paths    `toml:"paths"`
	Workflow Workflow `toml:"workflow"`
	Extract  Extract  `toml:"extract"`
	Order    Order    `toml:"order"`
	Batch    Batch    `toml:"batch"`
	Register Register `toml:"register"`
	Catalog  Catalog  `toml:"catalog"`
	Archive  Archive  `toml:"archive"`
	Resolver Resolver `toml:"resolver"`
	Logging  Logging  `toml:"logging"`
	Metrics  Metrics  `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("dvetransfer.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates every directory of the pipeline chain. The archive
// batch root is owned by the archive service and is not created here.
func (c *Config) EnsureDirectories() error {
	for _, dir := range c.PipelineDirectories() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// PipelineDirectories lists the state, inbox and outbox directories in a stable order.
func (c *Config) PipelineDirectories() []string {
	dirs := []string{
		c.Paths.StateDir,
		c.Paths.LogDir,
		c.Extract.Inbox,
		c.Extract.Failed,
		c.Extract.Rejected,
		c.Order.Inbox,
		c.Order.Failed,
		c.Batch.Inbox,
		c.Batch.WorkDir,
		c.Batch.Processed,
		c.Batch.Failed,
		c.Register.Inbox,
		c.Register.Processed,
		c.Register.Failed,
	}
	out := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if strings.TrimSpace(dir) != "" {
			out = append(out, dir)
		}
	}
	return out
}

// MoveChains groups directories that participate in one atomic rename chain
// and therefore must share a filesystem.
func (c *Config) MoveChains() map[string][]string {
	return map[string][]string{
		"extract":  {c.Extract.Inbox, c.Extract.Failed, c.Extract.Rejected, c.Order.Inbox},
		"order":    {c.Order.Inbox, c.Order.Failed, c.Batch.Inbox, c.Register.Inbox},
		"batch":    {c.Batch.Inbox, c.Batch.WorkDir, c.Batch.Processed, c.Batch.Failed, c.Archive.BatchRoot},
		"register": {c.Register.Inbox, c.Register.Processed, c.Register.Failed},
	}
}

// PollInterval returns the stage engine sleep between poll cycles.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.PollIntervalMillis) * time.Millisecond
}

// CleanupGrace returns the minimum age of stray files before the ordering
// stage removes them.
func (c *Config) CleanupGrace() time.Duration {
	return time.Duration(c.Order.CleanupGraceSeconds) * time.Second
}

// CatalogDatabasePath returns the embedded catalog database location.
func (c *Config) CatalogDatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "catalog.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "dvetransfer.lock")
}

// UsesEmbeddedCatalog reports whether the SQLite catalog replaces the remote service.
func (c *Config) UsesEmbeddedCatalog() bool {
	return strings.TrimSpace(c.Catalog.URL) == ""
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
