package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	if err := c.validateThresholds(); err != nil {
		return err
	}
	if err := c.validateServices(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	required := map[string]string{
		"paths.state_dir":    c.Paths.StateDir,
		"paths.log_dir":      c.Paths.LogDir,
		"extract.inbox":      c.Extract.Inbox,
		"extract.failed":     c.Extract.Failed,
		"extract.rejected":   c.Extract.Rejected,
		"order.inbox":        c.Order.Inbox,
		"order.failed":       c.Order.Failed,
		"batch.inbox":        c.Batch.Inbox,
		"batch.work_dir":     c.Batch.WorkDir,
		"batch.processed":    c.Batch.Processed,
		"batch.failed":       c.Batch.Failed,
		"register.inbox":     c.Register.Inbox,
		"register.processed": c.Register.Processed,
		"register.failed":    c.Register.Failed,
		"archive.batch_root": c.Archive.BatchRoot,
	}
	seen := make(map[string]string, len(required))
	for _, key := range sortedKeys(required) {
		value := required[key]
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must be set", key)
		}
		if other, ok := seen[value]; ok {
			return fmt.Errorf("%s and %s must not point at the same directory (%s)", other, key, value)
		}
		seen[value] = key
	}
	return nil
}

func (c *Config) validateStages() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.poll_interval_ms": c.Workflow.PollIntervalMillis,
		"extract.workers":           c.Extract.Workers,
		"order.workers":             c.Order.Workers,
		"batch.workers":             c.Batch.Workers,
		"register.workers":          c.Register.Workers,
	}); err != nil {
		return err
	}
	if c.Extract.Datastation == "" {
		return errors.New("extract.datastation must be set")
	}
	switch c.Order.NbnSource {
	case "metadata", "sidecar":
	default:
		return fmt.Errorf("order.nbn_source: unsupported value %q (expected metadata or sidecar)", c.Order.NbnSource)
	}
	if !strings.Contains(c.Order.LandingPageTemplate, "{nbn}") {
		return errors.New("order.landing_page_template must contain the {nbn} placeholder")
	}
	if c.Order.CleanupGraceSeconds < 0 {
		return errors.New("order.cleanup_grace_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateThresholds() error {
	if c.Batch.MaxItems < 0 {
		return errors.New("batch.max_items must be >= 0")
	}
	if c.Batch.MaxBytes < 0 {
		return errors.New("batch.max_bytes must be >= 0")
	}
	if c.Batch.MaxItems == 0 && c.Batch.MaxBytes == 0 {
		return errors.New("batch.max_items and batch.max_bytes must not both be 0")
	}
	if c.Archive.LayerThresholdBytes <= 0 {
		return errors.New("archive.layer_threshold_bytes must be positive")
	}
	return nil
}

func (c *Config) validateServices() error {
	if err := ensurePositiveMap(map[string]int{
		"catalog.timeout_seconds":  c.Catalog.TimeoutSeconds,
		"archive.timeout_seconds":  c.Archive.TimeoutSeconds,
		"resolver.timeout_seconds": c.Resolver.TimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Resolver.Username != "" && c.Resolver.Password == "" {
		return errors.New("resolver.password must be set when resolver.username is set (or set DVETRANSFER_RESOLVER_PASSWORD)")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for _, key := range sortedKeys(values) {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
