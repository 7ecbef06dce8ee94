package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStages()
	c.normalizeServices()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	fields := []struct {
		key   string
		value *string
	}{
		{"paths.state_dir", &c.Paths.StateDir},
		{"paths.log_dir", &c.Paths.LogDir},
		{"extract.inbox", &c.Extract.Inbox},
		{"extract.failed", &c.Extract.Failed},
		{"extract.rejected", &c.Extract.Rejected},
		{"order.inbox", &c.Order.Inbox},
		{"order.failed", &c.Order.Failed},
		{"batch.inbox", &c.Batch.Inbox},
		{"batch.work_dir", &c.Batch.WorkDir},
		{"batch.processed", &c.Batch.Processed},
		{"batch.failed", &c.Batch.Failed},
		{"register.inbox", &c.Register.Inbox},
		{"register.processed", &c.Register.Processed},
		{"register.failed", &c.Register.Failed},
		{"archive.batch_root", &c.Archive.BatchRoot},
	}
	for _, field := range fields {
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeStages() {
	c.Extract.Datastation = strings.TrimSpace(c.Extract.Datastation)
	c.Order.NbnSource = strings.ToLower(strings.TrimSpace(c.Order.NbnSource))
	if c.Order.NbnSource == "" {
		c.Order.NbnSource = defaultNbnSource
	}
	c.Order.LandingPageTemplate = strings.TrimSpace(c.Order.LandingPageTemplate)
}

func (c *Config) normalizeServices() {
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("DVETRANSFER_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	c.Catalog.URL = strings.TrimRight(strings.TrimSpace(c.Catalog.URL), "/")
	if c.Catalog.Token == "" {
		if value, ok := os.LookupEnv("DVETRANSFER_CATALOG_TOKEN"); ok {
			c.Catalog.Token = strings.TrimSpace(value)
		}
	}
	c.Archive.URL = strings.TrimRight(strings.TrimSpace(c.Archive.URL), "/")
	c.Resolver.URL = strings.TrimRight(strings.TrimSpace(c.Resolver.URL), "/")
	c.Resolver.Username = strings.TrimSpace(c.Resolver.Username)
	if c.Resolver.Password == "" {
		if value, ok := os.LookupEnv("DVETRANSFER_RESOLVER_PASSWORD"); ok {
			c.Resolver.Password = value
		}
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "text", "pretty":
		c.Logging.Format = "console"
	case "json":
		c.Logging.Format = "json"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}
