package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"dvetransfer/internal/api"
	"dvetransfer/internal/config"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// withAPI runs fn against the control API of the configured daemon.
func (c *commandContext) withAPI(fn func(*api.Client) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	client, err := api.NewClient(cfg.Paths.APIBind, cfg.Paths.APIToken)
	if err != nil {
		return fmt.Errorf("control api address: %w", err)
	}
	if client == nil {
		return errors.New("control API disabled: set paths.api_bind to use this command")
	}
	return wrapAPIError(fn(client), cfg.Paths.APIBind)
}

func wrapAPIError(err error, bind string) error {
	switch {
	case err == nil:
		return nil
	case api.IsAPIUnavailable(err):
		return fmt.Errorf("connect to daemon at %s: not running; start it with `dvetransfer run`", bind)
	default:
		var statusErr *api.StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusUnauthorized {
			return fmt.Errorf("daemon rejected the request: check paths.api_token: %w", err)
		}
		return err
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
