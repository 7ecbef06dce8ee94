package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"dvetransfer/internal/config"
	"dvetransfer/internal/daemon"
	"dvetransfer/internal/logging"
	"dvetransfer/internal/testsupport"
)

type nopArchive struct{}

func (nopArchive) Import(context.Context, string) error { return nil }
func (nopArchive) CreateLayer(context.Context) error { return nil }
func (nopArchive) TopLayerSize(context.Context) (int64, error) { return 0, nil }

type nopResolver struct{}

func (nopResolver) Register(context.Context, string, ...string) error { return nil }

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	configPath string
}

// setupCLITestEnv writes a config file for a fresh pipeline tree. With
// startDaemon the daemon runs in-process and the file points at its API.
func setupCLITestEnv(t *testing.T, startDaemon bool) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t)
	env := &cliTestEnv{
		cfg:        cfg,
		configPath: filepath.Join(testsupport.BaseDir(cfg), "config.toml"),
	}

	fileCfg := *cfg
	fileCfg.Paths.APIBind = "127.0.0.1:1"
	if startDaemon {
		if err := os.MkdirAll(cfg.Archive.BatchRoot, 0o755); err != nil {
			t.Fatalf("mkdir batch root: %v", err)
		}
		d, err := daemon.New(cfg, logging.NewNop(), daemon.Services{Archive: nopArchive{}, Resolver: nopResolver{}})
		if err != nil {
			t.Fatalf("daemon.New: %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		if err := d.Start(ctx); err != nil {
			cancel()
			t.Fatalf("daemon.Start: %v", err)
		}
		t.Cleanup(func() {
			cancel()
			d.Close()
		})
		env.daemon = d
		fileCfg.Paths.APIBind = d.APIAddress()
	}
	writeTestConfig(t, env.configPath, &fileCfg)
	return env
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
