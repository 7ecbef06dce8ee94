package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dvetransfer/internal/config"
	"dvetransfer/internal/logging"
	"dvetransfer/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg, "", false)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello from config")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "dvetransfer.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "hello from config") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")
	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without caller", logging.String("dve", "a b.zip"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
	if !strings.Contains(string(content), `dve="a b.zip"`) {
		t.Fatalf("expected quoted attribute, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")
	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "debug",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message with caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestJSONLoggerUsesShortKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("json message", logging.String("k", "v"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &record); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, content)
	}
	if record["level"] != "info" || record["msg"] != "json message" || record["k"] != "v" {
		t.Fatalf("unexpected record %v", record)
	}
	if _, ok := record["ts"]; !ok {
		t.Fatalf("expected ts key in %v", record)
	}
}

func TestNewFromConfigHonoursVerboseStageOverride(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Level = "warn"
	cfg.Logging.StageOverrides = map[string]string{"batching": "debug"}

	root, err := logging.NewFromConfig(&cfg, "", false)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	root.Info("root info")
	logging.ForStage(root, &cfg, "batching").Debug("batching debug")
	logging.ForStage(root, &cfg, "ordering").Info("ordering info")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "dvetransfer.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	text := string(content)
	if !strings.Contains(text, "batching: batching debug") {
		t.Fatalf("expected stage debug line, got %q", text)
	}
	if strings.Contains(text, "root info") || strings.Contains(text, "ordering info") {
		t.Fatalf("expected info lines below warn to be dropped, got %q", text)
	}
}

func TestConsoleLoggerFlattensGroups(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "groups.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.With(logging.String("batch", "b-1")).WithGroup("archive").Info("submitted",
		logging.Group("layer", logging.Int64("bytes", 42)),
	)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	text := string(content)
	for _, want := range []string{"INFO submitted", "batch=b-1", "archive.layer.bytes=42"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in %q", want, text)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestForStageAppliesOverride(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "stage.log")
	base, err := logging.New(logging.Options{Format: "console", Level: "debug", OutputPaths: []string{logPath}, ErrorOutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	cfg := config.Default()
	cfg.Logging.Level = "info"
	cfg.Logging.StageOverrides = map[string]string{"extract": "debug"}

	logging.ForStage(base, &cfg, "extract").Debug("extract debug")
	logging.ForStage(base, &cfg, "order").Debug("order debug")
	logging.ForStage(base, &cfg, "order").Info("order info")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	text := string(content)
	if !strings.Contains(text, "extract debug") {
		t.Fatalf("expected overridden stage debug line, got %q", text)
	}
	if strings.Contains(text, "order debug") {
		t.Fatalf("expected order debug line to be filtered, got %q", text)
	}
	if !strings.Contains(text, "order: order info") {
		t.Fatalf("expected component prefix on order line, got %q", text)
	}
}

type captureHandler struct {
	attrs []slog.Attr
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, record slog.Record) error {
	record.Attrs(func(attr slog.Attr) bool {
		h.attrs = append(h.attrs, attr)
		return true
	})
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.attrs = append(h.attrs, attrs...)
	return h
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func TestWithContextAddsFields(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithItem(ctx, "bag-1.zip")
	ctx = services.WithStage(ctx, "extract")
	ctx = services.WithRequestID(ctx, "req-xyz")

	handler := &captureHandler{}
	logging.WithContext(ctx, slog.New(handler)).Info("contextual log")

	want := map[string]string{
		logging.FieldItem:          "bag-1.zip",
		logging.FieldStage:         "extract",
		logging.FieldCorrelationID: "req-xyz",
	}
	for key, value := range want {
		found := false
		for _, attr := range handler.attrs {
			if attr.Key == key && attr.Value.String() == value {
				found = true
			}
		}
		if !found {
			t.Fatalf("field %s=%s not found in %v", key, value, handler.attrs)
		}
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	handler := &captureHandler{}
	logging.WarnWithContext(slog.New(handler), "degraded", "test_warning")

	keys := map[string]bool{}
	for _, attr := range handler.attrs {
		keys[attr.Key] = true
	}
	for _, key := range []string{logging.FieldEventType, logging.FieldErrorHint, logging.FieldImpact} {
		if !keys[key] {
			t.Fatalf("expected %s attribute, got %v", key, handler.attrs)
		}
	}
}
