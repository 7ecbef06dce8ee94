package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dvetransfer/internal/config"
	"dvetransfer/internal/logs"
)

// Options describes logger construction parameters. Output paths accept
// "stdout", "stderr" or a file path; duplicates are written once.
type Options struct {
	Level            string
	Format           string
	OutputPaths      []string
	ErrorOutputPaths []string
	Development      bool
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	level := new(slog.LevelVar)
	level.Set(parseLevel(opts.Level))

	paths := append(append([]string{}, opts.OutputPaths...), opts.ErrorOutputPaths...)
	if len(paths) == 0 {
		paths = []string{"stdout"}
	}
	w, err := openWriters(paths)
	if err != nil {
		return nil, err
	}

	addSource := opts.Development || level.Level() <= slog.LevelDebug
	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "", "console":
		return slog.New(newConsoleHandler(w, level, addSource)), nil
	case "json":
		return slog.New(newJSONHandler(w, level, addSource)), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// NewFromConfig builds the daemon logger: stdout plus the daemon log file in
// paths.log_dir. A non-empty level replaces logging.level. The handler runs
// at the most verbose of that level and the stage overrides so ForStage can
// narrow it per stage.
func NewFromConfig(cfg *config.Config, level string, development bool) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: level, Development: development})
	}
	global := cfg.Logging.Level
	if strings.TrimSpace(level) != "" {
		global = level
	}
	outputs := []string{"stdout"}
	if cfg.Paths.LogDir != "" {
		outputs = append(outputs, logs.Path(cfg.Paths.LogDir))
	}
	logger, err := New(Options{
		Level:       mostVerbose(global, cfg.Logging.StageOverrides),
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
		Development: development,
	})
	if err != nil {
		return nil, err
	}
	return WithMinLevel(logger, parseLevel(global)), nil
}

// ForStage returns the logger for one pipeline stage, tagged with the stage
// name and honouring logging.stage_overrides. Without an override the stage
// logs at the global level.
func ForStage(logger *slog.Logger, cfg *config.Config, stage string) *slog.Logger {
	logger = NewComponentLogger(logger, stage).With(String(FieldStage, stage))
	if cfg == nil {
		return logger
	}
	level := cfg.Logging.Level
	if override := strings.TrimSpace(cfg.Logging.StageOverrides[stage]); override != "" {
		level = override
	}
	return WithMinLevel(logger, parseLevel(level))
}

func openWriters(paths []string) (io.Writer, error) {
	seen := make(map[string]bool, len(paths))
	var writers []io.Writer
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		switch path {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", path, err)
			}
			writers = append(writers, file)
		}
	}
	switch len(writers) {
	case 0:
		return os.Stdout, nil
	case 1:
		return writers[0], nil
	default:
		return io.MultiWriter(writers...), nil
	}
}

// newJSONHandler emits ts/level/msg keys with UTC second-precision times.
func newJSONHandler(w io.Writer, level slog.Leveler, addSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: addSource,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return attr
			}
			switch attr.Key {
			case slog.TimeKey:
				attr.Key = "ts"
				if attr.Value.Kind() == slog.KindTime {
					attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339))
				}
			case slog.LevelKey:
				attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
			case slog.SourceKey:
				if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
					attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
			}
			return attr
		},
	})
}
