// Package logging assembles structured slog loggers and formatting helpers used
// across dvetransfer.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so stage code tags log lines with the
// inbox entry, stage and correlation ID. Per-stage level overrides are applied
// through ForStage. A no-op logger is provided for tests and wiring code.
package logging
