// Package services defines shared utilities consumed by the pipeline stages
// and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp DVE names, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent outbox routing (rejected vs failed).
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// classification, observability) stays uniform across the pipeline.
package services
