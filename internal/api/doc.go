// Package api defines the wire-format types of the daemon control API and a
// small HTTP client used by the CLI.
//
// # Key Types
//
// DaemonStatus: daemon running state, per-stage poll counters and the current
// batch.
//
// HealthResponse: stage readiness plus the directory and service checks.
//
// FlushResponse: result of queuing a batch flush.
//
// # Converters
//
// FromInboxStatus, FromBatchStatus and FromHealth translate internal status
// values into DTOs so API consumers never depend on internal packages.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds and
// are omitted when zero.
package api
