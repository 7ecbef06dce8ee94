package api

import (
	"time"

	"dvetransfer/internal/batching"
	"dvetransfer/internal/inbox"
	"dvetransfer/internal/preflight"
	"dvetransfer/internal/stage"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// StageStatus summarizes one stage poll loop.
type StageStatus struct {
	Name        string `json:"name"`
	Dir         string `json:"dir"`
	Running     bool   `json:"running"`
	Cycles      int64  `json:"cycles"`
	InFlight    int    `json:"inFlight"`
	Processed   int64  `json:"processed"`
	Rejected    int64  `json:"rejected"`
	Failed      int64  `json:"failed"`
	Claimed     int64  `json:"claimed"`
	PollErrors  int64  `json:"pollErrors"`
	LastError   string `json:"lastError,omitempty"`
	LastErrorAt string `json:"lastErrorAt,omitempty"`
	LastPollAt  string `json:"lastPollAt,omitempty"`
}

// BatchStatus describes the batch currently being assembled.
type BatchStatus struct {
	Name          string `json:"name,omitempty"`
	Items         int    `json:"items"`
	Bytes         int64  `json:"bytes"`
	TopLayerBytes int64  `json:"topLayerBytes"`
	FlushPending  bool   `json:"flushPending"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool          `json:"running"`
	PID          int           `json:"pid"`
	LockFilePath string        `json:"lockFilePath"`
	Catalog      string        `json:"catalog"`
	Stages       []StageStatus `json:"stages"`
	Batch        BatchStatus   `json:"batch"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// CheckResult is one directory or service check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse reports whether the pipeline can make progress.
type HealthResponse struct {
	Ready  bool          `json:"ready"`
	Stages []StageHealth `json:"stages"`
	Checks []CheckResult `json:"checks"`
}

// FlushResponse is returned by POST /api/batch/flush.
type FlushResponse struct {
	Queued  bool   `json:"queued"`
	Message string `json:"message"`
}

// FromInboxStatus converts a stage poll loop snapshot.
func FromInboxStatus(status inbox.Status) StageStatus {
	return StageStatus{
		Name:        status.Name,
		Dir:         status.Dir,
		Running:     status.Running,
		Cycles:      status.Cycles,
		InFlight:    status.InFlight,
		Processed:   status.Processed,
		Rejected:    status.Rejected,
		Failed:      status.Failed,
		Claimed:     status.Claimed,
		PollErrors:  status.PollErrors,
		LastError:   status.LastError,
		LastErrorAt: formatTime(status.LastErrorAt),
		LastPollAt:  formatTime(status.LastPollAt),
	}
}

// FromBatchStatus converts the assembler snapshot.
func FromBatchStatus(status batching.Status) BatchStatus {
	return BatchStatus{
		Name:          status.Batch,
		Items:         status.Items,
		Bytes:         status.Bytes,
		TopLayerBytes: status.TopLayerBytes,
		FlushPending:  status.FlushPending,
	}
}

// FromHealth combines stage readiness with check results. The response is
// ready only when every stage is ready and every check passed.
func FromHealth(stages []stage.Health, checks []preflight.Result) HealthResponse {
	resp := HealthResponse{
		Ready:  true,
		Stages: make([]StageHealth, 0, len(stages)),
		Checks: make([]CheckResult, 0, len(checks)),
	}
	for _, h := range stages {
		resp.Stages = append(resp.Stages, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
		resp.Ready = resp.Ready && h.Ready
	}
	for _, c := range checks {
		resp.Checks = append(resp.Checks, CheckResult{Name: c.Name, Passed: c.Passed, Detail: c.Detail})
		resp.Ready = resp.Ready && c.Passed
	}
	return resp
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
