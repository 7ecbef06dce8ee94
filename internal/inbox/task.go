package inbox

import "context"

// Task processes one inbox entry.
type Task interface {
	Run(ctx context.Context) Outcome
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context) Outcome

// Run calls f.
func (f TaskFunc) Run(ctx context.Context) Outcome { return f(ctx) }

// Handler hooks into a poll cycle. BeforePoll runs ahead of listing, AfterPoll
// once the cycle's tasks have drained.
type Handler interface {
	BeforePoll(ctx context.Context) error
	AfterPoll(ctx context.Context)
}

// Observer receives per-item and per-cycle events, typically for metrics.
type Observer interface {
	ItemCompleted(stage string, kind Kind)
	PollFailed(stage string)
}
