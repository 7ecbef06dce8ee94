package stage

import (
	"context"

	"dvetransfer/internal/inbox"
)

// Handler describes the contract the daemon needs from each pipeline stage.
// Stages embed *inbox.Inbox for everything except HealthCheck.
type Handler interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
	FirstPoll() <-chan struct{}
	Status() inbox.Status
	HealthCheck(ctx context.Context) Health
}
