package stage

import (
	"strings"

	"dvetransfer/internal/inbox"
	"dvetransfer/internal/preflight"
)

// Options carries the wiring the daemon supplies to every stage.
type Options struct {
	Observer inbox.Observer
	// StartGate delays the stage's first poll; typically the FirstPoll
	// channel of the downstream stage.
	StartGate <-chan struct{}
}

// Apply copies the options into an inbox configuration.
func (o Options) Apply(cfg *inbox.Config) {
	cfg.Observer = o.Observer
	cfg.StartGate = o.StartGate
}

// CheckDirectories reports the stage unhealthy when any of dirs is not a
// readable, writable directory.
func CheckDirectories(name string, dirs ...string) Health {
	var problems []string
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if result := preflight.CheckDirectoryAccess(name, dir); !result.Passed {
			problems = append(problems, result.Detail)
		}
	}
	if len(problems) > 0 {
		return Unhealthy(name, strings.Join(problems, "; "))
	}
	return Healthy(name)
}
