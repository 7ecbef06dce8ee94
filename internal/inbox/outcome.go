package inbox

import (
	"errors"
	"fmt"

	"dvetransfer/internal/services"
)

// Kind tags the routing decision of a task.
type Kind int

const (
	KindProcessed Kind = iota
	KindRejected
	KindFailed
	KindClaimed
)

func (k Kind) String() string {
	switch k {
	case KindProcessed:
		return "processed"
	case KindRejected:
		return "rejected"
	case KindFailed:
		return "failed"
	case KindClaimed:
		return "claimed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Reason is the machine-readable explanation of a rejection.
type Reason struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Outcome is the tagged result of one task.
type Outcome struct {
	Kind Kind
	// Rename optionally changes the file name on the processed move.
	Rename string
	// Target is set when the task already moved the entry itself.
	Target string
	Reason Reason
	Err    error
}

// Processed moves the entry to the processed outbox.
func Processed() Outcome { return Outcome{Kind: KindProcessed} }

// ProcessedAs moves the entry to the processed outbox under a new name.
func ProcessedAs(name string) Outcome { return Outcome{Kind: KindProcessed, Rename: name} }

// Relocated reports a processed entry the task has already moved to target.
func Relocated(target string) Outcome { return Outcome{Kind: KindProcessed, Target: target} }

// Rejected moves the entry to the rejected outbox with a reason sidecar.
func Rejected(code, message string) Outcome {
	return Outcome{Kind: KindRejected, Reason: Reason{Code: code, Message: message}}
}

// Failed moves the entry to the failed outbox with an error sidecar.
func Failed(err error) Outcome {
	if err == nil {
		err = errors.New("task failed without error detail")
	}
	return Outcome{Kind: KindFailed, Err: err}
}

// Claimed tells the engine the task took ownership of the entry.
func Claimed() Outcome { return Outcome{Kind: KindClaimed} }

// coder is implemented by errors that carry a machine-readable code.
type coder interface {
	ErrorCode() string
}

// FromError maps a classified error to an outcome: validation errors are
// rejected, everything else fails. A nil error is processed.
func FromError(err error) Outcome {
	if err == nil {
		return Processed()
	}
	if services.Classify(err) != services.KindValidation {
		return Failed(err)
	}
	code := string(services.KindValidation)
	var withCode coder
	if errors.As(err, &withCode) && withCode.ErrorCode() != "" {
		code = withCode.ErrorCode()
	}
	out := Rejected(code, err.Error())
	out.Err = err
	return out
}
