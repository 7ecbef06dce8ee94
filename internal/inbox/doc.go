// Package inbox implements the poll/dispatch loop shared by every pipeline
// stage.
//
// An Inbox lists its directory, filters and sorts the entries, and submits one
// Task per entry to a FIFO worker pool. Each task returns an Outcome and the
// engine performs the outbox move for it: processed, rejected (with a reason
// sidecar), failed (with an error sidecar) or claimed by the task itself.
// Submission order follows the configured comparator; completion order is
// only guaranteed with a single worker. The loop waits for a cycle to drain
// before it sleeps, never resubmits an entry that is still in flight, and
// survives panics and listing errors.
//
// Start-up sequencing is explicit: a stage may wait on a StartGate channel,
// and every Inbox closes its FirstPoll channel once its first cycle finished.
package inbox
