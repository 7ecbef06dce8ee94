// Package catalog keeps the authoritative version lineage of every dataset.
//
// The Reconciler decides, per DVE, whether it starts a new dataset, appends
// the next object version, completes a skeleton version, or replays a version
// that is already known. It talks to a Service, implemented both by an HTTP
// client for a remote catalog and by an embedded SQLite Store. Handler
// exposes a Store over the same HTTP contract the client speaks.
package catalog
