// Package daemon coordinates the long-running dvetransfer process.
//
// It wires configuration, the catalog, the archive and resolver clients and
// the four pipeline stages into a single lifecycle with flock-based locking to
// prevent multiple instances. Stages start downstream first: the registrar,
// then the batch assembler, ordering and extraction, each waiting for the
// first completed poll of the stage it feeds. The daemon also serves the
// control API (status, health, batch flush, metrics) and, when the catalog is
// embedded, the catalog REST surface under /catalog/.
//
// Keep orchestration logic here: stage behaviour lives in the stage packages
// while the daemon focuses on startup, shutdown, and high level coordination.
package daemon
