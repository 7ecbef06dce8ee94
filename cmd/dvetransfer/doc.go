// Package main hosts the dvetransfer CLI entrypoint and command graph.
//
// The Cobra command tree runs the daemon in the foreground, talks to a
// running daemon over its HTTP control API (status, flush), and offers
// offline operator tools: replaying failed outboxes, inspecting a DVE,
// querying the version catalog, and checking directories and services.
// Configuration resolution lives here so subcommands stay declarative.
package main
