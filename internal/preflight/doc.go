// Package preflight provides readiness checks for the filesystem paths and
// remote services dvetransfer depends on.
//
// These checks run in two contexts:
//   - The daemon runs them at startup and logs every failure before the
//     stages begin polling, and serves them from /api/health.
//   - The CLI "dvetransfer check" command prints them as a table.
//
// Move chains are checked for device identity: handover between stages is a
// rename, so a chain split across filesystems is a configuration error.
package preflight
