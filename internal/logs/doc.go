// Package logs reads the daemon log file for the `dvetransfer logs` command.
//
// It returns the last N lines with bounded memory, continues from a byte
// offset, and follows the file while the daemon appends to it. A file that
// shrank below the saved offset (rotation or truncation) is read again from
// the start.
package logs
