// Package archive is the client for the archival storage service that
// receives assembled batches. Storage is organized in layers; the assembler
// tracks the size of the top layer and asks the service to open a new one
// when a batch would push it past the configured threshold.
package archive
