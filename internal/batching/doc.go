// Package batching implements the batch/layer assembler.
//
// Arriving DVEs are unpacked into the current batch under
// <work>/batches/<batch>/<nbn>/v<N>/ and the export itself is held under
// <work>/held/<batch>/ until the batch outcome is known. A batch is flushed
// when it reaches batch.max_items or batch.max_bytes (inclusive), or on
// request. Flushing moves the batch into the archive batch root and asks the
// archive to import it, opening a new layer first when the batch would push
// the top layer past archive.layer_threshold_bytes.
//
// All state lives in one struct guarded by a mutex and is rebuilt from the
// work directory when the assembler is created.
package batching
