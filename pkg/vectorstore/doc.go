// Package vectorstore implements the VectorStore primitive: per-run named
// collections of fixed-dimension embeddings with deterministic
// brute-force similarity search.
//
// Unlike every other primitive in this module, VectorStore does not keep
// its state in the shared storage.Substrate. The embedding heap's
// next_id/free_slots bookkeeping and the per-key metadata record are both
// owned entirely by this package; storage.Database only carries the raw
// bytes on its behalf (VectorBlob on open, the extra snapshot section on
// checkpoint) and routes its two reserved record-type ranges
// (0x70-0x7F) into storage.CommittedGroup during recovery instead of
// installing them into the Substrate. Collection lifecycle and vector
// upsert/delete still go through storage.TxnManager so they share one
// commit and one WAL position with every other primitive touched in the
// same transaction; Search never does, since it must not perturb replay.
package vectorstore
